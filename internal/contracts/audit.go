package contracts

import (
	"fmt"
	"time"
)

// AuditCheck is one named pass/fail rule outcome.
type AuditCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// AuditReport is the outcome of a gate. Passed is the AND of all checks.
type AuditReport struct {
	SpecID    string       `json:"spec_id"`
	Checks    []AuditCheck `json:"checks"`
	Passed    bool         `json:"passed"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewAuditReport starts an empty, passing report.
func NewAuditReport(specID string) *AuditReport {
	return &AuditReport{SpecID: specID, Passed: true, CreatedAt: time.Now().UTC()}
}

// Add records a check and folds it into Passed.
func (r *AuditReport) Add(name string, passed bool, format string, args ...interface{}) {
	r.Checks = append(r.Checks, AuditCheck{Name: name, Passed: passed, Message: fmt.Sprintf(format, args...)})
	r.Passed = r.Passed && passed
}

// Check returns the named check.
func (r *AuditReport) Check(name string) (AuditCheck, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return AuditCheck{}, false
}

// Failed returns the failing checks.
func (r *AuditReport) Failed() []AuditCheck {
	var failed []AuditCheck
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// RiskViolation is one broken hard limit.
type RiskViolation struct {
	Rule    string  `json:"rule"`
	Limit   float64 `json:"limit"`
	Actual  float64 `json:"actual"`
	Message string  `json:"message"`
}

func (v RiskViolation) String() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Message)
}
