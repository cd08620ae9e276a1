package contracts

import "time"

// ComparisonReport is live-vs-expected drift for one deployment.
type ComparisonReport struct {
	DeploymentID         string    `json:"deployment_id"`
	SnapshotCount        int       `json:"snapshot_count"`
	DaysElapsed          float64   `json:"days_elapsed"`
	LiveReturn           float64   `json:"live_return"`
	LiveAnnualReturn     float64   `json:"live_annual_return"`
	ExpectedAnnualReturn float64   `json:"expected_annual_return"`
	ReturnDrift          float64   `json:"return_drift"`
	LiveSharpe           float64   `json:"live_sharpe"`
	ExpectedSharpe       float64   `json:"expected_sharpe"`
	SharpeDrift          float64   `json:"sharpe_drift"`
	LiveMaxDrawdown      float64   `json:"live_max_drawdown"`
	ExpectedMaxDrawdown  float64   `json:"expected_max_drawdown"`
	Alerts               []string  `json:"alerts"`
	WithinTolerance      bool      `json:"within_tolerance"`
	EvaluatedAt          time.Time `json:"evaluated_at"`
}

// Decision is a promotion verdict.
type Decision string

const (
	DecisionApproved    Decision = "approved"
	DecisionRejected    Decision = "rejected"
	DecisionNeedsReview Decision = "needs_review"
)

// PromotionReport is the verdict on moving a deployment to real capital.
type PromotionReport struct {
	DeploymentID         string            `json:"deployment_id"`
	SpecID               string            `json:"spec_id"`
	Decision             Decision          `json:"decision"`
	DaysElapsed          float64           `json:"days_elapsed"`
	MeetsTimeRequirement bool              `json:"meets_time_requirement"`
	Comparison           *ComparisonReport `json:"comparison"`
	RiskViolations       []RiskViolation   `json:"risk_violations"`
	Reasoning            []string          `json:"reasoning"`
	EvaluatedAt          time.Time         `json:"evaluated_at"`
}
