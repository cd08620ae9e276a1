// Package policy loads the operator policy file: every limit, threshold and tolerance the control loops use.
package policy

import (
	"github.com/wonny/forge/internal/audit"
	"github.com/wonny/forge/internal/brain"
	"github.com/wonny/forge/internal/deployer"
	"github.com/wonny/forge/internal/evolver"
	"github.com/wonny/forge/internal/monitor"
	"github.com/wonny/forge/internal/promoter"
	"github.com/wonny/forge/internal/regime"
	"github.com/wonny/forge/internal/risk"
)

// Policy is the operator's configuration of the control plane.
// ⭐ SSOT: thresholds are read from here, never hard-coded at call sites
type Policy struct {
	Meta         Meta             `yaml:"meta" json:"meta"`
	Risk         risk.Limits      `yaml:"risk" json:"risk"`
	Audit        audit.Thresholds `yaml:"audit" json:"audit"`
	Regime       regime.Config    `yaml:"regime" json:"regime"`
	Evolution    evolver.Config   `yaml:"evolution" json:"evolution"`
	Deployment   deployer.Config  `yaml:"deployment" json:"deployment"`
	Monitoring   monitor.Config   `yaml:"monitoring" json:"monitoring"`
	Promotion    promoter.Config  `yaml:"promotion" json:"promotion"`
	Orchestrator brain.Config     `yaml:"orchestrator" json:"orchestrator"`
}

// Meta identifies a policy revision.
type Meta struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// Default returns the built-in policy.
func Default() *Policy {
	return &Policy{
		Meta:         Meta{Name: "default", Version: "1"},
		Risk:         risk.DefaultLimits(),
		Audit:        audit.DefaultThresholds(),
		Regime:       regime.DefaultConfig(),
		Evolution:    evolver.DefaultConfig(),
		Deployment:   deployer.DefaultConfig(),
		Monitoring:   monitor.DefaultConfig(),
		Promotion:    promoter.DefaultConfig(),
		Orchestrator: brain.DefaultConfig(),
	}
}
