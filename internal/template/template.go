// Package template is the fixed lookup table of strategy families.
// Each template turns a price history and parameters into a long/flat decision.
package template

import (
	"fmt"
	"sort"

	"github.com/wonny/forge/internal/contracts"
)

// Family groups templates by the market effect they trade.
type Family string

const (
	FamilyMomentum      Family = "momentum"
	FamilyMeanReversion Family = "mean_reversion"
	FamilyTrend         Family = "trend"
	FamilyCalendar      Family = "calendar"
	FamilyFactor        Family = "factor"
)

// Template produces a long/flat signal from chronological bars.
type Template interface {
	ID() string
	Family() Family
	Description() string
	// Defaults lists every accepted parameter with its default value.
	Defaults() map[string]float64
	// MinBars is the shortest history Signal can evaluate for params.
	MinBars(params map[string]float64) int
	// Signal reports whether to hold the symbol as of the last bar.
	Signal(bars []contracts.Bar, params map[string]float64) bool
}

// Registry is an immutable id -> template table.
// ⭐ SSOT: supported strategy templates are registered here only
type Registry struct {
	byID map[string]Template
	ids  []string
}

// NewRegistry builds the table of built-in templates.
func NewRegistry() *Registry {
	return newRegistry(
		momentum{},
		meanReversion{},
		trendFollowing{},
		turnOfMonth{},
		lowVolatility{},
	)
}

func newRegistry(templates ...Template) *Registry {
	r := &Registry{byID: make(map[string]Template, len(templates))}
	for _, t := range templates {
		if _, dup := r.byID[t.ID()]; dup {
			panic(fmt.Sprintf("template: duplicate id %q", t.ID()))
		}
		r.byID[t.ID()] = t
		r.ids = append(r.ids, t.ID())
	}
	sort.Strings(r.ids)
	return r
}

// Get looks up a template.
func (r *Registry) Get(id string) (Template, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// Has reports whether id is supported.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// IDs returns supported ids in sorted order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Params overlays params on a template's defaults, dropping unknown keys.
func Params(t Template, params map[string]float64) map[string]float64 {
	out := t.Defaults()
	for k := range out {
		if v, ok := params[k]; ok {
			out[k] = v
		}
	}
	return out
}
