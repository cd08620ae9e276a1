// Package registry holds helpers shared by the Registry implementations.
package registry

import (
	"math"
	"sort"

	"github.com/wonny/forge/internal/contracts"
)

// SortBest orders entries by metric descending with NaN last, ties by spec id.
func SortBest(entries []contracts.SpecResult, metric contracts.Metric) {
	key := func(r contracts.StrategyResult) float64 {
		v := metric.Value(r)
		if math.IsNaN(v) {
			return math.Inf(-1)
		}
		return v
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := key(entries[i].Result), key(entries[j].Result)
		if a != b {
			return a > b
		}
		return entries[i].Spec.ID < entries[j].Spec.ID
	})
}

// Limit truncates entries to limit; limit <= 0 keeps all.
func Limit(entries []contracts.SpecResult, limit int) []contracts.SpecResult {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
