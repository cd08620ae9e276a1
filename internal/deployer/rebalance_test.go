package deployer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/risk"
)

func params(pct float64, n int) contracts.RiskParams {
	p := contracts.DefaultRiskParams()
	p.MaxPositionPct = pct
	p.MaxPositions = n
	return p
}

func TestTargetWeights_SingleLongCappedAtPositionPct(t *testing.T) {
	targets := TargetWeights([]contracts.SymbolSignal{{Symbol: "X", Long: true, Price: 100}}, params(0.10, 10), risk.DefaultLimits())
	assert.Equal(t, []Target{{Symbol: "X", Weight: 0.10, Price: 100}}, targets)
}

func TestTargetWeights_MaxPositionsCutBySymbol(t *testing.T) {
	signals := []contracts.SymbolSignal{
		{Symbol: "D", Long: true, Price: 10},
		{Symbol: "A", Long: true, Price: 10},
		{Symbol: "C", Long: false, Price: 10},
		{Symbol: "B", Long: true, Price: 10},
		{Symbol: "E", Long: true, Price: 0},
	}
	targets := TargetWeights(signals, params(0.5, 2), risk.DefaultLimits())

	assert.Len(t, targets, 2)
	assert.Equal(t, "A", targets[0].Symbol)
	assert.Equal(t, "B", targets[1].Symbol)
	assert.InDelta(t, 0.10, targets[0].Weight, 1e-12, "operator limit caps the spec's 50%")
}

func TestTargetWeights_CashReserveAndLeverage(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.MaxPositionPct = 1
	limits.MinCashReservePct = 0.20

	signals := []contracts.SymbolSignal{{Symbol: "A", Long: true, Price: 10}, {Symbol: "B", Long: true, Price: 10}}
	targets := TargetWeights(signals, params(1, 10), limits)
	assert.InDelta(t, 0.40, targets[0].Weight, 1e-12)

	limits.MinCashReservePct = 0
	limits.MaxLeverage = 0.5
	targets = TargetWeights(signals, params(1, 10), limits)
	assert.InDelta(t, 0.25, targets[0].Weight, 1e-12)

	var total float64
	for _, tgt := range targets {
		total += tgt.Weight
	}
	assert.LessOrEqual(t, total, limits.MaxLeverage+1e-12)
}

func TestTargetWeights_NoLongs(t *testing.T) {
	assert.Empty(t, TargetWeights([]contracts.SymbolSignal{{Symbol: "A", Price: 10}}, params(0.1, 10), risk.DefaultLimits()))
}

func TestPlanOrders(t *testing.T) {
	targets := []Target{{Symbol: "X", Weight: 0.10, Price: 100}, {Symbol: "Y", Weight: 0.10, Price: 30}}
	holdings := map[string]int{"X": 120, "Z": 7, "W": 3}

	sized, orders := PlanOrders(targets, []string{"Z"}, 100_000, holdings, 0)

	assert.Equal(t, 100, sized[0].Shares)
	assert.Equal(t, 333, sized[1].Shares)
	assert.Equal(t, []Order{
		{Symbol: "X", Side: contracts.SideSell, Quantity: 20},
		{Symbol: "Z", Side: contracts.SideSell, Quantity: 7},
		{Symbol: "Y", Side: contracts.SideBuy, Quantity: 333},
	}, orders, "sells first, W has no signal and is left alone")
}

func TestPlanOrders_AtTargetPlacesNothing(t *testing.T) {
	targets := []Target{{Symbol: "X", Weight: 0.10, Price: 100}}
	_, orders := PlanOrders(targets, nil, 100_000, map[string]int{"X": 100}, 0)
	assert.Empty(t, orders)
}

func TestPlanOrders_BandSkipsSmallResizes(t *testing.T) {
	targets := []Target{{Symbol: "X", Weight: 0.10, Price: 100}, {Symbol: "Y", Weight: 0.10, Price: 50}}

	// equity after a buy commission floors X to 99 shares
	_, orders := PlanOrders(targets, nil, 99_999.5, map[string]int{"X": 100, "Y": 150}, 0)
	assert.Equal(t, []Order{
		{Symbol: "X", Side: contracts.SideSell, Quantity: 1},
		{Symbol: "Y", Side: contracts.SideBuy, Quantity: 49},
	}, orders)

	_, orders = PlanOrders(targets, nil, 99_999.5, map[string]int{"X": 100, "Y": 150}, 0.005)
	assert.Equal(t, []Order{{Symbol: "Y", Side: contracts.SideBuy, Quantity: 49}}, orders,
		"X is within the band, Y is 2450 away")

	_, orders = PlanOrders(targets, []string{"Z"}, 99_999.5, map[string]int{"Z": 1}, 0.5)
	assert.Equal(t, []Order{
		{Symbol: "Z", Side: contracts.SideSell, Quantity: 1},
		{Symbol: "X", Side: contracts.SideBuy, Quantity: 99},
		{Symbol: "Y", Side: contracts.SideBuy, Quantity: 199},
	}, orders, "exits and fresh entries ignore the band")
}
