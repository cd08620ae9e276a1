package deployer

import (
	"math"
	"sort"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/risk"
)

// Target is one symbol's intended holding.
type Target struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
	Price  float64 `json:"price"`
	Shares int     `json:"shares"`
}

// Order is a planned share delta.
type Order struct {
	Symbol   string         `json:"symbol"`
	Side     contracts.Side `json:"side"`
	Quantity int            `json:"quantity"`
}

// TargetWeights turns long/flat signals into weights.
// Longs are equal-weighted, capped per position, cut to the max position count (by symbol order),
// then scaled down to keep the cash reserve and stay within leverage.
func TargetWeights(signals []contracts.SymbolSignal, params contracts.RiskParams, limits risk.Limits) []Target {
	var longs []contracts.SymbolSignal
	for _, s := range signals {
		if s.Long && s.Price > 0 {
			longs = append(longs, s)
		}
	}
	sort.Slice(longs, func(i, j int) bool { return longs[i].Symbol < longs[j].Symbol })

	maxPositions := params.MaxPositions
	if limits.MaxPositions < maxPositions || maxPositions < 1 {
		maxPositions = limits.MaxPositions
	}
	if len(longs) > maxPositions {
		longs = longs[:maxPositions]
	}
	if len(longs) == 0 {
		return nil
	}

	weight := 1 / float64(len(longs))
	maxPct := params.MaxPositionPct
	if limits.MaxPositionPct < maxPct || maxPct <= 0 {
		maxPct = limits.MaxPositionPct
	}
	weight = math.Min(weight, maxPct)

	total := weight * float64(len(longs))
	if invested := 1 - limits.MinCashReservePct; total > invested {
		weight *= invested / total
		total = invested
	}
	if limits.MaxLeverage > 0 && total > limits.MaxLeverage {
		weight *= limits.MaxLeverage / total
	}

	targets := make([]Target, len(longs))
	for i, s := range longs {
		targets[i] = Target{Symbol: s.Symbol, Weight: weight, Price: s.Price}
	}
	return targets
}

// PlanOrders sizes targets against equity and diffs them with holdings.
// Held symbols listed in flat are sold to zero; held symbols in neither are left alone.
// A resize of an existing holding worth less than band×equity is skipped, so fees and
// rounding do not churn a position that is already at target.
// Sells come before buys; each group is ordered by symbol.
func PlanOrders(targets []Target, flat []string, equity float64, holdings map[string]int, band float64) ([]Target, []Order) {
	sized := make([]Target, len(targets))
	want := make(map[string]int, len(targets)+len(flat))
	price := make(map[string]float64, len(targets))
	for i, t := range targets {
		t.Shares = int(math.Floor(equity*t.Weight/t.Price + 1e-9))
		if t.Shares < 0 {
			t.Shares = 0
		}
		sized[i] = t
		want[t.Symbol] = t.Shares
		price[t.Symbol] = t.Price
	}
	for _, s := range flat {
		if _, ok := want[s]; !ok {
			want[s] = 0
		}
	}

	var sells, buys []Order
	for symbol, target := range want {
		held := holdings[symbol]
		delta := target - held
		if target > 0 && held > 0 && math.Abs(float64(delta))*price[symbol] < band*equity {
			continue
		}
		switch {
		case delta < 0:
			sells = append(sells, Order{Symbol: symbol, Side: contracts.SideSell, Quantity: -delta})
		case delta > 0:
			buys = append(buys, Order{Symbol: symbol, Side: contracts.SideBuy, Quantity: delta})
		}
	}
	bySymbol := func(o []Order) {
		sort.Slice(o, func(i, j int) bool { return o[i].Symbol < o[j].Symbol })
	}
	bySymbol(sells)
	bySymbol(buys)
	return sized, append(sells, buys...)
}
