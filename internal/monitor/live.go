package monitor

import (
	"github.com/wonny/forge/internal/contracts"
)

// ProfitFactorCap stands in for an unbounded profit factor (profits with no losing round trip).
const ProfitFactorCap = 100.0

type lot struct {
	qty   int
	price float64
}

// RoundTrips is the FIFO matching of sells against earlier buys. A sell that closes
// several lots counts once per lot.
type RoundTrips struct {
	Count       int     // matched (sell, buy lot) pairs
	Wins        int     // pairs where the sell price exceeds the lot's buy price
	GrossProfit float64
	GrossLoss   float64 // positive
}

// WinRate is wins over matched sells, 0 without any.
func (r RoundTrips) WinRate() float64 {
	if r.Count == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Count)
}

// ProfitFactor is gross profit over gross loss, capped when there is no loss.
func (r RoundTrips) ProfitFactor() float64 {
	switch {
	case r.GrossLoss > 0:
		return r.GrossProfit / r.GrossLoss
	case r.GrossProfit > 0:
		return ProfitFactorCap
	default:
		return 0
	}
}

// MatchRoundTrips pairs each symbol's sells with its earliest unmatched buy lots.
// Trades must be in timestamp order. Sell quantity with no prior buy is ignored.
func MatchRoundTrips(trades []contracts.TradeRecord) RoundTrips {
	var rt RoundTrips
	open := make(map[string][]lot)

	for _, t := range trades {
		if t.Quantity <= 0 {
			continue
		}
		switch t.Side {
		case contracts.SideBuy:
			open[t.Symbol] = append(open[t.Symbol], lot{qty: t.Quantity, price: t.Price})

		case contracts.SideSell:
			lots := open[t.Symbol]
			remaining := t.Quantity
			for remaining > 0 && len(lots) > 0 {
				take := lots[0].qty
				if take > remaining {
					take = remaining
				}
				pnl := float64(take) * (t.Price - lots[0].price)
				rt.Count++
				if t.Price > lots[0].price {
					rt.Wins++
					rt.GrossProfit += pnl
				} else {
					rt.GrossLoss -= pnl
				}
				remaining -= take
				lots[0].qty -= take
				if lots[0].qty == 0 {
					lots = lots[1:]
				}
			}
			open[t.Symbol] = lots
		}
	}
	return rt
}

// ComputeLiveResult compiles a deployment's history into a live-phase result.
// Passed means the live risk checks found nothing.
func (m *Monitor) ComputeLiveResult(d *contracts.Deployment) *contracts.StrategyResult {
	result := contracts.NewStrategyResult(d.SpecID, contracts.PhaseLive)
	result.CreatedAt = m.now().UTC()
	result.PeriodStart = d.StartedAt
	result.TotalTrades = len(d.Trades)

	rt := MatchRoundTrips(d.Trades)
	result.WinRate = rt.WinRate()
	result.ProfitFactor = rt.ProfitFactor()

	if last, ok := d.LastSnapshot(); ok {
		st := m.stats(d)
		result.TotalReturn = st.totalReturn
		result.AnnualReturn = st.annual
		result.Sharpe = st.sharpe
		result.MaxDrawdown = st.maxDD
		result.PeriodEnd = last.Timestamp
	}

	violations := m.CheckRisk(d)
	result.Passed = len(violations) == 0
	if !result.Passed {
		result.FailureReason = contracts.FailureRiskViolations
	}
	return result
}
