package template

import (
	"math"
	"time"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/perf"
)

func intParam(params map[string]float64, key string, min int) int {
	n := int(params[key])
	if n < min {
		return min
	}
	return n
}

// ============================================================================
// Momentum
// ============================================================================

// momentum holds when the lookback return exceeds a threshold.
type momentum struct{}

func (momentum) ID() string          { return "momentum" }
func (momentum) Family() Family      { return FamilyMomentum }
func (momentum) Description() string { return "long when the lookback return exceeds threshold" }

func (momentum) Defaults() map[string]float64 {
	return map[string]float64{"lookback": 60, "threshold": 0.0}
}

func (m momentum) MinBars(params map[string]float64) int {
	return intParam(Params(m, params), "lookback", 1) + 1
}

func (m momentum) Signal(bars []contracts.Bar, params map[string]float64) bool {
	p := Params(m, params)
	lookback := intParam(p, "lookback", 1)
	if len(bars) <= lookback {
		return false
	}
	last := bars[len(bars)-1].Close
	past := bars[len(bars)-1-lookback].Close
	return perf.TotalReturn(past, last) > p["threshold"]
}

// ============================================================================
// Mean reversion
// ============================================================================

// meanReversion holds when the close sits entry_z deviations below its mean.
type meanReversion struct{}

func (meanReversion) ID() string          { return "mean_reversion" }
func (meanReversion) Family() Family      { return FamilyMeanReversion }
func (meanReversion) Description() string { return "long when the close is entry_z deviations below its moving average" }

func (meanReversion) Defaults() map[string]float64 {
	return map[string]float64{"lookback": 20, "entry_z": 1.0}
}

func (m meanReversion) MinBars(params map[string]float64) int {
	return intParam(Params(m, params), "lookback", 2)
}

func (m meanReversion) Signal(bars []contracts.Bar, params map[string]float64) bool {
	p := Params(m, params)
	lookback := intParam(p, "lookback", 2)
	if len(bars) < lookback {
		return false
	}
	window := contracts.Closes(bars[len(bars)-lookback:])
	mean, std := perf.MeanStd(window)
	if std == 0 {
		return false
	}
	z := (window[len(window)-1] - mean) / std
	return z < -p["entry_z"]
}

// ============================================================================
// Trend following
// ============================================================================

// trendFollowing holds while the fast moving average is above the slow one.
type trendFollowing struct{}

func (trendFollowing) ID() string          { return "trend_following" }
func (trendFollowing) Family() Family      { return FamilyTrend }
func (trendFollowing) Description() string { return "long while the fast moving average is above the slow one" }

func (trendFollowing) Defaults() map[string]float64 {
	return map[string]float64{"fast": 50, "slow": 200}
}

func (t trendFollowing) MinBars(params map[string]float64) int {
	p := Params(t, params)
	fast, slow := intParam(p, "fast", 1), intParam(p, "slow", 2)
	if fast > slow {
		return fast
	}
	return slow
}

func (t trendFollowing) Signal(bars []contracts.Bar, params map[string]float64) bool {
	p := Params(t, params)
	fast, slow := intParam(p, "fast", 1), intParam(p, "slow", 2)
	if fast >= slow || len(bars) < slow {
		return false
	}
	closes := contracts.Closes(bars)
	return sma(closes, fast) > sma(closes, slow)
}

func sma(closes []float64, n int) float64 {
	var sum float64
	for _, c := range closes[len(closes)-n:] {
		sum += c
	}
	return sum / float64(n)
}

// ============================================================================
// Calendar
// ============================================================================

// turnOfMonth holds over the last days_before and first days_after calendar days of a month.
type turnOfMonth struct{}

func (turnOfMonth) ID() string          { return "turn_of_month" }
func (turnOfMonth) Family() Family      { return FamilyCalendar }
func (turnOfMonth) Description() string { return "long around the turn of the month" }

func (turnOfMonth) Defaults() map[string]float64 {
	return map[string]float64{"days_before": 3, "days_after": 3}
}

func (turnOfMonth) MinBars(map[string]float64) int { return 1 }

func (t turnOfMonth) Signal(bars []contracts.Bar, params map[string]float64) bool {
	if len(bars) == 0 {
		return false
	}
	p := Params(t, params)
	date := bars[len(bars)-1].Date
	day := date.Day()
	lastDay := time.Date(date.Year(), date.Month()+1, 0, 0, 0, 0, 0, date.Location()).Day()

	return day <= intParam(p, "days_after", 0) || day > lastDay-intParam(p, "days_before", 0)
}

// ============================================================================
// Factor
// ============================================================================

// lowVolatility holds when realized volatility is under max_vol.
type lowVolatility struct{}

func (lowVolatility) ID() string          { return "low_volatility" }
func (lowVolatility) Family() Family      { return FamilyFactor }
func (lowVolatility) Description() string { return "long when annualized realized volatility is below max_vol" }

func (lowVolatility) Defaults() map[string]float64 {
	return map[string]float64{"lookback": 60, "max_vol": 0.20}
}

func (l lowVolatility) MinBars(params map[string]float64) int {
	return intParam(Params(l, params), "lookback", 2) + 1
}

func (l lowVolatility) Signal(bars []contracts.Bar, params map[string]float64) bool {
	p := Params(l, params)
	lookback := intParam(p, "lookback", 2)
	if len(bars) <= lookback {
		return false
	}
	vol := perf.Volatility(perf.Returns(contracts.Closes(bars[len(bars)-1-lookback:])))
	return !math.IsNaN(vol) && vol < p["max_vol"]
}
