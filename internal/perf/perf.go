// Package perf holds the return, volatility, Sharpe and drawdown formulas shared by
// the regime detector, the monitor and the live result compiler.
package perf

import "math"

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 252

// Returns converts a value series into simple period returns.
// Non-positive previous values yield no return for that step.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		if prev <= 0 {
			continue
		}
		out = append(out, values[i]/prev-1)
	}
	return out
}

// TotalReturn is last/first - 1, or 0 when first is not positive.
func TotalReturn(first, last float64) float64 {
	if first <= 0 {
		return 0
	}
	return last/first - 1
}

// Annualize compounds a total return earned over days to a yearly rate.
// days below 1 are treated as 1.
func Annualize(totalReturn, days float64) float64 {
	if days < 1 {
		days = 1
	}
	if totalReturn <= -1 {
		return -1
	}
	return math.Pow(1+totalReturn, TradingDaysPerYear/days) - 1
}

// MeanStd returns the mean and sample standard deviation.
func MeanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs) - 1)
	return mean, math.Sqrt(variance)
}

// Volatility is the annualized sample standard deviation of daily returns.
func Volatility(returns []float64) float64 {
	_, std := MeanStd(returns)
	return std * math.Sqrt(TradingDaysPerYear)
}

// Sharpe is mean/stdev of daily returns scaled by sqrt(252).
// Fewer than two returns or zero dispersion gives 0.
func Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := MeanStd(returns)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown is the worst peak-to-trough move of a value series, as a
// non-positive fraction.
func MaxDrawdown(values []float64) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (v - peak) / peak; dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
