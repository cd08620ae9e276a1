package perf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReturns(t *testing.T) {
	assert.Nil(t, Returns([]float64{100}))
	got := Returns([]float64{100, 110, 99})
	assert.InDeltaSlice(t, []float64{0.10, -0.10}, got, 1e-12)
}

func TestAnnualize(t *testing.T) {
	assert.InDelta(t, 0.10, Annualize(0.10, 252), 1e-12)
	assert.InDelta(t, math.Pow(1.01, 2)-1, Annualize(0.01, 126), 1e-12)
	assert.InDelta(t, Annualize(0.01, 1), Annualize(0.01, 0), 1e-12)
	assert.Equal(t, -1.0, Annualize(-1, 10))
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{1, 2, 3, 4})
	assert.InDelta(t, 2.5, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), std, 1e-12)

	mean, std = MeanStd([]float64{7})
	assert.Equal(t, 7.0, mean)
	assert.Equal(t, 0.0, std)
}

func TestSharpe(t *testing.T) {
	assert.Equal(t, 0.0, Sharpe([]float64{0.01}))
	assert.Equal(t, 0.0, Sharpe([]float64{0.01, 0.01, 0.01}))

	rets := []float64{0.01, -0.005, 0.02, 0.0}
	mean, std := MeanStd(rets)
	assert.InDelta(t, mean/std*math.Sqrt(252), Sharpe(rets), 1e-12)
}

func TestMaxDrawdown(t *testing.T) {
	assert.Equal(t, 0.0, MaxDrawdown(nil))
	assert.Equal(t, 0.0, MaxDrawdown([]float64{1, 2, 3}))
	assert.InDelta(t, -0.5, MaxDrawdown([]float64{100, 200, 100, 150}), 1e-12)
}

func TestVolatility(t *testing.T) {
	assert.Equal(t, 0.0, Volatility([]float64{0.01, 0.01}))
	assert.Greater(t, Volatility([]float64{0.03, -0.03, 0.03, -0.03}), 0.25)
}
