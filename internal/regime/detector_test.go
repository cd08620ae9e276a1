package regime

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/forge/internal/contracts"
)

func seriesFromReturns(start float64, returns []float64) []contracts.Bar {
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []contracts.Bar{{Date: day, Close: start}}
	price := start
	for i, r := range returns {
		price *= 1 + r
		bars = append(bars, contracts.Bar{Date: day.AddDate(0, 0, i+1), Close: price})
	}
	return bars
}

func constantReturns(n int, r float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = r
	}
	return out
}

func hasLabel(periods []contracts.RegimePeriod, label contracts.RegimeLabel) bool {
	for _, p := range periods {
		if p.Label == label {
			return true
		}
	}
	return false
}

func TestDetect_SteadyDriftIsBull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 63
	bars := seriesFromReturns(100, constantReturns(299, 0.001))

	periods := NewDetector(cfg).Detect(bars)

	require.NotEmpty(t, periods)
	assert.True(t, hasLabel(periods, contracts.RegimeBull))
	assert.Equal(t, 63, periods[0].StartIndex)
	assert.Equal(t, len(bars)-1, periods[len(periods)-1].EndIndex)
}

func TestDetect_NoisySeriesIsHighVol(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	returns := make([]float64, 400)
	for i := range returns {
		returns[i] = rng.NormFloat64() * 0.03
	}

	periods := NewDetector(DefaultConfig()).Detect(seriesFromReturns(100, returns))

	assert.True(t, hasLabel(periods, contracts.RegimeHighVol))
}

func TestDetect_DecliningIsBear(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 63
	periods := NewDetector(cfg).Detect(seriesFromReturns(100, constantReturns(200, -0.001)))

	require.Len(t, periods, 1)
	assert.Equal(t, contracts.RegimeBear, periods[0].Label)
	assert.Less(t, periods[0].MaxDrawdown, 0.0)
}

func TestDetect_FlatIsSideways(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 20
	periods := NewDetector(cfg).Detect(seriesFromReturns(50, constantReturns(100, 0)))

	require.Len(t, periods, 1)
	assert.Equal(t, contracts.RegimeSideways, periods[0].Label)
	assert.Equal(t, 0.0, periods[0].AnnualReturn)
}

func TestDetect_ShortInputIsEmpty(t *testing.T) {
	d := NewDetector(DefaultConfig())

	assert.Empty(t, d.Detect(nil))
	assert.Empty(t, d.Detect(seriesFromReturns(100, constantReturns(100, 0.001))))
	assert.Empty(t, d.Detect(seriesFromReturns(100, constantReturns(125, 0.001))))
}

func TestDetect_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	returns := make([]float64, 600)
	for i := range returns {
		returns[i] = 0.0004 + rng.NormFloat64()*0.012
	}
	bars := seriesFromReturns(100, returns)
	d := NewDetector(DefaultConfig())

	assert.Equal(t, d.Detect(bars), d.Detect(bars))
}

func TestDetect_PeriodsAreOrderedAndDisjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var returns []float64
	for _, drift := range []float64{0.002, -0.002, 0, 0.002} {
		for i := 0; i < 200; i++ {
			returns = append(returns, drift+rng.NormFloat64()*0.005)
		}
	}
	cfg := DefaultConfig()
	cfg.Window = 63
	periods := NewDetector(cfg).Detect(seriesFromReturns(100, returns))

	require.NotEmpty(t, periods)
	for i, p := range periods {
		assert.GreaterOrEqual(t, p.Bars(), cfg.MinPeriodBars)
		if i > 0 {
			assert.Greater(t, p.StartIndex, periods[i-1].EndIndex)
		}
	}
}

func TestSmooth_RemovesFlicker(t *testing.T) {
	b, s := contracts.RegimeBull, contracts.RegimeSideways
	labels := []contracts.RegimeLabel{b, b, b, s, b, b, b}

	assert.Equal(t, []contracts.RegimeLabel{b, b, b, b, b, b, b}, smooth(labels, 5))
	assert.Equal(t, labels, smooth(labels, 1))
}

func TestMergeGaps(t *testing.T) {
	bars := seriesFromReturns(100, constantReturns(99, 0.001))
	closes := contracts.Closes(bars)
	d := NewDetector(DefaultConfig())

	periods := []contracts.RegimePeriod{
		buildPeriod(bars, closes, contracts.RegimeBull, 0, 39),
		buildPeriod(bars, closes, contracts.RegimeSideways, 40, 47),
		buildPeriod(bars, closes, contracts.RegimeBull, 48, 79),
		buildPeriod(bars, closes, contracts.RegimeBear, 80, 99),
	}

	merged := d.mergeGaps(bars, closes, periods)

	require.Len(t, merged, 2)
	assert.Equal(t, contracts.RegimeBull, merged[0].Label)
	assert.Equal(t, 0, merged[0].StartIndex)
	assert.Equal(t, 79, merged[0].EndIndex)
	assert.Equal(t, buildPeriod(bars, closes, contracts.RegimeBull, 0, 79), merged[0])
	assert.Equal(t, contracts.RegimeBear, merged[1].Label)
}

func TestMergeGaps_SpansSeveralPeriods(t *testing.T) {
	bars := seriesFromReturns(100, constantReturns(99, 0.001))
	closes := contracts.Closes(bars)
	d := NewDetector(DefaultConfig())

	periods := []contracts.RegimePeriod{
		buildPeriod(bars, closes, contracts.RegimeBull, 0, 39),
		buildPeriod(bars, closes, contracts.RegimeSideways, 40, 42),
		buildPeriod(bars, closes, contracts.RegimeHighVol, 43, 45),
		buildPeriod(bars, closes, contracts.RegimeBull, 46, 79),
		buildPeriod(bars, closes, contracts.RegimeBear, 80, 99),
	}

	merged := d.mergeGaps(bars, closes, periods)

	require.Len(t, merged, 2)
	assert.Equal(t, buildPeriod(bars, closes, contracts.RegimeBull, 0, 79), merged[0])
	assert.Equal(t, contracts.RegimeBear, merged[1].Label)
}

func TestMergeGaps_WideGapKept(t *testing.T) {
	bars := seriesFromReturns(100, constantReturns(99, 0.001))
	closes := contracts.Closes(bars)
	d := NewDetector(DefaultConfig())

	periods := []contracts.RegimePeriod{
		buildPeriod(bars, closes, contracts.RegimeBull, 0, 29),
		buildPeriod(bars, closes, contracts.RegimeSideways, 30, 49),
		buildPeriod(bars, closes, contracts.RegimeBull, 50, 99),
	}

	assert.Len(t, d.mergeGaps(bars, closes, periods), 3)
}

func TestSelectRegimePeriods(t *testing.T) {
	periods := []contracts.RegimePeriod{
		{Label: contracts.RegimeBull, StartIndex: 0, EndIndex: 99},
		{Label: contracts.RegimeBear, StartIndex: 100, EndIndex: 129},
		{Label: contracts.RegimeBull, StartIndex: 130, EndIndex: 329},
		{Label: contracts.RegimeSideways, StartIndex: 330, EndIndex: 339},
		{Label: contracts.RegimeBear, StartIndex: 340, EndIndex: 369},
	}

	selected := SelectRegimePeriods(periods, 20)

	require.Len(t, selected, 2)
	assert.Equal(t, contracts.RegimeBull, selected[0].Label)
	assert.Equal(t, 130, selected[0].StartIndex)
	assert.Equal(t, contracts.RegimeBear, selected[1].Label)
	assert.Equal(t, 100, selected[1].StartIndex)
}
