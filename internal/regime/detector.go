// Package regime labels a price history as bull, bear, high-volatility or sideways stretches.
package regime

import (
	"math"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/perf"
)

// Config tunes the detector.
type Config struct {
	Window        int     `json:"window" yaml:"window"` // bars in the rolling return/vol window
	VolThreshold  float64 `json:"vol_threshold" yaml:"vol_threshold"`
	BullThreshold float64 `json:"bull_threshold" yaml:"bull_threshold"`
	BearThreshold float64 `json:"bear_threshold" yaml:"bear_threshold"`
	SmoothWindow  int     `json:"smooth_window" yaml:"smooth_window"`
	MergeGap      int     `json:"merge_gap" yaml:"merge_gap"`
	MinPeriodBars int     `json:"min_period_bars" yaml:"min_period_bars"`
}

// DefaultConfig returns the standard half-year detector.
func DefaultConfig() Config {
	return Config{
		Window:        126,
		VolThreshold:  0.25,
		BullThreshold: 0.10,
		BearThreshold: -0.10,
		SmoothWindow:  21,
		MergeGap:      10,
		MinPeriodBars: 5,
	}
}

// Detector classifies close-price series. It holds no state between calls.
// ⭐ SSOT: market regime classification lives here only
type Detector struct {
	cfg Config
}

// NewDetector creates a detector. Non-positive window sizes fall back to defaults.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Window < 2 {
		cfg.Window = def.Window
	}
	if cfg.SmoothWindow < 1 {
		cfg.SmoothWindow = 1
	}
	if cfg.MinPeriodBars < 1 {
		cfg.MinPeriodBars = 1
	}
	if cfg.MergeGap < 0 {
		cfg.MergeGap = 0
	}
	return &Detector{cfg: cfg}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Detect labels bars and returns the surviving periods in chronological order.
// Fewer than Window+1 bars yields no periods.
func (d *Detector) Detect(bars []contracts.Bar) []contracts.RegimePeriod {
	if len(bars) <= d.cfg.Window {
		return nil
	}
	closes := contracts.Closes(bars)
	for _, c := range closes {
		if !(c > 0) {
			return nil
		}
	}

	labels := d.labelBars(closes)
	labels = smooth(labels, d.cfg.SmoothWindow)

	periods := d.segment(bars, closes, labels, d.cfg.Window)
	periods = d.mergeGaps(bars, closes, periods)

	out := periods[:0]
	for _, p := range periods {
		if p.Bars() >= d.cfg.MinPeriodBars {
			out = append(out, p)
		}
	}
	return out
}

// labelBars labels bars Window..n-1; the result is indexed from Window.
func (d *Detector) labelBars(closes []float64) []contracts.RegimeLabel {
	w := d.cfg.Window
	returns := perf.Returns(closes) // returns[j] is closes[j+1]/closes[j]-1
	labels := make([]contracts.RegimeLabel, 0, len(closes)-w)

	for i := w; i < len(closes); i++ {
		annual := math.Pow(closes[i]/closes[i-w], perf.TradingDaysPerYear/float64(w)) - 1
		vol := perf.Volatility(returns[i-w : i])
		labels = append(labels, d.classify(annual, vol))
	}
	return labels
}

func (d *Detector) classify(annualReturn, vol float64) contracts.RegimeLabel {
	switch {
	case vol > d.cfg.VolThreshold:
		return contracts.RegimeHighVol
	case annualReturn > d.cfg.BullThreshold:
		return contracts.RegimeBull
	case annualReturn < d.cfg.BearThreshold:
		return contracts.RegimeBear
	default:
		return contracts.RegimeSideways
	}
}

// smooth replaces each label by the majority in a centered window.
// On a tie the original label wins if it is among the leaders, otherwise the first in AllRegimes order.
func smooth(labels []contracts.RegimeLabel, window int) []contracts.RegimeLabel {
	if window <= 1 || len(labels) == 0 {
		return labels
	}
	half := window / 2
	out := make([]contracts.RegimeLabel, len(labels))

	for i := range labels {
		lo, hi := i-half, i+half
		if lo < 0 {
			lo = 0
		}
		if hi > len(labels)-1 {
			hi = len(labels) - 1
		}

		counts := make(map[contracts.RegimeLabel]int, len(contracts.AllRegimes))
		for _, l := range labels[lo : hi+1] {
			counts[l]++
		}

		best := labels[i]
		for _, l := range contracts.AllRegimes {
			if counts[l] > counts[best] {
				best = l
			}
		}
		out[i] = best
	}
	return out
}

// segment turns runs of identical labels into periods. offset maps label index to bar index.
func (d *Detector) segment(bars []contracts.Bar, closes []float64, labels []contracts.RegimeLabel, offset int) []contracts.RegimePeriod {
	var periods []contracts.RegimePeriod
	start := 0
	for i := 1; i <= len(labels); i++ {
		if i < len(labels) && labels[i] == labels[start] {
			continue
		}
		periods = append(periods, buildPeriod(bars, closes, labels[start], start+offset, i-1+offset))
		start = i
	}
	return periods
}

// mergeGaps joins same-label periods separated by at most MergeGap bars, absorbing
// everything in between. The gap is counted in bars, however many periods it spans.
func (d *Detector) mergeGaps(bars []contracts.Bar, closes []float64, periods []contracts.RegimePeriod) []contracts.RegimePeriod {
	var out []contracts.RegimePeriod
	for _, p := range periods {
		merged := false
		for j := len(out) - 1; j >= 0; j-- {
			gap := p.StartIndex - out[j].EndIndex - 1
			if gap > d.cfg.MergeGap {
				break
			}
			if out[j].Label == p.Label {
				out[j] = buildPeriod(bars, closes, p.Label, out[j].StartIndex, p.EndIndex)
				out = out[:j+1]
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, p)
		}
	}
	return out
}

// buildPeriod recomputes statistics over bars[start..end].
func buildPeriod(bars []contracts.Bar, closes []float64, label contracts.RegimeLabel, start, end int) contracts.RegimePeriod {
	span := closes[start : end+1]
	total := perf.TotalReturn(span[0], span[len(span)-1])

	return contracts.RegimePeriod{
		Label:        label,
		Start:        bars[start].Date,
		End:          bars[end].Date,
		StartIndex:   start,
		EndIndex:     end,
		AnnualReturn: perf.Annualize(total, float64(len(span))),
		Volatility:   perf.Volatility(perf.Returns(span)),
		MaxDrawdown:  perf.MaxDrawdown(span),
	}
}

// SelectRegimePeriods keeps, per label, the single longest period of at least minDays bars.
// Output follows AllRegimes order; labels without a qualifying period are absent. Ties keep the earlier period.
func SelectRegimePeriods(periods []contracts.RegimePeriod, minDays int) []contracts.RegimePeriod {
	var out []contracts.RegimePeriod
	for _, label := range contracts.AllRegimes {
		best := -1
		for i, p := range periods {
			if p.Label != label || p.Bars() < minDays {
				continue
			}
			if best < 0 || p.Bars() > periods[best].Bars() {
				best = i
			}
		}
		if best >= 0 {
			out = append(out, periods[best])
		}
	}
	return out
}
