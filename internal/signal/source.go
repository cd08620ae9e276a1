// Package signal evaluates a spec's template per symbol for rebalancing.
package signal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/marketdata"
	"github.com/wonny/forge/internal/template"
	"github.com/wonny/forge/pkg/logger"
)

// Config bounds history loading and fan-out.
type Config struct {
	LookbackDays int // calendar days of history loaded per symbol
	Concurrency  int
}

// DefaultConfig loads a bit over a year and a half of history, eight symbols at a time.
func DefaultConfig() Config {
	return Config{LookbackDays: 400, Concurrency: 8}
}

// Source implements contracts.SignalSource over stored price history.
type Source struct {
	history   marketdata.History
	templates *template.Registry
	cfg       Config
	now       func() time.Time
	logger    *logger.Logger
}

var _ contracts.SignalSource = (*Source)(nil)

// NewSource creates a signal source.
func NewSource(history marketdata.History, templates *template.Registry, cfg Config, log *logger.Logger) *Source {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.LookbackDays < 1 {
		cfg.LookbackDays = DefaultConfig().LookbackDays
	}
	return &Source{history: history, templates: templates, cfg: cfg, now: time.Now, logger: log}
}

// Signals evaluates every symbol independently. Symbols without enough history are omitted.
// The result is sorted by symbol.
func (s *Source) Signals(ctx context.Context, spec contracts.StrategySpec, symbols []string) ([]contracts.SymbolSignal, error) {
	tpl, ok := s.templates.Get(spec.TemplateID)
	if !ok {
		return nil, fmt.Errorf("unknown template %q", spec.TemplateID)
	}

	to := s.now().UTC()
	from := to.AddDate(0, 0, -s.cfg.LookbackDays)
	minBars := tpl.MinBars(spec.Parameters)

	var (
		mu  sync.Mutex
		out []contracts.SymbolSignal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			log := s.logger.WithFields(map[string]interface{}{"symbol": symbol, "spec_id": spec.ID})

			bars, err := s.history.GetBars(gctx, symbol, from, to)
			if err != nil {
				log.WithError(err).Warn("Signal skipped: history unavailable")
				return nil
			}
			if len(bars) < minBars || len(bars) == 0 {
				log.WithFields(map[string]interface{}{"bars": len(bars), "min_bars": minBars}).Warn("Signal skipped: insufficient history")
				return nil
			}

			sig := contracts.SymbolSignal{
				Symbol: symbol,
				Long:   tpl.Signal(bars, spec.Parameters),
				Price:  bars[len(bars)-1].Close,
			}
			mu.Lock()
			out = append(out, sig)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
