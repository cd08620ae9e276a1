// Package engine is the client of the remote backtest service that screens and validates specs.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/marketdata"
	"github.com/wonny/forge/internal/regime"
	"github.com/wonny/forge/pkg/httputil"
	"github.com/wonny/forge/pkg/logger"
)

// Config configures the backtest service client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RegimeLookbackYears of benchmark history feed the regime detector.
	RegimeLookbackYears int
	// RegimeMinDays is the shortest regime window sent for validation, in bars.
	RegimeMinDays int
}

// Client implements contracts.Screener and contracts.Validator. Calls fail fast.
type Client struct {
	http     *httputil.Client
	cfg      Config
	history  marketdata.History
	detector *regime.Detector
	now      func() time.Time
	logger   *logger.Logger
}

var (
	_ contracts.Screener  = (*Client)(nil)
	_ contracts.Validator = (*Client)(nil)
)

// NewClient creates an engine client. history and detector supply the regime windows for validation.
func NewClient(cfg Config, history marketdata.History, detector *regime.Detector, log *logger.Logger) *Client {
	if cfg.RegimeLookbackYears <= 0 {
		cfg.RegimeLookbackYears = 10
	}
	if cfg.RegimeMinDays <= 0 {
		cfg.RegimeMinDays = 60
	}
	return &Client{
		http:     httputil.New(log, cfg.Timeout).DisableRetry(),
		cfg:      cfg,
		history:  history,
		detector: detector,
		now:      time.Now,
		logger:   log,
	}
}

type regimeWindow struct {
	Label contracts.RegimeLabel `json:"label"`
	Start string                `json:"start"`
	End   string                `json:"end"`
}

type screenRequest struct {
	Spec    contracts.StrategySpec `json:"spec"`
	Symbols []string               `json:"symbols"`
	Start   string                 `json:"start"`
	End     string                 `json:"end"`
}

type validateRequest struct {
	Spec      contracts.StrategySpec `json:"spec"`
	Symbols   []string               `json:"symbols"`
	Benchmark string                 `json:"benchmark"`
	Regimes   []regimeWindow         `json:"regimes"`
}

const dateLayout = "2006-01-02"

// Screen runs the cheap backtest over [start, end].
func (c *Client) Screen(ctx context.Context, spec contracts.StrategySpec, symbols []string, start, end time.Time) (*contracts.StrategyResult, error) {
	req := screenRequest{
		Spec:    spec,
		Symbols: symbols,
		Start:   start.Format(dateLayout),
		End:     end.Format(dateLayout),
	}

	var result contracts.StrategyResult
	if err := c.http.DoJSON(ctx, http.MethodPost, c.url("/screen"), req, &result); err != nil {
		return nil, fmt.Errorf("screen %s: %w", spec.ID, err)
	}
	return c.stamp(&result, spec.ID, contracts.PhaseScreen), nil
}

// Validate runs the multi-regime backtest. Regime windows come from the benchmark's own history;
// if that history is unavailable the service falls back to its default windows.
func (c *Client) Validate(ctx context.Context, spec contracts.StrategySpec, symbols []string, benchmark string) (*contracts.StrategyResult, error) {
	req := validateRequest{
		Spec:      spec,
		Symbols:   symbols,
		Benchmark: benchmark,
		Regimes:   c.regimeWindows(ctx, benchmark),
	}

	var result contracts.StrategyResult
	if err := c.http.DoJSON(ctx, http.MethodPost, c.url("/validate"), req, &result); err != nil {
		return nil, fmt.Errorf("validate %s: %w", spec.ID, err)
	}
	return c.stamp(&result, spec.ID, contracts.PhaseValidate), nil
}

// RegimeWindows exposes the windows a validation would use, for the regime command.
func (c *Client) RegimeWindows(ctx context.Context, benchmark string) ([]contracts.RegimePeriod, []contracts.RegimePeriod, error) {
	end := c.now().UTC()
	start := end.AddDate(-c.cfg.RegimeLookbackYears, 0, 0)
	bars, err := c.history.GetBars(ctx, benchmark, start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("benchmark history %s: %w", benchmark, err)
	}
	all := c.detector.Detect(bars)
	return all, regime.SelectRegimePeriods(all, c.cfg.RegimeMinDays), nil
}

func (c *Client) regimeWindows(ctx context.Context, benchmark string) []regimeWindow {
	_, selected, err := c.RegimeWindows(ctx, benchmark)
	if err != nil {
		c.logger.WithError(err).WithField("benchmark", benchmark).Warn("Validating without regime windows")
		return nil
	}
	windows := make([]regimeWindow, len(selected))
	for i, p := range selected {
		windows[i] = regimeWindow{Label: p.Label, Start: p.Start.Format(dateLayout), End: p.End.Format(dateLayout)}
	}
	return windows
}

// stamp fills identity fields the service may omit.
func (c *Client) stamp(r *contracts.StrategyResult, specID string, phase contracts.Phase) *contracts.StrategyResult {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.SpecID = specID
	r.Phase = phase
	if r.CreatedAt.IsZero() {
		r.CreatedAt = c.now().UTC()
	}
	return r
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}
