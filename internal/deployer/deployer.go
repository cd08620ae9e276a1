// Package deployer owns the deployment lifecycle: readiness gate, deploy, rebalance and stop.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wonny/forge/internal/audit"
	"github.com/wonny/forge/internal/broker"
	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/observability"
	"github.com/wonny/forge/internal/risk"
	"github.com/wonny/forge/pkg/logger"
)

var (
	// ErrNotActive is returned when rebalancing a deployment that is not active.
	ErrNotActive = errors.New("deployment not active")
	// ErrUnknownDeployment is returned for ids the registry does not know.
	ErrUnknownDeployment = errors.New("unknown deployment")
	// ErrNotReady is returned by Deploy when the readiness gate fails.
	ErrNotReady = errors.New("deployment readiness gate failed")
)

// BrokerFactory creates one isolated broker per deployment id.
type BrokerFactory interface {
	New(deploymentID string, mode contracts.DeploymentMode, initialCash float64) (broker.Broker, error)
}

// Config holds deployment settings.
type Config struct {
	RequireAudit bool                     `json:"require_audit" yaml:"require_audit"`
	InitialCash  float64                  `json:"initial_cash" yaml:"initial_cash"`
	DefaultMode  contracts.DeploymentMode `json:"default_mode" yaml:"default_mode"`
	AllowLive    bool                     `json:"allow_live" yaml:"allow_live"`

	// RebalanceBand skips resizing a held position when the trade would move less than
	// this fraction of equity. Entries and exits to zero always trade.
	RebalanceBand float64 `json:"rebalance_band" yaml:"rebalance_band"`
}

// DefaultConfig deploys to the in-process paper broker with the audit gate on.
func DefaultConfig() Config {
	return Config{
		RequireAudit:  true,
		InitialCash:   100_000,
		DefaultMode:   contracts.ModePaper,
		RebalanceBand: 0.005,
	}
}

// Collaborators are the deployer's external dependencies. Universes and Metrics are optional.
type Collaborators struct {
	Registry  contracts.Registry
	Brokers   BrokerFactory
	Signals   contracts.SignalSource
	Universes contracts.UniverseResolver
	Metrics   *observability.Metrics
}

// session is a deployment's exclusively owned broker. mu serializes rebalance and stop.
type session struct {
	mu     sync.Mutex
	broker broker.Broker
}

// Deployer manages deployments.
// ⭐ SSOT: deployment state transitions and order placement happen here only
type Deployer struct {
	cfg     Config
	deps    Collaborators
	risk    *risk.Engine
	auditor *audit.Auditor
	now     func() time.Time
	logger  *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a deployer with no open sessions.
func New(cfg Config, deps Collaborators, engine *risk.Engine, auditor *audit.Auditor, log *logger.Logger) *Deployer {
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = DefaultConfig().InitialCash
	}
	if !cfg.DefaultMode.Valid() {
		cfg.DefaultMode = contracts.ModePaper
	}
	return &Deployer{
		cfg:      cfg,
		deps:     deps,
		risk:     engine,
		auditor:  auditor,
		now:      time.Now,
		logger:   log,
		sessions: make(map[string]*session),
	}
}

// Config returns the deployer's configuration.
func (d *Deployer) Config() Config {
	return d.cfg
}

// ============================================================================
// Deploy
// ============================================================================

// DeployRequest describes a deployment. Zero Mode, InitialCash and Symbols take defaults;
// symbols default to the spec's universe.
type DeployRequest struct {
	Spec        contracts.StrategySpec
	Screen      *contracts.StrategyResult
	Validation  *contracts.StrategyResult
	Mode        contracts.DeploymentMode
	InitialCash float64
	Symbols     []string
}

// Deploy gates, connects an isolated broker and persists an active deployment.
// A failed gate returns the report together with ErrNotReady.
func (d *Deployer) Deploy(ctx context.Context, req DeployRequest) (*contracts.Deployment, *contracts.AuditReport, error) {
	report := d.ValidateReadiness(req.Spec, req.Screen, req.Validation)
	if !report.Passed {
		d.logger.WithFields(map[string]interface{}{
			"spec_id": req.Spec.ID,
			"failed":  len(report.Failed()),
		}).Warn("Deployment blocked by readiness gate")
		return nil, report, ErrNotReady
	}

	mode := req.Mode
	if mode == "" {
		mode = d.cfg.DefaultMode
	}
	if !mode.Valid() {
		return nil, report, fmt.Errorf("unknown deployment mode %q", mode)
	}
	if mode == contracts.ModeLive && !d.cfg.AllowLive {
		return nil, report, fmt.Errorf("live deployments are disabled")
	}
	cash := req.InitialCash
	if cash <= 0 {
		cash = d.cfg.InitialCash
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		if d.deps.Universes == nil {
			return nil, report, fmt.Errorf("no symbols given and no universe resolver")
		}
		resolved, err := d.deps.Universes.Resolve(ctx, req.Spec.UniverseID)
		if err != nil {
			return nil, report, fmt.Errorf("resolve universe %s: %w", req.Spec.UniverseID, err)
		}
		symbols = resolved
	}

	dep := contracts.NewDeployment(req.Spec.ID, mode, symbols, cash)
	b, err := d.deps.Brokers.New(dep.ID, mode, cash)
	if err != nil {
		return nil, report, fmt.Errorf("create broker: %w", err)
	}
	if err := b.Connect(ctx); err != nil {
		return nil, report, fmt.Errorf("connect broker: %w", err)
	}

	dep.Status = contracts.StatusActive
	dep.StartedAt = d.now().UTC()
	if err := d.deps.Registry.SaveDeployment(ctx, dep); err != nil {
		_ = b.Disconnect(ctx)
		return nil, report, fmt.Errorf("save deployment: %w", err)
	}

	d.mu.Lock()
	d.sessions[dep.ID] = &session{broker: b}
	d.mu.Unlock()

	d.logger.WithFields(map[string]interface{}{
		"deployment_id": dep.ID,
		"spec_id":       dep.SpecID,
		"mode":          string(mode),
		"symbols":       len(symbols),
		"initial_cash":  cash,
	}).Info("Deployment started")

	return dep, report, nil
}

// ============================================================================
// Sessions
// ============================================================================

// load fetches a deployment, mapping a missing row to ErrUnknownDeployment.
func (d *Deployer) load(ctx context.Context, id string) (*contracts.Deployment, error) {
	dep, err := d.deps.Registry.GetDeployment(ctx, id)
	if errors.Is(err, contracts.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDeployment, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load deployment %s: %w", id, err)
	}
	return dep, nil
}

func (d *Deployer) sessionFor(id string) *session {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	if !ok {
		s = &session{}
		d.sessions[id] = s
	}
	return s
}

func (d *Deployer) dropSession(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, id)
}

// ensureBroker opens the session's broker if this process has not yet.
// An in-process broker is rehydrated from the last snapshot so deltas start from the true state.
// Caller holds s.mu.
func (d *Deployer) ensureBroker(ctx context.Context, s *session, dep *contracts.Deployment) error {
	if s.broker != nil {
		if s.broker.IsConnected() {
			return nil
		}
		return s.broker.Connect(ctx)
	}

	b, err := d.deps.Brokers.New(dep.ID, dep.Mode, dep.InitialCash)
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}
	if snap, ok := dep.LastSnapshot(); ok {
		if r, ok := b.(broker.Rehydrator); ok {
			if err := r.Rehydrate(snap.Cash, snap.Positions); err != nil {
				return fmt.Errorf("rehydrate broker: %w", err)
			}
			d.logger.WithFields(map[string]interface{}{
				"deployment_id": dep.ID,
				"cash":          snap.Cash,
				"positions":     len(snap.Positions),
				"snapshot_at":   snap.Timestamp,
			}).Info("Broker rehydrated from last snapshot")
		}
	}
	if err := b.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	s.broker = b
	return nil
}

// Restore opens brokers for every active deployment, rehydrating paper accounts.
// Failures are per deployment and do not stop the rest.
func (d *Deployer) Restore(ctx context.Context) (int, []error) {
	active, err := d.deps.Registry.ListDeployments(ctx, contracts.StatusActive)
	if err != nil {
		return 0, []error{fmt.Errorf("list active deployments: %w", err)}
	}

	var errs []error
	restored := 0
	for _, dep := range active {
		s := d.sessionFor(dep.ID)
		s.mu.Lock()
		err := d.ensureBroker(ctx, s, dep)
		s.mu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("deployment %s: %w", dep.ID, err))
			continue
		}
		restored++
	}
	return restored, errs
}

// Close disconnects every open broker.
func (d *Deployer) Close(ctx context.Context) {
	d.mu.Lock()
	sessions := make(map[string]*session, len(d.sessions))
	for id, s := range d.sessions {
		sessions[id] = s
	}
	d.sessions = make(map[string]*session)
	d.mu.Unlock()

	for id, s := range sessions {
		s.mu.Lock()
		if s.broker != nil {
			if err := s.broker.Disconnect(ctx); err != nil {
				d.logger.WithField("deployment_id", id).WithError(err).Warn("Broker disconnect failed")
			}
		}
		s.mu.Unlock()
	}
}

// ============================================================================
// Rebalance
// ============================================================================

// RebalanceResult summarizes one rebalance. Rejected counts orders the broker declined without error.
type RebalanceResult struct {
	DeploymentID string                   `json:"deployment_id"`
	Signals      []contracts.SymbolSignal `json:"signals"`
	Targets      []Target                 `json:"targets"`
	Orders       []Order                  `json:"orders"`
	Trades       []contracts.TradeRecord  `json:"trades"`
	Rejected     int                      `json:"rejected"`
	Snapshot     *contracts.LiveSnapshot  `json:"snapshot,omitempty"`
	Errors       []string                 `json:"errors"`
	Duration     time.Duration            `json:"duration"`
}

// Rebalance moves an active deployment to its signal-implied targets.
// Orders are planned from one account read taken under the deployment lock.
func (d *Deployer) Rebalance(ctx context.Context, id string) (*RebalanceResult, error) {
	start := time.Now()
	s := d.sessionFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	dep, err := d.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !dep.IsActive() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, id, dep.Status)
	}
	spec, err := d.deps.Registry.GetSpec(ctx, dep.SpecID)
	if err != nil {
		return nil, fmt.Errorf("load spec %s: %w", dep.SpecID, err)
	}
	if err := d.ensureBroker(ctx, s, dep); err != nil {
		return nil, err
	}

	log := d.logger.WithFields(map[string]interface{}{"deployment_id": id, "spec_id": spec.ID})
	result := &RebalanceResult{DeploymentID: id}

	signals, err := d.deps.Signals.Signals(ctx, *spec, dep.Symbols)
	if err != nil {
		return nil, fmt.Errorf("signals: %w", err)
	}
	result.Signals = signals

	account, err := broker.ReadAccount(ctx, s.broker)
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}

	targets := TargetWeights(signals, spec.Risk, d.risk.Limits())
	result.Targets, result.Orders = PlanOrders(targets, flatSymbols(signals, targets), account.Summary.Equity, account.Holdings(), d.cfg.RebalanceBand)

	result.Trades, result.Rejected, result.Errors = d.execute(ctx, s.broker, id, result.Orders, log)

	if err := d.persist(ctx, s.broker, dep, result.Trades, result); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	result.Duration = time.Since(start)

	log.WithFields(map[string]interface{}{
		"equity":   account.Summary.Equity,
		"targets":  len(result.Targets),
		"orders":   len(result.Orders),
		"filled":   len(result.Trades),
		"rejected": result.Rejected,
		"errors":   len(result.Errors),
	}).Info("Rebalance completed")

	return result, nil
}

// flatSymbols lists signalled symbols that should hold nothing.
func flatSymbols(signals []contracts.SymbolSignal, targets []Target) []string {
	in := make(map[string]bool, len(targets))
	for _, t := range targets {
		in[t.Symbol] = true
	}
	var flat []string
	for _, s := range signals {
		if in[s.Symbol] || (s.Long && s.Price <= 0) {
			continue
		}
		flat = append(flat, s.Symbol)
	}
	return flat
}

// execute places orders one by one. A failed or rejected order does not stop the others.
func (d *Deployer) execute(ctx context.Context, b broker.Broker, id string, orders []Order, log *logger.Logger) ([]contracts.TradeRecord, int, []string) {
	var (
		trades   []contracts.TradeRecord
		rejected int
		errs     []string
	)
	for _, o := range orders {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Sprintf("%s %s: %v", o.Side, o.Symbol, ctx.Err()))
			continue
		}
		trade, err := b.PlaceOrder(ctx, o.Symbol, o.Side, o.Quantity)
		switch {
		case err != nil:
			d.deps.Metrics.RecordOrder(string(o.Side), "error")
			errs = append(errs, fmt.Sprintf("%s %d %s: %v", o.Side, o.Quantity, o.Symbol, err))
			log.WithFields(map[string]interface{}{"symbol": o.Symbol, "side": string(o.Side), "qty": o.Quantity}).WithError(err).Warn("Order failed")
		case trade == nil:
			d.deps.Metrics.RecordOrder(string(o.Side), "rejected")
			rejected++
			log.WithFields(map[string]interface{}{"symbol": o.Symbol, "side": string(o.Side), "qty": o.Quantity}).Warn("Order rejected")
		default:
			d.deps.Metrics.RecordOrder(string(o.Side), "filled")
			trade.DeploymentID = id
			trades = append(trades, *trade)
		}
	}
	return trades, rejected, errs
}

// persist appends trades and a post-trade snapshot. The snapshot carries cumulative counts.
func (d *Deployer) persist(ctx context.Context, b broker.Broker, dep *contracts.Deployment, trades []contracts.TradeRecord, result *RebalanceResult) error {
	if len(trades) > 0 {
		if err := d.deps.Registry.AppendTrades(ctx, dep.ID, trades); err != nil {
			return fmt.Errorf("append trades: %w", err)
		}
	}
	snap, err := d.snapshot(ctx, b, dep, trades)
	if err != nil {
		return err
	}
	if result != nil {
		result.Snapshot = snap
	}
	return nil
}

func (d *Deployer) snapshot(ctx context.Context, b broker.Broker, dep *contracts.Deployment, newTrades []contracts.TradeRecord) (*contracts.LiveSnapshot, error) {
	account, err := broker.ReadAccount(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("snapshot account: %w", err)
	}
	fees := dep.TotalFees()
	for _, t := range newTrades {
		fees += t.Commission
	}
	snap := contracts.LiveSnapshot{
		DeploymentID: dep.ID,
		Timestamp:    d.now().UTC(),
		Equity:       account.Summary.Equity,
		Cash:         account.Summary.Cash,
		Positions:    account.Positions,
		TotalTrades:  len(dep.Trades) + len(newTrades),
		TotalFees:    fees,
	}
	if err := d.deps.Registry.AppendSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("append snapshot: %w", err)
	}
	return &snap, nil
}

// RecordSnapshot marks an active deployment to market and appends a snapshot without trading.
func (d *Deployer) RecordSnapshot(ctx context.Context, id string) (*contracts.LiveSnapshot, error) {
	s := d.sessionFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	dep, err := d.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !dep.IsActive() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, id, dep.Status)
	}
	if err := d.ensureBroker(ctx, s, dep); err != nil {
		return nil, err
	}
	return d.snapshot(ctx, s.broker, dep, nil)
}

// ============================================================================
// Stop
// ============================================================================

// StopResult summarizes a stop. AlreadyStopped means the call was a no-op.
type StopResult struct {
	Deployment     *contracts.Deployment   `json:"deployment"`
	AlreadyStopped bool                    `json:"already_stopped"`
	Cancelled      int                     `json:"cancelled"`
	Trades         []contracts.TradeRecord `json:"trades"`
	Errors         []string                `json:"errors"`
}

// Stop cancels open orders, sells every position and marks the deployment stopped.
// Stopping a deployment that is not active is a no-op. Liquidation errors are reported,
// and the deployment is still marked stopped.
func (d *Deployer) Stop(ctx context.Context, id, reason string) (*StopResult, error) {
	s := d.sessionFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	dep, err := d.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !dep.IsActive() {
		return &StopResult{Deployment: dep, AlreadyStopped: true}, nil
	}

	log := d.logger.WithFields(map[string]interface{}{"deployment_id": id, "reason": reason})
	result := &StopResult{}

	if err := d.ensureBroker(ctx, s, dep); err != nil {
		result.Errors = append(result.Errors, err.Error())
		log.WithError(err).Error("Broker unavailable, marking stopped without liquidation")
	} else {
		d.liquidate(ctx, s.broker, dep, result, log)
	}

	stoppedAt := d.now().UTC()
	dep.Status = contracts.StatusStopped
	dep.StoppedAt = &stoppedAt
	dep.StopReason = reason
	if err := d.deps.Registry.SaveDeployment(ctx, dep); err != nil {
		return nil, fmt.Errorf("save stopped deployment: %w", err)
	}

	if s.broker != nil {
		if err := s.broker.Disconnect(ctx); err != nil {
			log.WithError(err).Warn("Broker disconnect failed")
		}
	}
	d.dropSession(id)

	result.Deployment = dep
	log.WithFields(map[string]interface{}{
		"cancelled": result.Cancelled,
		"sold":      len(result.Trades),
		"errors":    len(result.Errors),
	}).Info("Deployment stopped")
	return result, nil
}

// liquidate cancels then sells down to zero, recording trades and a final snapshot.
func (d *Deployer) liquidate(ctx context.Context, b broker.Broker, dep *contracts.Deployment, result *StopResult, log *logger.Logger) {
	cancelled, err := b.CancelAllOrders(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("cancel orders: %v", err))
	}
	result.Cancelled = cancelled

	positions, err := b.GetPositions(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("positions: %v", err))
		return
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	var orders []Order
	for _, p := range positions {
		if p.Quantity > 0 {
			orders = append(orders, Order{Symbol: p.Symbol, Side: contracts.SideSell, Quantity: p.Quantity})
		}
	}
	trades, rejected, errs := d.execute(ctx, b, dep.ID, orders, log)
	result.Trades = trades
	result.Errors = append(result.Errors, errs...)
	if rejected > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("%d liquidation orders rejected", rejected))
	}

	if err := d.persist(ctx, b, dep, trades, nil); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	dep.Trades = append(dep.Trades, trades...)
}

// ============================================================================
// Helpers
// ============================================================================

// IsNotActive reports whether err means the deployment cannot be traded.
func IsNotActive(err error) bool {
	return errors.Is(err, ErrNotActive) || errors.Is(err, ErrUnknownDeployment)
}

// ModeFromString parses a CLI or API mode argument.
func ModeFromString(s string) (contracts.DeploymentMode, error) {
	m := contracts.DeploymentMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown deployment mode %q (want paper, paper_broker or live)", s)
	}
	return m, nil
}
