package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/forge/internal/api"
	"github.com/wonny/forge/internal/audit"
	"github.com/wonny/forge/internal/brain"
	"github.com/wonny/forge/internal/broker"
	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/deployer"
	"github.com/wonny/forge/internal/engine"
	"github.com/wonny/forge/internal/evolver"
	"github.com/wonny/forge/internal/generator"
	"github.com/wonny/forge/internal/marketdata"
	"github.com/wonny/forge/internal/monitor"
	"github.com/wonny/forge/internal/notify"
	"github.com/wonny/forge/internal/observability"
	"github.com/wonny/forge/internal/policy"
	"github.com/wonny/forge/internal/promoter"
	"github.com/wonny/forge/internal/regime"
	"github.com/wonny/forge/internal/registry/postgres"
	"github.com/wonny/forge/internal/risk"
	"github.com/wonny/forge/internal/signal"
	"github.com/wonny/forge/internal/template"
	"github.com/wonny/forge/internal/universe"
	"github.com/wonny/forge/pkg/config"
	"github.com/wonny/forge/pkg/database"
	"github.com/wonny/forge/pkg/httputil"
	"github.com/wonny/forge/pkg/logger"
	"github.com/wonny/forge/pkg/redis"
)

// app is the wired control plane shared by every command.
// ⭐ SSOT: component construction happens here only
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	policy  *policy.Policy
	db      *database.DB
	redis   *redis.Client
	amqp    *notify.AMQPPublisher
	hub     *api.Hub
	metrics *observability.Metrics

	registry  *postgres.Registry
	prices    *marketdata.Repository
	detector  *regime.Detector
	universes *universe.Resolver
	deployer  *deployer.Deployer
	orch      *brain.Orchestrator
}

// loadBase reads config, policy and logger without touching the network.
func loadBase() (*config.Config, *policy.Policy, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if policyFile != "" {
		cfg.PolicyPath = policyFile
	}
	log := logger.New(cfg)

	pol, err := policy.LoadOrDefault(cfg.PolicyPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load policy: %w", err)
	}
	hash, err := policy.Hash(pol)
	if err != nil {
		return nil, nil, nil, err
	}
	log.WithFields(map[string]interface{}{
		"policy":  pol.Meta.Name,
		"version": pol.Meta.Version,
		"hash":    hash[:12],
		"env":     cfg.Env,
	}).Info("Policy loaded")
	return cfg, pol, log, nil
}

// newApp connects storage and wires every component. With withHub set, lifecycle
// events also stream to websocket clients.
func newApp(withHub bool) (*app, error) {
	cfg, pol, log, err := loadBase()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, policy: pol, metrics: observability.NewMetrics()}

	a.db, err = database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.redis, err = redis.New(cfg)
	if err != nil {
		a.Close(context.Background())
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	var notifiers notify.Fanout
	if withHub {
		a.hub = api.NewHub(log.Component("ws"))
		notifiers = append(notifiers, a.hub)
	}
	if cfg.RabbitMQ.Enabled {
		a.amqp, err = notify.NewAMQPPublisher(cfg.RabbitMQ, log.Component("notify"))
		if err != nil {
			a.Close(context.Background())
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		notifiers = append(notifiers, a.amqp)
	}

	a.wire(notifiers)
	return a, nil
}

func (a *app) wire(notifiers notify.Notifier) {
	cfg, pol, log := a.cfg, a.policy, a.log

	a.registry = postgres.New(a.db.Pool)
	a.prices = marketdata.NewRepository(a.db.Pool)
	history := marketdata.NewCachedHistory(a.prices, redis.NewCache(a.redis, "forge:prices"), log.Component("marketdata"))
	templates := template.NewRegistry()
	a.detector = regime.NewDetector(pol.Regime)

	scrapeClient := httputil.New(log.Component("universe"), 30*time.Second).WithRetry(httputil.DefaultRetryConfig())
	a.universes = universe.NewResolver(
		universe.NewSP500Scraper(scrapeClient, cfg.Universe.SP500URL),
		redis.NewCache(a.redis, "forge:universe"),
		cfg.Universe.CacheTTL,
		log.Component("universe"),
	)

	gen := generator.NewLLMGenerator(generator.Config{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	}, templates, contracts.DefaultRiskParams(), redis.NewRateLimiter(a.redis, "forge:ratelimit"), log.Component("generator"))
	backtests := engine.NewClient(engine.Config{
		BaseURL: cfg.Engine.BaseURL,
		Timeout: cfg.Engine.Timeout,
	}, history, a.detector, log.Component("engine"))

	riskEngine := risk.NewEngine(pol.Risk)
	auditor := audit.NewAuditor(pol.Audit, riskEngine)

	evo := evolver.New(pol.Evolution, evolver.Collaborators{
		Generator: gen,
		Screener:  backtests,
		Validator: backtests,
		Registry:  a.registry,
		Universes: a.universes,
		Metrics:   a.metrics,
	}, riskEngine, auditor, log.Component("evolver"))

	a.deployer = deployer.New(pol.Deployment, deployer.Collaborators{
		Registry:  a.registry,
		Brokers:   broker.NewFactory(cfg.Broker, a.prices, log.Component("broker")),
		Signals:   signal.NewSource(history, templates, signal.DefaultConfig(), log.Component("signal")),
		Universes: a.universes,
		Metrics:   a.metrics,
	}, riskEngine, auditor, log.Component("deployer"))

	mon := monitor.New(pol.Monitoring, riskEngine)

	a.orch = brain.NewOrchestrator(pol.Orchestrator, brain.Components{
		Evolver:   evo,
		Deployer:  a.deployer,
		Monitor:   mon,
		Promoter:  promoter.New(pol.Promotion, mon),
		Registry:  a.registry,
		Universes: a.universes,
		Notifier:  notifiers,
		Metrics:   a.metrics,
	}, log.Component("brain"))
}

// Close releases brokers and connections. Safe on a partially built app.
func (a *app) Close(ctx context.Context) {
	if a.deployer != nil {
		a.deployer.Close(ctx)
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close RabbitMQ publisher")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
