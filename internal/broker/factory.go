package broker

import (
	"fmt"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/pkg/config"
	"github.com/wonny/forge/pkg/logger"
)

// Factory builds one isolated broker per deployment.
type Factory struct {
	cfg    config.BrokerConfig
	feed   PriceFeed
	logger *logger.Logger
}

// NewFactory creates a factory. feed prices paper-mode fills.
func NewFactory(cfg config.BrokerConfig, feed PriceFeed, log *logger.Logger) *Factory {
	return &Factory{cfg: cfg, feed: feed, logger: log}
}

// New returns a fresh, unconnected broker. Instances are never cached or shared.
func (f *Factory) New(deploymentID string, mode contracts.DeploymentMode, initialCash float64) (Broker, error) {
	log := f.logger.WithFields(map[string]interface{}{
		"deployment_id": deploymentID,
		"mode":          mode,
	})

	switch mode {
	case contracts.ModePaper:
		return NewPaperBroker(initialCash, f.feed, f.cfg.PaperCommissionPerShare, log), nil
	case contracts.ModePaperBroker:
		return NewHTTPBroker(f.httpConfig(f.cfg.PaperURL), log), nil
	case contracts.ModeLive:
		if f.cfg.KeyID == "" || f.cfg.Secret == "" {
			return nil, fmt.Errorf("live broker requires BROKER_KEY_ID and BROKER_SECRET")
		}
		return NewHTTPBroker(f.httpConfig(f.cfg.LiveURL), log), nil
	default:
		return nil, fmt.Errorf("unknown deployment mode %q", mode)
	}
}

func (f *Factory) httpConfig(baseURL string) HTTPConfig {
	return HTTPConfig{
		BaseURL:           baseURL,
		KeyID:             f.cfg.KeyID,
		Secret:            f.cfg.Secret,
		RequestsPerSecond: f.cfg.RequestsPerSecond,
		FillPollAttempts:  f.cfg.FillPollAttempts,
		FillPollInterval:  f.cfg.FillPollInterval,
	}
}
