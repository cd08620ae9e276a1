package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/forge/internal/api"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the HTTP API and event stream",
	Long: `Serves deployment state, reports and sweep triggers over HTTP and streams
lifecycle events over a websocket.

Endpoints:
  GET  /health
  GET  /metrics
  GET  /api/deployments?status=
  GET  /api/deployments/{id}
  GET  /api/deployments/{id}/comparison
  GET  /api/deployments/{id}/promotion
  POST /api/deployments/{id}/stop
  POST /api/sweeps/{monitoring|rebalance|promotion}
  GET  /api/specs/best?phase=&metric=&limit=&passed=
  GET  /ws/events

Example:
  go run ./cmd/forge api
  go run ./cmd/forge api --port 8080 --with-scheduler`,
	RunE: runAPIServer,
}

var (
	apiPort          string
	apiWithScheduler bool
)

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "listen port (default: PORT)")
	apiCmd.Flags().BoolVar(&apiWithScheduler, "with-scheduler", false, "also run the control loops in this process")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	go a.hub.Run(ctx)
	restoreDeployments(ctx, a)

	if apiWithScheduler {
		sched, err := newScheduler(a)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	router := api.NewRouter(api.Deps{
		Registry:   a.registry,
		Operations: a.orch,
		Metrics:    a.metrics,
		Hub:        a.hub,
		Database:   a.db,
	}, a.log.Component("api"))
	server := api.New(a.cfg, a.log, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.log.Info("Server stopped")
	return nil
}
