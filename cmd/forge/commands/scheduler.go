package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/forge/internal/scheduler"
	"github.com/wonny/forge/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the periodic control loops",
	Long: `Schedules the evolution, monitoring, rebalance and promotion loops from the
SCHEDULE_* cron expressions (with seconds). An empty expression disables a loop.

Subcommands:
  start   - run the scheduler until Ctrl+C
  list    - show registered jobs and their next run
  run     - run one job now and wait for it

Example:
  go run ./cmd/forge scheduler start
  go run ./cmd/forge scheduler run monitoring`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler",
		RunE:  runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "Run a job immediately",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobNow,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

// newScheduler registers the control loops against the app's orchestrator.
func newScheduler(a *app) (*scheduler.Scheduler, error) {
	sched := scheduler.New(scheduler.DefaultConfig(), a.metrics, a.log.Component("scheduler"))
	if err := jobs.Register(sched, a.orch, a.cfg.Schedule, a.log.Component("jobs")); err != nil {
		return nil, err
	}
	return sched, nil
}

// restoreDeployments reconnects brokers for active deployments after a restart.
func restoreDeployments(ctx context.Context, a *app) {
	restored, errs := a.deployer.Restore(ctx)
	for _, err := range errs {
		a.log.WithError(err).Warn("Deployment restore failed")
	}
	a.log.WithField("restored", restored).Info("Active deployments restored")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	sched, err := newScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	restoreDeployments(ctx, a)

	var metricsServer *http.Server
	if a.cfg.MetricsEnabled {
		metricsServer = &http.Server{
			Addr:              ":" + a.cfg.MetricsPort,
			Handler:           a.metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	sched.Start()
	PrintSuccess("Scheduler started")
	printJobTable(sched)
	fmt.Println("\nPress Ctrl+C to stop")

	<-ctx.Done()

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	fmt.Println("Scheduler stopped")
	return nil
}

func printJobTable(sched *scheduler.Scheduler) {
	stats := sched.GetJobStats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	widths := []int{12, 22, 19}
	PrintTableHeader([]string{"Job", "Schedule", "Next run"}, widths)
	for _, name := range names {
		st := stats[name]
		next := "-"
		if st.NextRun != nil {
			next = st.NextRun.Format("2006-01-02 15:04:05")
		}
		PrintTableRow([]string{name, st.Schedule, next}, widths)
	}
}

func listJobs(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	sched, err := newScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	// Next-run times are only computed by a running cron.
	sched.Start()
	defer sched.Stop()
	printJobTable(sched)
	return nil
}

func runJobNow(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	sched, err := newScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	fmt.Printf("Running job: %s\n", args[0])
	result, err := sched.RunJob(ctx, args[0])
	if err != nil {
		if result.Attempts > 0 {
			PrintError(fmt.Sprintf("%s failed after %d attempts", result.JobName, result.Attempts))
		}
		return err
	}
	PrintSuccess(fmt.Sprintf("%s completed in %s", result.JobName, result.Duration.Round(time.Millisecond)))
	return nil
}
