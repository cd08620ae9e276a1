package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/forge/internal/brain"
)

var (
	monitorCmd = &cobra.Command{
		Use:   "monitor",
		Short: "Compare live deployments against validation and auto-stop on risk breaches",
		Long: `Snapshots every active deployment, compares live returns, Sharpe and drawdown
against the validation baseline and stops any deployment that breaks a risk limit.

Example:
  go run ./cmd/forge monitor
  go run ./cmd/forge monitor --json`,
		RunE: runMonitor,
	}

	rebalanceCmd = &cobra.Command{
		Use:   "rebalance",
		Short: "Rebalance every active deployment to its signal targets",
		RunE:  runRebalanceSweep,
	}

	promoteCmd = &cobra.Command{
		Use:   "promote",
		Short: "Evaluate active deployments for promotion (advisory only)",
		RunE:  runPromote,
	}
)

func init() {
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(rebalanceCmd)
	rootCmd.AddCommand(promoteCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	result, err := a.orch.RunMonitoring(ctx)
	if result != nil {
		if perr := emit(result, func() { printMonitoring(result) }); perr != nil {
			return perr
		}
	}
	return err
}

func printSweep(title string, s brain.SweepResult) {
	PrintHeader(title, "Run ID", s.RunID, "Active", fmt.Sprint(s.Active), "Visited", fmt.Sprint(s.Visited), "Duration", s.Duration.String())
	if len(s.Skipped) > 0 {
		PrintWarning(fmt.Sprintf("Skipped %d deployments after cancellation", len(s.Skipped)))
	}
}

func printSweepErrors(s brain.SweepResult) {
	if len(s.Errors) > 0 {
		fmt.Println()
		PrintWarning(fmt.Sprintf("%d errors", len(s.Errors)))
		PrintList(s.Errors)
	}
}

func printMonitoring(r *brain.MonitoringResult) {
	printSweep("Monitoring", r.SweepResult)

	widths := []int{8, 10, 10, 10, 10, 9, 12}
	PrintTableHeader([]string{"ID", "Return", "Drift", "Sharpe", "MaxDD", "Days", "Status"}, widths)
	for _, o := range r.Outcomes {
		if o == nil {
			continue
		}
		status := "ok"
		switch {
		case o.Error != "":
			status = "error"
		case o.AutoStopped:
			status = "AUTO-STOP"
		case o.Comparison != nil && !o.Comparison.WithinTolerance:
			status = "drifting"
		}
		row := []string{short(o.DeploymentID), "-", "-", "-", "-", "-", status}
		if c := o.Comparison; c != nil {
			row = []string{short(o.DeploymentID), pct(c.LiveReturn), pct(c.ReturnDrift), fmt.Sprintf("%.2f", c.LiveSharpe), pct(c.LiveMaxDrawdown), fmt.Sprintf("%.1f", c.DaysElapsed), status}
		}
		PrintTableRow(row, widths)
		for _, v := range o.Violations {
			fmt.Printf("    ↳ %s\n", v.String())
		}
		if o.Comparison != nil && len(o.Comparison.Alerts) > 0 {
			fmt.Printf("    ↳ %s\n", strings.Join(o.Comparison.Alerts, "; "))
		}
	}
	if r.AutoStopped > 0 {
		fmt.Println()
		PrintError(fmt.Sprintf("%d deployments auto-stopped", r.AutoStopped))
	}
	printSweepErrors(r.SweepResult)
}

func runRebalanceSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	result, err := a.orch.RunRebalance(ctx)
	if result != nil {
		if perr := emit(result, func() {
			printSweep("Rebalance", result.SweepResult)
			widths := []int{8, 7, 7, 9, 12}
			PrintTableHeader([]string{"ID", "Orders", "Filled", "Rejected", "Equity"}, widths)
			for _, rb := range result.Results {
				if rb == nil {
					continue
				}
				equity := "-"
				if rb.Snapshot != nil {
					equity = fmt.Sprintf("%.2f", rb.Snapshot.Equity)
				}
				PrintTableRow([]string{short(rb.DeploymentID), fmt.Sprint(len(rb.Orders)), fmt.Sprint(len(rb.Trades)), fmt.Sprint(rb.Rejected), equity}, widths)
			}
			printSweepErrors(result.SweepResult)
		}); perr != nil {
			return perr
		}
	}
	return err
}

func runPromote(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	result, err := a.orch.RunPromotion(ctx)
	if result != nil {
		if perr := emit(result, func() {
			printSweep("Promotion", result.SweepResult)
			for _, rep := range result.Reports {
				if rep == nil {
					continue
				}
				fmt.Printf("%s  %-12s  %.1f days\n", short(rep.DeploymentID), rep.Decision, rep.DaysElapsed)
				PrintList(rep.Reasoning)
			}
			printSweepErrors(result.SweepResult)
		}); perr != nil {
			return perr
		}
	}
	return err
}
