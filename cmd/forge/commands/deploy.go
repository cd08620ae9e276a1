package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/forge/internal/brain"
	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/deployer"
)

var (
	deployCmd = &cobra.Command{
		Use:   "deploy [spec_id]",
		Short: "Deploy a stored spec through the readiness gate",
		Long: `Loads the spec and its newest screen and validation results, runs the readiness
gate, connects an isolated broker and places the initial rebalance.

Example:
  go run ./cmd/forge deploy 6f1c... --mode paper --cash 50000
  go run ./cmd/forge deploy 6f1c... --symbols XLK,XLF,XLE`,
		Args: cobra.ExactArgs(1),
		RunE: runDeploy,
	}

	stopCmd = &cobra.Command{
		Use:   "stop [deployment_id]",
		Short: "Liquidate and stop a deployment",
		Args:  cobra.ExactArgs(1),
		RunE:  runStop,
	}

	deploymentsCmd = &cobra.Command{
		Use:   "deployments",
		Short: "List deployments",
		RunE:  runListDeployments,
	}

	deployMode    string
	deployCash    float64
	deploySymbols string
	stopReason    string
	listStatus    string
)

func init() {
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(deploymentsCmd)

	deployCmd.Flags().StringVar(&deployMode, "mode", "", "paper, paper_broker or live (default: policy)")
	deployCmd.Flags().Float64Var(&deployCash, "cash", 0, "initial cash (default: policy)")
	deployCmd.Flags().StringVar(&deploySymbols, "symbols", "", "comma-separated symbols (default: the spec's universe)")

	stopCmd.Flags().StringVar(&stopReason, "reason", "manual", "stop reason recorded on the deployment")

	deploymentsCmd.Flags().StringVar(&listStatus, "status", "", "pending, active or stopped")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	mode := contracts.DeploymentMode(deployMode)
	if mode != "" && !mode.Valid() {
		return fmt.Errorf("invalid mode %q", deployMode)
	}
	var symbols []string
	for _, s := range strings.Split(deploySymbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, strings.ToUpper(s))
		}
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	out, err := a.orch.DeploySpec(ctx, brain.DeploySpecRequest{
		SpecID:      args[0],
		Mode:        mode,
		InitialCash: deployCash,
		Symbols:     symbols,
	})
	if out != nil {
		if perr := emit(out, func() { printDeploy(out) }); perr != nil {
			return perr
		}
	}
	return err
}

func printDeploy(out *brain.DeployOutcome) {
	PrintHeader("Deploy", "Run ID", out.RunID)
	if out.Readiness != nil {
		for _, c := range out.Readiness.Checks {
			mark := "✅"
			if !c.Passed {
				mark = "❌"
			}
			fmt.Printf("  %s %-24s %s\n", mark, c.Name, c.Message)
		}
		fmt.Println()
	}
	if d := out.Deployment; d != nil {
		PrintSuccess(fmt.Sprintf("Deployment %s active (%s, %d symbols, cash %.2f)", d.ID, d.Mode, len(d.Symbols), d.InitialCash))
	}
	if r := out.Rebalance; r != nil {
		fmt.Printf("Initial rebalance: %d orders, %d filled, %d rejected\n", len(r.Orders), len(r.Trades), r.Rejected)
	}
	if len(out.Errors) > 0 {
		PrintList(out.Errors)
	}
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	result, err := a.orch.StopDeployment(ctx, args[0], stopReason)
	if err != nil {
		return fmt.Errorf("stop %s: %w", args[0], err)
	}
	return emit(result, func() { printStop(result) })
}

func printStop(r *deployer.StopResult) {
	if r.AlreadyStopped {
		PrintWarning(fmt.Sprintf("Deployment %s was already %s", r.Deployment.ID, r.Deployment.Status))
		return
	}
	PrintSuccess(fmt.Sprintf("Deployment %s stopped: %s", r.Deployment.ID, r.Deployment.StopReason))
	fmt.Printf("Cancelled orders: %d, liquidation sells: %d\n", r.Cancelled, len(r.Trades))
	if len(r.Errors) > 0 {
		PrintWarning("Liquidation was incomplete")
		PrintList(r.Errors)
	}
}

func runListDeployments(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	deployments, err := a.registry.ListDeployments(ctx, contracts.DeploymentStatus(listStatus))
	if err != nil {
		return fmt.Errorf("list deployments: %w", err)
	}
	return emit(deployments, func() {
		widths := []int{8, 8, 12, 7, 8, 12, 10}
		PrintTableHeader([]string{"ID", "Spec", "Mode", "Status", "Symbols", "Equity", "Started"}, widths)
		for _, d := range deployments {
			equity := "-"
			if snap, ok := d.LastSnapshot(); ok {
				equity = fmt.Sprintf("%.2f", snap.Equity)
			}
			started := "-"
			if !d.StartedAt.IsZero() {
				started = d.StartedAt.Format("2006-01-02")
			}
			PrintTableRow([]string{short(d.ID), short(d.SpecID), string(d.Mode), string(d.Status), fmt.Sprint(len(d.Symbols)), equity, started}, widths)
		}
	})
}
