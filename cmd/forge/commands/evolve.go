package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/forge/internal/brain"
	"github.com/wonny/forge/internal/contracts"
)

var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Run evolution cycles, optionally deploying the best survivor",
	Long: `Resolves the universe, runs generate -> screen -> validate -> audit cycles and
stops early once the search stagnates. With --deploy the best candidate that passed
validation and audit is deployed and traded to its first targets.

Example:
  go run ./cmd/forge evolve --universe sector_etfs --cycles 3
  go run ./cmd/forge evolve --universe dow30 --deploy --mode paper`,
	RunE: runEvolve,
}

var (
	evolveUniverse string
	evolveCycles   int
	evolveDeploy   bool
	evolveMode     string
)

func init() {
	rootCmd.AddCommand(evolveCmd)

	evolveCmd.Flags().StringVar(&evolveUniverse, "universe", "", "universe id (default: SCHEDULE_UNIVERSE)")
	evolveCmd.Flags().IntVar(&evolveCycles, "cycles", 1, "maximum cycles to run")
	evolveCmd.Flags().BoolVar(&evolveDeploy, "deploy", false, "deploy the best passing candidate")
	evolveCmd.Flags().StringVar(&evolveMode, "mode", "", "deployment mode: paper, paper_broker, live (default: policy)")
}

func runEvolve(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	universeID := evolveUniverse
	if universeID == "" {
		universeID = a.cfg.Schedule.UniverseID
	}
	mode := contracts.DeploymentMode(evolveMode)
	if mode != "" && !mode.Valid() {
		return fmt.Errorf("invalid mode %q", evolveMode)
	}

	result, err := a.orch.RunFullCycle(ctx, brain.FullCycleRequest{
		UniverseID: universeID,
		Cycles:     evolveCycles,
		Deploy:     &evolveDeploy,
		Mode:       mode,
	})
	if result != nil {
		if perr := emit(result, func() { printFullCycle(result) }); perr != nil {
			return perr
		}
	}
	return err
}

func printFullCycle(r *brain.FullCycleResult) {
	PrintHeader("Evolution", "Run ID", r.RunID, "Universe", r.UniverseID, "Symbols", fmt.Sprint(r.Symbols))

	if r.Evolution != nil {
		widths := []int{5, 8, 9, 8, 9, 6, 8, 8}
		PrintTableHeader([]string{"Cycle", "Mode", "Generated", "Screened", "Validated", "Passed", "Sharpe", "Improved"}, widths)
		for _, c := range r.Evolution.Cycles {
			PrintTableRow([]string{
				fmt.Sprint(c.Cycle),
				string(c.Mode),
				fmt.Sprint(c.Generated),
				fmt.Sprint(c.Screened),
				fmt.Sprint(c.Validated),
				fmt.Sprint(c.Passed),
				fmt.Sprintf("%.2f", c.BestSharpe),
				fmt.Sprint(c.Improved),
			}, widths)
		}
		fmt.Println()
		fmt.Printf("Best Sharpe: %.2f (%s)\n", r.Evolution.BestSharpe, r.Evolution.BestSpecID)
		if r.Evolution.Exhausted {
			PrintWarning("Search exhausted: no improvement for the configured number of cycles")
		}
	}

	if r.Readiness != nil && !r.Readiness.Passed {
		PrintError("Readiness gate failed")
		for _, c := range r.Readiness.Failed() {
			PrintList([]string{c.Name + ": " + c.Message})
		}
	}
	if r.Deployment != nil {
		PrintSuccess(fmt.Sprintf("Deployed %s as %s (%s)", r.Deployment.SpecID, r.Deployment.ID, r.Deployment.Mode))
	}
	if r.Rebalance != nil {
		fmt.Printf("Initial rebalance: %d orders, %d filled, %d rejected\n", len(r.Rebalance.Orders), len(r.Rebalance.Trades), r.Rebalance.Rejected)
	}
	if len(r.Errors) > 0 {
		PrintWarning(fmt.Sprintf("%d errors", len(r.Errors)))
		PrintList(r.Errors)
	}
}
