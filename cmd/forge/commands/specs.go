package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/forge/internal/contracts"
)

var specsCmd = &cobra.Command{
	Use:   "specs",
	Short: "Rank stored specs by their newest result in a phase",
	Long: `Example:
  go run ./cmd/forge specs --phase validate --passed --limit 10
  go run ./cmd/forge specs --phase screen --metric annual_return`,
	RunE: runSpecs,
}

var (
	specsPhase  string
	specsMetric string
	specsLimit  int
	specsPassed bool
)

func init() {
	rootCmd.AddCommand(specsCmd)

	specsCmd.Flags().StringVar(&specsPhase, "phase", string(contracts.PhaseValidate), "screen, validate or live")
	specsCmd.Flags().StringVar(&specsMetric, "metric", string(contracts.MetricSharpe), "sharpe, annual_return or total_return")
	specsCmd.Flags().IntVar(&specsLimit, "limit", 20, "rows to show")
	specsCmd.Flags().BoolVar(&specsPassed, "passed", false, "only results that passed")
}

func runSpecs(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	metric := contracts.Metric(specsMetric)
	if !metric.Valid() {
		return fmt.Errorf("invalid metric %q", specsMetric)
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	best, err := a.registry.GetBestSpecs(ctx, contracts.Phase(specsPhase), metric, specsLimit, specsPassed)
	if err != nil {
		return fmt.Errorf("rank specs: %w", err)
	}
	return emit(best, func() {
		widths := []int{8, 16, 12, 8, 9, 9, 7, 6}
		PrintTableHeader([]string{"Spec", "Template", "Universe", "Sharpe", "AnnRet", "MaxDD", "Trades", "Pass"}, widths)
		for _, b := range best {
			PrintTableRow([]string{
				short(b.Spec.ID),
				b.Spec.TemplateID,
				b.Spec.UniverseID,
				fmt.Sprintf("%.2f", b.Result.Sharpe),
				pct(b.Result.AnnualReturn),
				pct(b.Result.MaxDrawdown),
				fmt.Sprint(b.Result.TotalTrades),
				fmt.Sprint(b.Result.Passed),
			}, widths)
		}
	})
}
