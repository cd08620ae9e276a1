package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/forge/internal/marketdata"
	"github.com/wonny/forge/internal/regime"
	"github.com/wonny/forge/pkg/database"
)

var regimeCmd = &cobra.Command{
	Use:   "regime",
	Short: "Label market regimes over stored daily bars",
	Long: `Runs the regime detector over a symbol's stored history and prints the labelled
periods plus the representative windows sent with validation requests.

Example:
  go run ./cmd/forge regime --symbol SPY --years 10
  go run ./cmd/forge regime --symbol QQQ --min-days 90 --json`,
	RunE: runRegime,
}

var (
	regimeSymbol  string
	regimeYears   int
	regimeMinDays int
)

func init() {
	rootCmd.AddCommand(regimeCmd)

	regimeCmd.Flags().StringVar(&regimeSymbol, "symbol", "", "symbol to label (default: policy benchmark)")
	regimeCmd.Flags().IntVar(&regimeYears, "years", 10, "years of history")
	regimeCmd.Flags().IntVar(&regimeMinDays, "min-days", 60, "shortest representative window in bars")
}

func runRegime(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, pol, _, err := loadBase()
	if err != nil {
		return err
	}
	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	symbol := regimeSymbol
	if symbol == "" {
		symbol = pol.Evolution.Benchmark
	}
	to := time.Now().UTC()
	bars, err := marketdata.NewRepository(db.Pool).GetBars(ctx, symbol, to.AddDate(-regimeYears, 0, 0), to)
	if err != nil {
		return fmt.Errorf("load %s history: %w", symbol, err)
	}

	periods := regime.NewDetector(pol.Regime).Detect(bars)
	selected := regime.SelectRegimePeriods(periods, regimeMinDays)

	return emit(map[string]interface{}{
		"symbol":   symbol,
		"bars":     len(bars),
		"periods":  periods,
		"selected": selected,
	}, func() {
		PrintHeader("Regimes", "Symbol", symbol, "Bars", fmt.Sprint(len(bars)))
		if len(periods) == 0 {
			PrintWarning("Not enough history to label regimes")
			return
		}
		widths := []int{10, 10, 10, 6, 10, 10, 10}
		PrintTableHeader([]string{"Label", "Start", "End", "Bars", "AnnRet", "Vol", "MaxDD"}, widths)
		for _, p := range periods {
			PrintTableRow([]string{
				string(p.Label),
				p.Start.Format("2006-01-02"),
				p.End.Format("2006-01-02"),
				fmt.Sprint(p.Bars()),
				pct(p.AnnualReturn),
				pct(p.Volatility),
				pct(p.MaxDrawdown),
			}, widths)
		}
		fmt.Println()
		fmt.Println("Representative windows:")
		for _, p := range selected {
			PrintList([]string{fmt.Sprintf("%s %s ~ %s", p.Label, p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))})
		}
	})
}
