package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/forge/internal/marketdata"
	"github.com/wonny/forge/pkg/database"
)

var (
	marketCmd = &cobra.Command{
		Use:   "market",
		Short: "Manage stored daily price history",
	}

	marketImportCmd = &cobra.Command{
		Use:   "import [symbol] [file.csv]",
		Short: "Upsert daily bars from a CSV file",
		Long: `Reads a CSV with a header row containing date,open,high,low,close,volume
(any column order, dates as YYYY-MM-DD) and upserts it into market.daily_bars.

Example:
  go run ./cmd/forge market import SPY data/spy.csv`,
		Args: cobra.ExactArgs(2),
		RunE: runMarketImport,
	}
)

func init() {
	rootCmd.AddCommand(marketCmd)
	marketCmd.AddCommand(marketImportCmd)
}

func runMarketImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	symbol := strings.ToUpper(args[0])
	f, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[1], err)
	}
	defer f.Close()

	bars, err := marketdata.ReadCSV(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[1], err)
	}
	if len(bars) == 0 {
		PrintWarning("No bars in file")
		return nil
	}

	cfg, _, log, err := loadBase()
	if err != nil {
		return err
	}
	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := marketdata.NewRepository(db.Pool).SaveBars(ctx, symbol, bars); err != nil {
		return err
	}
	log.WithFields(map[string]interface{}{
		"symbol": symbol,
		"bars":   len(bars),
		"from":   bars[0].Date.Format("2006-01-02"),
		"to":     bars[len(bars)-1].Date.Format("2006-01-02"),
	}).Info("Bars imported")
	PrintSuccess(fmt.Sprintf("Imported %d %s bars (%s ~ %s)", len(bars), symbol,
		bars[0].Date.Format("2006-01-02"), bars[len(bars)-1].Date.Format("2006-01-02")))
	return nil
}
