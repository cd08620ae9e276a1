package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	policyFile string
	verbose    bool
	jsonOutput bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Forge - strategy evaluation and rollout control plane",
	Long: `Forge evolves generated trading strategies, gates them through risk and audit
checks, deploys survivors to paper or live brokers, and watches them drift.

Usage:
  go run ./cmd/forge [command]

Examples:
  go run ./cmd/forge migrate up
  go run ./cmd/forge evolve --universe sector_etfs --cycles 3
  go run ./cmd/forge monitor
  go run ./cmd/forge scheduler start
  go run ./cmd/forge api`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&policyFile, "policy", "", "operator policy YAML (default: POLICY_PATH or built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}
