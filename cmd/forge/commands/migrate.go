package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/forge/internal/registry/postgres"
	"github.com/wonny/forge/pkg/database"
)

var (
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the registry and market schema",
		Long: `Runs the embedded SQL migrations against DATABASE_URL.

Example:
  go run ./cmd/forge migrate up
  go run ./cmd/forge migrate down --steps 1
  go run ./cmd/forge migrate version`,
	}

	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  withMigrator(func(m *database.Migrator) error { return m.Up() }),
	}

	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE:  withMigrator(func(m *database.Migrator) error { return m.Down(migrateSteps) }),
	}

	migrateVersionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		RunE: withMigrator(func(m *database.Migrator) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Printf("version %d (dirty=%t)\n", version, dirty)
			return nil
		}),
	}

	migrateSteps int
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back")
}

func withMigrator(fn func(m *database.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, _, log, err := loadBase()
		if err != nil {
			return err
		}
		m, err := database.NewMigrator(cfg.Database.URL, postgres.Migrations, postgres.MigrationsDir, log.Component("migrate"))
		if err != nil {
			return err
		}
		defer func() {
			if cerr := m.Close(); cerr != nil {
				log.WithError(cerr).Warn("Failed to close migrator")
			}
		}()
		return fn(m)
	}
}
