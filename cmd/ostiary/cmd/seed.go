package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ostiary-ai/ostiary/internal/adapter/outbound/sqlite"
	"github.com/ostiary-ai/ostiary/internal/config"
	"github.com/ostiary-ai/ostiary/internal/service"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the built-in action type catalog",
	Long: `Seed the built-in action type catalog into the configured database.

Safe to run repeatedly: existing action types are left untouched.
Only meaningful with the sqlite driver; the serve command seeds
in-memory storage itself on boot.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("seed requires the sqlite driver, got %q", cfg.Database.Driver)
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	logger := newLogger(cfg)
	registry := service.NewRegistryService(sqlite.NewTypeStore(db), logger)
	created, existing, err := registry.Seed(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}

	fmt.Printf("catalog seeded: %d created, %d already present\n", created, existing)
	return nil
}
