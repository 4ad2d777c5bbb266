package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ACodePorter/marketreplay/pkg/database"

	"github.com/ACodePorter/marketreplay/internal/runstore"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune persisted runs older than the retention window",
	Long: `Deletes runs (and their records, trades, metrics and predictor
call logs) that finished more than the retention period ago.

Examples:
  go run ./cmd/replay cleanup
  go run ./cmd/replay cleanup --days 30`,
	RunE: runCleanup,
}

var cleanupDays int

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention in days (default: RETENTION_DAYS from config)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	days := cleanupDays
	if days <= 0 {
		days = cfg.RetentionDays
	}
	if days <= 0 {
		fmt.Println("Retention disabled, nothing to prune.")
		return nil
	}

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	store := runstore.NewRepository(db.Pool)
	pruned, err := store.Prune(cmd.Context(), days)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	fmt.Printf("Pruned %d runs older than %d days.\n", pruned, days)
	return nil
}
