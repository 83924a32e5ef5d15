// Command rebuild recomputes all lots and matches from the stored trade
// records. Stop the notifier before running it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"schwab-discord-notifier/internal/allocation"
	"schwab-discord-notifier/internal/config"
	"schwab-discord-notifier/internal/database"
	"schwab-discord-notifier/internal/logger"
	"schwab-discord-notifier/internal/lots"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "./configs", "directory containing config.yml")
	confirm := flag.Bool("yes", false, "confirm that all lots, matches and ledger entries will be rebuilt")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if !*confirm {
		fmt.Fprintln(os.Stderr, "rebuild deletes every lot, lot match and ledger entry before replaying stored trades; rerun with -yes to continue")
		os.Exit(2)
	}

	policy, err := lots.ParsePolicy(cfg.Allocation.Policy)
	if err != nil {
		log.Fatal("Invalid allocation policy", zap.Error(err))
	}

	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	log.Info("Rebuilding cost basis", zap.String("policy", string(policy)))
	stats, err := allocation.Rebuild(context.Background(), db, allocation.Config{Policy: policy}, log)
	if err != nil {
		log.Fatal("Rebuild failed, nothing was changed", zap.Error(err))
	}
	log.Info("Rebuild complete",
		zap.Int("replayed", stats.Replayed),
		zap.Int("opened", stats.Opened),
		zap.Int("matched", stats.Matched),
		zap.Int("unmatched", stats.Unmatched),
	)
}
