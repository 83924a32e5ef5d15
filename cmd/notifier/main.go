package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schwab-discord-notifier/internal/allocation"
	"schwab-discord-notifier/internal/config"
	"schwab-discord-notifier/internal/database"
	"schwab-discord-notifier/internal/logger"
	"schwab-discord-notifier/internal/lots"
	"schwab-discord-notifier/internal/notify"
	"schwab-discord-notifier/internal/poller"
	"schwab-discord-notifier/internal/report"
	"schwab-discord-notifier/internal/schwab"
	"schwab-discord-notifier/internal/trace"
	"schwab-discord-notifier/internal/trade"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.String("version", version))

	if err := trace.Init(cfg.Trace.Enabled, version, os.Stdout); err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	if trace.Enabled() {
		log.Info("Tracing enabled, spans are written to stdout")
	}

	// Initialize database
	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	log.Info("Database connection successful and schema migrated.", zap.String("driver", cfg.Database.Driver))

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Initialize Schwab client
	tokens := schwab.NewRefreshTokenSource(cfg.Schwab.TokenURL, cfg.Schwab.AppKey, cfg.Schwab.AppSecret,
		cfg.Schwab.RefreshToken, cfg.Schwab.Timeout, log)
	client := schwab.NewClient(&cfg.Schwab, tokens, log)
	accounts, err := client.GetAccountNumbers(ctx)
	if err != nil {
		log.Fatal("Failed to connect to Schwab API", zap.Error(err))
	}
	if cfg.Schwab.AccountHash == "" && len(accounts) > 0 {
		client.SetAccountHash(accounts[0].HashValue)
		log.Info("Using first linked account", zap.Int("linked_accounts", len(accounts)))
	}
	log.Info("Successfully connected to Schwab API.")

	policy, err := lots.ParsePolicy(cfg.Allocation.Policy)
	if err != nil {
		log.Fatal("Invalid allocation policy", zap.Error(err))
	}
	engine := allocation.NewEngine(db, allocation.Config{Policy: policy}, log)

	notifier, closeNotifier := buildNotifier(ctx, &cfg, log)
	defer closeNotifier()

	p := poller.NewPoller(log, &cfg.Poll, client, engine, notifier, db, multipliers(cfg.Allocation))
	api := poller.NewAPIServer(p, cfg.Server.Port, log)
	api.Start()

	exporter := report.NewExporter(db, &cfg.Report, log)
	go exporter.Run(ctx)

	if err := p.Run(ctx); err != nil {
		log.Error("Poll loop stopped", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server", zap.Error(err))
	}
	if err := trace.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to flush traces", zap.Error(err))
	}

	log.Info("Notifier has been shut down.")
}

// buildNotifier wires Discord (or the log when no webhook is set) as the
// primary sink and Redis as an optional secondary.
func buildNotifier(ctx context.Context, cfg *config.Config, log *zap.Logger) (notify.Notifier, func()) {
	var primary notify.Notifier
	if cfg.Discord.WebhookURL == "" {
		log.Warn("No Discord webhook configured, notifications will only be logged")
		primary = notify.NewLogNotifier(log)
	} else {
		discord, err := notify.NewDiscordNotifier(&cfg.Discord, log)
		if err != nil {
			log.Fatal("Failed to create Discord notifier", zap.Error(err))
		}
		primary = discord
	}

	if !cfg.Redis.Enabled {
		return notify.NewFanout(log, primary), func() {}
	}

	redisNotifier, rdb, err := notify.NewRedisNotifier(ctx, &cfg.Redis)
	if err != nil {
		log.Warn("Redis unavailable, continuing without it", zap.Error(err))
		return notify.NewFanout(log, primary), func() {}
	}
	log.Info("Publishing trade events to Redis", zap.String("channel", cfg.Redis.Channel))
	return notify.NewFanout(log, primary, redisNotifier), func() { _ = rdb.Close() }
}

func multipliers(cfg config.Allocation) trade.Multipliers {
	return trade.Multipliers{
		Option: decimal.NewFromFloat(cfg.OptionMultiplier),
		Equity: decimal.NewFromFloat(cfg.EquityMultiplier),
	}
}
