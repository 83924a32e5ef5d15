package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"schwab-discord-notifier/internal/config"
	"schwab-discord-notifier/internal/database"
	"schwab-discord-notifier/internal/logger"
	"schwab-discord-notifier/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	addr := fmt.Sprintf(":%d", cfg.Report.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(NewAPIHandler(log, db, cfg.Report.LookbackDays)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("Starting report server", zap.String("address", addr))
	if err := server.ListenAndServe(); err != nil {
		log.Fatal("Report server failed", zap.Error(err))
	}
}

func newRouter(h *APIHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/matches", h.MatchesHandler)
		r.Get("/summary", h.SummaryHandler)
		r.Get("/lots", h.LotsHandler)
		r.Get("/export.csv", h.ExportHandler)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})
	return r
}
