package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"schwab-discord-notifier/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// APIServer provides an HTTP interface for the poller.
type APIServer struct {
	server *http.Server
	poller *Poller
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer listening on port.
func NewAPIServer(poller *Poller, port int, logger *zap.Logger) *APIServer {
	s := &APIServer{
		poller: poller,
		logger: logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *APIServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/status", s.statusHandler)
	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", metrics.Handler())
	return r
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

type statusResponse struct {
	UUID              string `json:"uuid"`
	Policy            string `json:"policy"`
	StartTime         string `json:"start_time"`
	Uptime            string `json:"uptime"`
	LastPollAt        string `json:"last_poll_at,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
	ProcessedOrders   int64  `json:"processed_orders"`
	OpenLots          int    `json:"open_lots"`
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	p := s.poller
	health := p.Health()

	status := statusResponse{
		UUID:              p.UUID,
		Policy:            string(p.engine.Policy()),
		StartTime:         p.StartTime.Format(time.RFC3339),
		Uptime:            time.Since(p.StartTime).Round(time.Second).String(),
		LastError:         health.LastError,
		ConsecutiveErrors: health.ConsecutiveErrors,
	}
	if !health.LastPollAt.IsZero() {
		status.LastPollAt = health.LastPollAt.Format(time.RFC3339)
	}

	processed, err := p.ledger.Count(r.Context())
	if err != nil {
		s.logger.Error("Failed to count processed orders", zap.Error(err))
		http.Error(w, "Failed to read ledger", http.StatusInternalServerError)
		return
	}
	status.ProcessedOrders = processed

	active, err := p.lots.Active(r.Context())
	if err != nil {
		s.logger.Error("Failed to list open lots", zap.Error(err))
		http.Error(w, "Failed to read lots", http.StatusInternalServerError)
		return
	}
	status.OpenLots = len(active)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
	}
}

// healthHandler reports unhealthy once polling has been failing repeatedly.
func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.poller.Health()
	if limit := s.poller.cfg.MaxConsecutiveErrors; limit > 0 && health.ConsecutiveErrors >= (limit+1)/2 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "DEGRADED")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
