package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"schwab-discord-notifier/internal/lots"
	"schwab-discord-notifier/internal/report"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log      *zap.Logger
	db       *gorm.DB
	lots     *lots.Store
	lookback int
	now      func() time.Time
}

// NewAPIHandler creates a new APIHandler. Requests without a range cover the
// last lookbackDays days.
func NewAPIHandler(log *zap.Logger, db *gorm.DB, lookbackDays int) *APIHandler {
	return &APIHandler{log: log, db: db, lots: lots.NewStore(db), lookback: lookbackDays, now: time.Now}
}

// window reads the from/to query parameters as dates. to is inclusive.
func (h *APIHandler) window(r *http.Request) (time.Time, time.Time, error) {
	today := h.now().UTC().Truncate(24 * time.Hour)
	to := today.AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -h.lookback)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q", v)
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q", v)
		}
		to = t.AddDate(0, 0, 1)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must not be after to")
	}
	return from, to, nil
}

func (h *APIHandler) rows(w http.ResponseWriter, r *http.Request) ([]report.Row, bool) {
	from, to, err := h.window(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	rows, err := report.Query(r.Context(), h.db, from, to)
	if err != nil {
		h.log.Error("Failed to query matches", zap.Error(err))
		http.Error(w, "Failed to get matches", http.StatusInternalServerError)
		return nil, false
	}
	return rows, true
}

// MatchesHandler returns every lot match in the requested range.
func (h *APIHandler) MatchesHandler(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.rows(w, r)
	if !ok {
		return
	}
	if rows == nil {
		rows = []report.Row{}
	}
	h.writeJSON(w, rows)
}

// SummaryHandler returns the win/loss summary for the requested range.
func (h *APIHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.rows(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, report.Summarize(report.ByOrder(rows)))
}

// LotsHandler returns the open lots, or every lot with ?all=1.
func (h *APIHandler) LotsHandler(w http.ResponseWriter, r *http.Request) {
	list := h.lots.Active
	if r.URL.Query().Get("all") == "1" {
		list = h.lots.All
	}
	result, err := list(r.Context())
	if err != nil {
		h.log.Error("Failed to get lots", zap.Error(err))
		http.Error(w, "Failed to get lots", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, result)
}

// ExportHandler streams the requested range as CSV.
func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.rows(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=trades_%s.csv", h.now().UTC().Format("20060102")))
	if err := report.WriteCSV(w, rows); err != nil {
		h.log.Error("Failed to write csv export", zap.Error(err))
	}
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}
