package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"schwab-discord-notifier/internal/allocation"
	"schwab-discord-notifier/internal/config"
	"schwab-discord-notifier/internal/database"
	"schwab-discord-notifier/internal/models"
	"schwab-discord-notifier/internal/report"
	"schwab-discord-notifier/internal/trade"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)

func equityTrade(id string, side trade.Side, qty, price int64, at time.Time) trade.Trade {
	return trade.Trade{
		OrderID: id, Symbol: "AAPL", Underlying: "AAPL", Kind: trade.Equity,
		Instruction: "BUY", Side: side, Direction: trade.Long,
		Quantity: decimal.NewFromInt(qty), Price: decimal.NewFromInt(price),
		FilledAt: at, Multiplier: decimal.NewFromInt(1),
	}
}

func setupTest(t *testing.T) http.Handler {
	t.Helper()
	db, err := database.NewDatabase(&config.Database{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	e := allocation.NewEngine(db, allocation.DefaultConfig(), zap.NewNop())
	for _, tr := range []trade.Trade{
		equityTrade("buy-1", trade.Open, 10, 100, base),
		equityTrade("sell-1", trade.Close, 4, 120, base.Add(time.Hour)),
	} {
		_, err := e.Process(context.Background(), tr)
		require.NoError(t, err)
	}

	h := NewAPIHandler(zap.NewNop(), db, 7)
	h.now = func() time.Time { return base.AddDate(0, 0, 1) }
	return newRouter(h)
}

func get(t *testing.T, router http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestMatchesHandler(t *testing.T) {
	t.Run("should return matches in the default window", func(t *testing.T) {
		router := setupTest(t)

		rr := get(t, router, "/api/matches")

		require.Equal(t, http.StatusOK, rr.Code)
		var rows []report.Row
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "sell-1", rows[0].OrderID)
		assert.Equal(t, "buy-1", rows[0].OpenOrderID)
		assert.True(t, decimal.NewFromInt(80).Equal(rows[0].GainAbs))
	})

	t.Run("should honour an explicit range", func(t *testing.T) {
		router := setupTest(t)

		rr := get(t, router, "/api/matches?from=2026-01-06&to=2026-01-10")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("should reject a malformed date", func(t *testing.T) {
		router := setupTest(t)

		rr := get(t, router, "/api/matches?from=yesterday")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestSummaryHandler(t *testing.T) {
	router := setupTest(t)

	rr := get(t, router, "/api/summary?from=2026-01-05&to=2026-01-05")

	require.Equal(t, http.StatusOK, rr.Code)
	var summary report.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.TotalTrades)
	assert.Equal(t, 1, summary.Wins)
	assert.True(t, decimal.NewFromInt(80).Equal(summary.TotalProfit))
}

func TestLotsHandler(t *testing.T) {
	router := setupTest(t)

	rr := get(t, router, "/api/lots")

	require.Equal(t, http.StatusOK, rr.Code)
	var active []models.Lot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &active))
	require.Len(t, active, 1)
	assert.True(t, decimal.NewFromInt(6).Equal(active[0].RemainingQuantity))
}

func TestLotsHandlerAll(t *testing.T) {
	db, err := database.NewDatabase(&config.Database{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	e := allocation.NewEngine(db, allocation.DefaultConfig(), zap.NewNop())
	for _, tr := range []trade.Trade{
		equityTrade("buy-1", trade.Open, 2, 100, base),
		equityTrade("buy-2", trade.Open, 3, 100, base.Add(time.Minute)),
		equityTrade("sell-1", trade.Close, 2, 110, base.Add(time.Hour)),
	} {
		_, err := e.Process(context.Background(), tr)
		require.NoError(t, err)
	}
	router := newRouter(NewAPIHandler(zap.NewNop(), db, 7))

	var active, all []models.Lot
	rr := get(t, router, "/api/lots")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &active))
	rr = get(t, router, "/api/lots?all=1")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &all))

	require.Len(t, active, 1)
	assert.Equal(t, "buy-2", active[0].OpenOrderID)
	require.Len(t, all, 2)
	assert.Equal(t, "buy-1", all[0].OpenOrderID)
	assert.True(t, all[0].RemainingQuantity.IsZero())
}

func TestExportHandler(t *testing.T) {
	router := setupTest(t)

	rr := get(t, router, "/api/export.csv")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "date,ticker"))
	assert.Contains(t, lines[1], "sell-1")
}

func TestHealth(t *testing.T) {
	rr := get(t, setupTest(t), "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
}
