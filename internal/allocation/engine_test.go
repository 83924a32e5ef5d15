package allocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"schwab-discord-notifier/internal/config"
	"schwab-discord-notifier/internal/database"
	"schwab-discord-notifier/internal/lots"
	"schwab-discord-notifier/internal/models"
	"schwab-discord-notifier/internal/trade"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var base = time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)

func setupTest(t *testing.T, policy lots.Policy) (*Engine, *gorm.DB) {
	t.Helper()
	db, err := database.NewDatabase(&config.Database{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return NewEngine(db, Config{Policy: policy}, zap.NewNop()), db
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func slvCall() *trade.OptionDetail {
	_, detail, _ := trade.ParseOCC("SLV   260320C00090000")
	return &detail
}

func optionTrade(id string, side trade.Side, qty, price string, at time.Time) trade.Trade {
	return trade.Trade{
		OrderID:    id,
		Symbol:     "SLV   260320C00090000",
		Underlying: "SLV",
		Kind:       trade.Option,
		Option:     slvCall(),
		Side:       side,
		Direction:  trade.Long,
		Quantity:   d(qty),
		Price:      d(price),
		FilledAt:   at,
		Multiplier: d("100"),
	}
}

func activeRemaining(t *testing.T, db *gorm.DB) decimal.Decimal {
	t.Helper()
	var active []models.Lot
	require.NoError(t, db.Find(&active).Error)
	total := decimal.Zero
	for _, l := range active {
		total = total.Add(l.RemainingQuantity)
	}
	return total
}

func TestProcessOpen(t *testing.T) {
	// Arrange
	e, db := setupTest(t, lots.FIFO)

	// Act
	res, err := e.Process(context.Background(), optionTrade("o1", trade.Open, "2", "2.00", base))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, OpenRecorded, res.Kind)
	require.NotNil(t, res.Lot)
	assert.True(t, d("2").Equal(res.Lot.RemainingQuantity))
	assert.True(t, d("2").Equal(res.Lot.UnitCost))
	assert.Empty(t, res.Matches)
	require.NotNil(t, res.Record)
	assert.Equal(t, models.ResultOpenRecorded, res.Record.ResultKind)
	assert.False(t, res.Record.Posted)

	var ledgerCount int64
	db.Model(&models.ProcessedOrder{}).Count(&ledgerCount)
	assert.Equal(t, int64(1), ledgerCount)
}

func TestGainExample(t *testing.T) {
	// Arrange
	e, _ := setupTest(t, lots.FIFO)
	ctx := context.Background()
	_, err := e.Process(ctx, optionTrade("open", trade.Open, "1", "2.00", base))
	require.NoError(t, err)

	// Act
	res, err := e.Process(ctx, optionTrade("close", trade.Close, "1", "3.10", base.Add(time.Hour)))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, Matched, res.Kind)
	assert.True(t, res.FullyAllocated)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "110", res.Matches[0].GainAbs.String())
	assert.Equal(t, "55", res.Matches[0].GainPct.String())
	assert.Equal(t, "55", res.AvgGainPct().String())
	assert.Equal(t, "2", res.EntryPrice().String())
	assert.True(t, res.UnallocatedQty.IsZero())
	assert.Equal(t, models.ResultMatched, res.Record.ResultKind)
	assert.Equal(t, "110", res.Record.GainAbs.String())
}

func TestIdempotency(t *testing.T) {
	t.Run("should return AlreadyProcessed and leave state untouched", func(t *testing.T) {
		// Arrange
		e, db := setupTest(t, lots.FIFO)
		ctx := context.Background()
		_, err := e.Process(ctx, optionTrade("open", trade.Open, "3", "2.00", base))
		require.NoError(t, err)
		closeTrade := optionTrade("close", trade.Close, "2", "2.50", base.Add(time.Hour))

		first, err := e.Process(ctx, closeTrade)
		require.NoError(t, err)
		remainingAfterFirst := activeRemaining(t, db)
		var matchesAfterFirst, ledgerAfterFirst, recordsAfterFirst int64
		db.Model(&models.LotMatch{}).Count(&matchesAfterFirst)
		db.Model(&models.ProcessedOrder{}).Count(&ledgerAfterFirst)
		db.Model(&models.TradeRecord{}).Count(&recordsAfterFirst)

		// Act
		second, err := e.Process(ctx, closeTrade)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, Matched, first.Kind)
		assert.Equal(t, AlreadyProcessed, second.Kind)
		assert.Nil(t, second.Record)
		assert.True(t, remainingAfterFirst.Equal(activeRemaining(t, db)))
		var matches, ledgerCount, records int64
		db.Model(&models.LotMatch{}).Count(&matches)
		db.Model(&models.ProcessedOrder{}).Count(&ledgerCount)
		db.Model(&models.TradeRecord{}).Count(&records)
		assert.Equal(t, matchesAfterFirst, matches)
		assert.Equal(t, ledgerAfterFirst, ledgerCount)
		assert.Equal(t, recordsAfterFirst, records)
	})

	t.Run("should not open a second lot for a repeated open", func(t *testing.T) {
		e, db := setupTest(t, lots.FIFO)
		ctx := context.Background()
		open := optionTrade("open", trade.Open, "1", "2.00", base)

		_, err := e.Process(ctx, open)
		require.NoError(t, err)
		res, err := e.Process(ctx, open)
		require.NoError(t, err)

		assert.Equal(t, AlreadyProcessed, res.Kind)
		assert.True(t, d("1").Equal(activeRemaining(t, db)))
	})
}

func TestConservation(t *testing.T) {
	// Arrange
	e, db := setupTest(t, lots.FIFO)
	ctx := context.Background()
	opened := decimal.Zero
	for i, qty := range []string{"3", "1", "4", "2"} {
		_, err := e.Process(ctx, optionTrade("open-"+qty+"-"+string(rune('a'+i)), trade.Open, qty, "1.50", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		opened = opened.Add(d(qty))
	}

	// Act / Assert
	for i, qty := range []string{"2", "3", "1.5", "2.5"} {
		_, err := e.Process(ctx, optionTrade("close-"+string(rune('a'+i)), trade.Close, qty, "1.80", base.Add(time.Hour+time.Duration(i)*time.Minute)))
		require.NoError(t, err)

		var matches []models.LotMatch
		require.NoError(t, db.Find(&matches).Error)
		allocated := decimal.Zero
		for _, m := range matches {
			allocated = allocated.Add(m.Quantity)
		}
		assert.True(t, opened.Equal(activeRemaining(t, db).Add(allocated)), "after close %d", i)
	}
}

func TestFIFOOrdering(t *testing.T) {
	// Arrange
	e, _ := setupTest(t, lots.FIFO)
	ctx := context.Background()
	first, err := e.Process(ctx, optionTrade("t1", trade.Open, "2", "1.00", base))
	require.NoError(t, err)
	_, err = e.Process(ctx, optionTrade("t2", trade.Open, "3", "2.00", base.Add(time.Minute)))
	require.NoError(t, err)

	// Act
	res, err := e.Process(ctx, optionTrade("c1", trade.Close, "2", "1.50", base.Add(time.Hour)))

	// Assert
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, first.Lot.ID, res.Matches[0].LotID)
	assert.True(t, d("1").Equal(res.Matches[0].UnitCost))
	assert.Equal(t, base, res.Matches[0].LotOpenedAt.UTC())
}

func TestLIFOOrdering(t *testing.T) {
	// Arrange
	e, _ := setupTest(t, lots.LIFO)
	ctx := context.Background()
	_, err := e.Process(ctx, optionTrade("t1", trade.Open, "2", "1.00", base))
	require.NoError(t, err)
	newest, err := e.Process(ctx, optionTrade("t2", trade.Open, "3", "2.00", base.Add(time.Minute)))
	require.NoError(t, err)

	// Act
	res, err := e.Process(ctx, optionTrade("c1", trade.Close, "4", "2.50", base.Add(time.Hour)))

	// Assert
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, newest.Lot.ID, res.Matches[0].LotID)
	assert.True(t, d("3").Equal(res.Matches[0].Quantity))
	assert.True(t, d("1").Equal(res.Matches[1].Quantity))
	assert.True(t, res.FullyAllocated)
	assert.Equal(t, "1.75", res.EntryPrice().String())
}

func TestTieBreakByInsertion(t *testing.T) {
	e, _ := setupTest(t, lots.FIFO)
	ctx := context.Background()
	a, err := e.Process(ctx, optionTrade("a", trade.Open, "1", "1.00", base))
	require.NoError(t, err)
	_, err = e.Process(ctx, optionTrade("b", trade.Open, "1", "9.00", base))
	require.NoError(t, err)

	res, err := e.Process(ctx, optionTrade("c", trade.Close, "1", "2.00", base.Add(time.Hour)))

	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, a.Lot.ID, res.Matches[0].LotID)
}

func TestPartialAllocation(t *testing.T) {
	// Arrange
	e, db := setupTest(t, lots.FIFO)
	ctx := context.Background()
	_, err := e.Process(ctx, optionTrade("o1", trade.Open, "1", "2.00", base))
	require.NoError(t, err)
	_, err = e.Process(ctx, optionTrade("o2", trade.Open, "2", "3.00", base.Add(time.Minute)))
	require.NoError(t, err)

	// Act
	res, err := e.Process(ctx, optionTrade("c1", trade.Close, "5", "4.00", base.Add(time.Hour)))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, Matched, res.Kind)
	assert.False(t, res.FullyAllocated)
	require.Len(t, res.Matches, 2)
	assert.True(t, d("3").Equal(res.MatchedQty()))
	assert.True(t, d("2").Equal(res.UnallocatedQty))
	assert.True(t, activeRemaining(t, db).IsZero())
	assert.True(t, d("2").Equal(res.Record.UnallocatedQuantity))
}

func TestNoMatchingLot(t *testing.T) {
	// Arrange
	e, _ := setupTest(t, lots.FIFO)
	ctx := context.Background()

	// Act
	res, err := e.Process(ctx, optionTrade("c1", trade.Close, "3", "1.00", base))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, Matched, res.Kind)
	assert.Empty(t, res.Matches)
	assert.False(t, res.FullyAllocated)
	assert.True(t, d("3").Equal(res.UnallocatedQty))
	assert.True(t, res.AvgGainPct().IsZero())

	processed, err := e.ledger.IsProcessed(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestOutOfOrderCloseStaysUnmatched(t *testing.T) {
	// Arrange
	e, db := setupTest(t, lots.FIFO)
	ctx := context.Background()
	closeRes, err := e.Process(ctx, optionTrade("close", trade.Close, "1", "3.00", base))
	require.NoError(t, err)

	// Act
	openRes, err := e.Process(ctx, optionTrade("open", trade.Open, "1", "2.00", base.Add(time.Minute)))
	require.NoError(t, err)
	replay, err := e.Process(ctx, optionTrade("close", trade.Close, "1", "3.00", base))
	require.NoError(t, err)

	// Assert
	assert.False(t, closeRes.FullyAllocated)
	assert.Equal(t, OpenRecorded, openRes.Kind)
	assert.Equal(t, AlreadyProcessed, replay.Kind)
	assert.True(t, d("1").Equal(activeRemaining(t, db)))
	var matches int64
	db.Model(&models.LotMatch{}).Count(&matches)
	assert.Zero(t, matches)
}

func TestShortDirection(t *testing.T) {
	// Arrange
	e, _ := setupTest(t, lots.FIFO)
	ctx := context.Background()
	sellToOpen := optionTrade("sto", trade.Open, "1", "2.00", base)
	sellToOpen.Direction = trade.Short
	buyToClose := optionTrade("btc", trade.Close, "1", "0.50", base.Add(time.Hour))
	buyToClose.Direction = trade.Short
	longClose := optionTrade("stc", trade.Close, "1", "0.50", base.Add(time.Hour))

	_, err := e.Process(ctx, sellToOpen)
	require.NoError(t, err)

	// Act
	longRes, err := e.Process(ctx, longClose)
	require.NoError(t, err)
	shortRes, err := e.Process(ctx, buyToClose)
	require.NoError(t, err)

	// Assert
	assert.Empty(t, longRes.Matches, "a long close must not consume a short lot")
	require.Len(t, shortRes.Matches, 1)
	assert.Equal(t, "150", shortRes.Matches[0].GainAbs.String())
	assert.Equal(t, "75", shortRes.Matches[0].GainPct.String())
}

func TestGain(t *testing.T) {
	testCases := []struct {
		name      string
		direction trade.Direction
		cost      string
		close     string
		qty       string
		mult      string
		abs       string
		pct       string
	}{
		{"long winner", trade.Long, "2.00", "3.10", "1", "100", "110", "55"},
		{"long loser", trade.Long, "4.00", "3.00", "2", "100", "-200", "-25"},
		{"short winner", trade.Short, "2.00", "1.00", "1", "100", "100", "50"},
		{"equity", trade.Long, "100", "105", "10", "1", "50", "5"},
		{"zero cost", trade.Long, "0", "1.00", "1", "100", "100", "0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			abs, pct := Gain(tc.direction, d(tc.cost), d(tc.close), d(tc.qty), d(tc.mult))

			assert.Equal(t, tc.abs, abs.String())
			assert.Equal(t, tc.pct, pct.String())
		})
	}
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	// Arrange
	e, db := setupTest(t, lots.FIFO)
	ctx := context.Background()
	_, err := e.Process(ctx, optionTrade("open", trade.Open, "2", "2.00", base))
	require.NoError(t, err)

	failing := true
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_matches", func(tx *gorm.DB) {
		if failing && tx.Statement.Table == "lot_matches" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))
	closeTrade := optionTrade("close", trade.Close, "1", "3.00", base.Add(time.Hour))

	// Act
	_, err = e.Process(ctx, closeTrade)

	// Assert
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "close", perr.OrderID)
	assert.True(t, d("2").Equal(activeRemaining(t, db)))
	processed, err := e.ledger.IsProcessed(ctx, "close")
	require.NoError(t, err)
	assert.False(t, processed)

	// the next poll retries cleanly
	failing = false
	res, err := e.Process(ctx, closeTrade)
	require.NoError(t, err)
	assert.Equal(t, Matched, res.Kind)
	assert.True(t, d("1").Equal(activeRemaining(t, db)))
}

func TestReplayKeepsPostedFlag(t *testing.T) {
	// Arrange
	e, db := setupTest(t, lots.FIFO)
	ctx := context.Background()
	open := optionTrade("open", trade.Open, "1", "2.00", base)
	res, err := e.Process(ctx, open)
	require.NoError(t, err)
	require.NoError(t, db.Model(res.Record).Update("posted", true).Error)
	require.NoError(t, lots.NewStore(db).Reset(ctx))
	require.NoError(t, e.ledger.Reset(ctx))

	var stored models.TradeRecord
	require.NoError(t, db.Where("order_id = ?", "open").First(&stored).Error)

	// Act
	replayed, err := e.Process(ctx, TradeFromRecord(stored))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, OpenRecorded, replayed.Kind)
	assert.True(t, replayed.Record.Posted)
	assert.Equal(t, "SLV 2026-03-20 C 90", replayed.Lot.InstrumentKey)
	var records int64
	db.Model(&models.TradeRecord{}).Count(&records)
	assert.Equal(t, int64(1), records)
}
