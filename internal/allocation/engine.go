// Package allocation matches closing trades against open lots and records
// every processed trade exactly once.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schwab-discord-notifier/internal/ledger"
	"schwab-discord-notifier/internal/lots"
	"schwab-discord-notifier/internal/metrics"
	"schwab-discord-notifier/internal/models"
	"schwab-discord-notifier/internal/trace"
	"schwab-discord-notifier/internal/trade"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultPolicy is the allocation order used unless configured otherwise.
// FIFO and LIFO report different realized gains for the same close.
const DefaultPolicy = lots.FIFO

// Config is passed to NewEngine.
type Config struct {
	Policy lots.Policy
}

// DefaultConfig returns a Config using DefaultPolicy.
func DefaultConfig() Config {
	return Config{Policy: DefaultPolicy}
}

// Engine is the single writer of lots, matches and the ledger.
type Engine struct {
	db     *gorm.DB
	lots   *lots.Store
	ledger *ledger.Ledger
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates an allocation engine on db.
func NewEngine(db *gorm.DB, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Policy == "" {
		cfg.Policy = DefaultPolicy
	}
	return &Engine{
		db:     db,
		lots:   lots.NewStore(db),
		ledger: ledger.New(db),
		cfg:    cfg,
		logger: logger.Named("allocation"),
		now:    time.Now,
	}
}

// Policy returns the configured allocation policy.
func (e *Engine) Policy() lots.Policy {
	return e.cfg.Policy
}

// Process applies one trade. The ledger gate, lot changes, matches, ledger
// entry and trade record are committed together or not at all.
func (e *Engine) Process(ctx context.Context, t trade.Trade) (Result, error) {
	if err := t.Validate(); err != nil {
		return Result{}, err
	}

	ctx, span := trace.StartSpan(ctx, "allocation.Process", "order_id", t.OrderID, "side", string(t.Side))
	defer span.End()

	start := time.Now()
	var result Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		led := e.ledger.WithTx(tx)
		store := e.lots.WithTx(tx)

		done, err := led.IsProcessed(ctx, t.OrderID)
		if err != nil {
			return &PersistenceError{OrderID: t.OrderID, Op: "ledger check", Err: err}
		}
		if done {
			result = Result{Kind: AlreadyProcessed, Trade: t}
			return nil
		}

		switch t.Side {
		case trade.Open:
			result, err = e.open(ctx, store, t)
		case trade.Close:
			result, err = e.close(ctx, tx, store, t)
		}
		if err != nil {
			return err
		}

		if err := led.MarkProcessed(ctx, t.OrderID, e.now()); err != nil {
			return &PersistenceError{OrderID: t.OrderID, Op: "ledger write", Err: err}
		}

		rec, err := saveRecord(tx, t, result)
		if err != nil {
			return &PersistenceError{OrderID: t.OrderID, Op: "trade record", Err: err}
		}
		result.Record = rec
		return nil
	})
	metrics.AllocationLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		var perr *PersistenceError
		if !errors.As(err, &perr) {
			err = &PersistenceError{OrderID: t.OrderID, Op: "commit", Err: err}
		}
		span.RecordError(err)
		return Result{}, err
	}

	metrics.TradesProcessed.WithLabelValues(string(result.Kind)).Inc()
	if result.Kind == Matched && !result.FullyAllocated {
		metrics.UnmatchedCloses.Inc()
		e.logger.Warn("Closing quantity exceeds open inventory",
			zap.String("order_id", t.OrderID),
			zap.String("instrument", t.InstrumentKey()),
			zap.String("unallocated", result.UnallocatedQty.String()),
		)
	}
	return result, nil
}

func (e *Engine) open(ctx context.Context, store *lots.Store, t trade.Trade) (Result, error) {
	lot, err := store.OpenLot(ctx, lots.OpenParams{
		Underlying:  t.Underlying,
		Option:      t.Option,
		Direction:   t.Direction,
		Quantity:    t.Quantity,
		UnitCost:    t.Price,
		Multiplier:  t.Multiplier,
		OpenedAt:    t.FilledAt,
		OpenOrderID: t.OrderID,
	})
	if err != nil {
		return Result{}, &PersistenceError{OrderID: t.OrderID, Op: "open lot", Err: err}
	}

	e.logger.Debug("Lot opened",
		zap.String("order_id", t.OrderID),
		zap.String("instrument", lot.InstrumentKey),
		zap.Uint("lot_id", lot.ID),
	)
	return Result{Kind: OpenRecorded, Trade: t, Lot: lot}, nil
}

// close walks the lot queue in policy order, consuming at most what each lot
// holds, until the trade is allocated or the queue runs out.
func (e *Engine) close(ctx context.Context, tx *gorm.DB, store *lots.Store, t trade.Trade) (Result, error) {
	key := t.InstrumentKey()
	queue, err := store.PeekQueue(ctx, key, t.Direction, e.cfg.Policy)
	if err != nil {
		return Result{}, &PersistenceError{OrderID: t.OrderID, Op: "load queue", Err: err}
	}

	outstanding := t.Quantity
	var matches []models.LotMatch

	for i := range queue {
		if !outstanding.IsPositive() {
			break
		}
		lot := &queue[i]
		take := decimal.Min(outstanding, lot.RemainingQuantity)

		if err := store.Consume(ctx, lot, take); err != nil {
			return Result{}, &PersistenceError{OrderID: t.OrderID, Op: fmt.Sprintf("consume lot %d", lot.ID), Err: err}
		}

		gainAbs, gainPct := Gain(t.Direction, lot.UnitCost, t.Price, take, t.Multiplier)
		match := models.LotMatch{
			OrderID:       t.OrderID,
			LotID:         lot.ID,
			LotOpenedAt:   lot.OpenedAt,
			InstrumentKey: key,
			Underlying:    t.Underlying,
			Direction:     string(t.Direction),
			Quantity:      take,
			UnitCost:      lot.UnitCost,
			ClosePrice:    t.Price,
			Multiplier:    t.Multiplier,
			GainAbs:       gainAbs,
			GainPct:       gainPct,
			MatchedAt:     t.FilledAt.UTC(),
		}
		if err := tx.WithContext(ctx).Create(&match).Error; err != nil {
			return Result{}, &PersistenceError{OrderID: t.OrderID, Op: "write match", Err: err}
		}

		matches = append(matches, match)
		outstanding = outstanding.Sub(take)
	}

	return Result{
		Kind:           Matched,
		Trade:          t,
		Matches:        matches,
		FullyAllocated: outstanding.IsZero(),
		UnallocatedQty: outstanding,
	}, nil
}

// saveRecord inserts the trade record, or refreshes the outcome of an
// existing one when stored trades are replayed.
func saveRecord(tx *gorm.DB, t trade.Trade, r Result) (*models.TradeRecord, error) {
	rec := newRecord(t, r)

	var existing models.TradeRecord
	found := tx.Where("order_id = ?", t.OrderID).Limit(1).Find(&existing)
	if found.Error != nil {
		return nil, found.Error
	}
	if found.RowsAffected == 0 {
		if err := tx.Create(&rec).Error; err != nil {
			return nil, err
		}
		return &rec, nil
	}

	if err := tx.Model(&existing).Select(outcomeColumns).Updates(&rec).Error; err != nil {
		return nil, err
	}
	existing.ResultKind = rec.ResultKind
	existing.MatchedQuantity = rec.MatchedQuantity
	existing.UnallocatedQuantity = rec.UnallocatedQuantity
	existing.EntryPrice = rec.EntryPrice
	existing.AvgGainPct = rec.AvgGainPct
	existing.GainAbs = rec.GainAbs
	return &existing, nil
}
