// Package poller runs the single-writer loop that fetches orders, feeds them
// through the allocation engine and posts the results.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"schwab-discord-notifier/internal/allocation"
	"schwab-discord-notifier/internal/config"
	"schwab-discord-notifier/internal/ledger"
	"schwab-discord-notifier/internal/lots"
	"schwab-discord-notifier/internal/metrics"
	"schwab-discord-notifier/internal/models"
	"schwab-discord-notifier/internal/notify"
	"schwab-discord-notifier/internal/schwab"
	"schwab-discord-notifier/internal/trace"
	"schwab-discord-notifier/internal/trade"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxBackoff = 5 * time.Minute

// Poller polls the brokerage for filled orders and processes them one at a
// time. It is the only writer of allocation state.
type Poller struct {
	UUID      string
	StartTime time.Time

	logger      *zap.Logger
	cfg         *config.Poll
	client      schwab.ClientInterface
	engine      *allocation.Engine
	notifier    notify.Notifier
	db          *gorm.DB
	lots        *lots.Store
	ledger      *ledger.Ledger
	multipliers trade.Multipliers
	now         func() time.Time
	backoff     func(failures int) time.Duration

	mu                sync.RWMutex
	lastPollAt        time.Time
	lastErr           error
	consecutiveErrors int
}

// NewPoller creates a Poller.
func NewPoller(logger *zap.Logger, cfg *config.Poll, client schwab.ClientInterface, engine *allocation.Engine,
	notifier notify.Notifier, db *gorm.DB, multipliers trade.Multipliers) *Poller {
	p := &Poller{
		UUID:        uuid.NewString(),
		StartTime:   time.Now(),
		logger:      logger.Named("poller"),
		cfg:         cfg,
		client:      client,
		engine:      engine,
		notifier:    notifier,
		db:          db,
		lots:        lots.NewStore(db),
		ledger:      ledger.New(db),
		multipliers: multipliers,
		now:         time.Now,
	}
	p.backoff = p.exponentialBackoff
	return p
}

// Run polls until ctx is cancelled. Failed polls are retried with
// exponential backoff; after MaxConsecutiveErrors failures in a row Run gives
// up and returns the last error.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Starting poll loop",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("lookback_days", p.cfg.LookbackDays),
		zap.String("policy", string(p.engine.Policy())),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping poll loop...")
			return nil
		case <-timer.C:
		}

		wait := p.cfg.Interval
		if err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures := p.recordFailure(err)
			metrics.PollsTotal.WithLabelValues("error").Inc()
			p.logger.Error("Poll failed", zap.Int("consecutive_errors", failures), zap.Error(err))
			if p.cfg.MaxConsecutiveErrors > 0 && failures >= p.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("giving up after %d consecutive poll failures: %w", failures, err)
			}
			wait = p.backoff(failures)
		} else {
			p.recordSuccess()
			metrics.PollsTotal.WithLabelValues("ok").Inc()
		}
		timer.Reset(wait)
	}
}

// PollOnce runs one cycle: fetch the lookback window, normalize, allocate in
// fill order, then post every trade record not yet announced.
func (p *Poller) PollOnce(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "poller.PollOnce")
	defer span.End()

	to := p.now()
	from := to.AddDate(0, 0, -p.cfg.LookbackDays)
	orders, err := p.client.GetOrders(ctx, schwab.OrdersQuery{
		From:       from,
		To:         to,
		Status:     p.cfg.Status,
		MaxResults: p.cfg.MaxResults,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("could not fetch orders: %w", err)
	}
	metrics.OrdersFetched.Add(float64(len(orders)))

	trades := p.normalize(orders)
	trade.SortByFill(trades)

	processErr := p.process(ctx, trades)
	if err := p.postPending(ctx); err != nil {
		p.logger.Error("Failed to post pending trades", zap.Error(err))
	}
	p.updateGauge(ctx)

	if processErr != nil {
		span.RecordError(processErr)
		return processErr
	}
	return nil
}

func (p *Poller) normalize(orders []schwab.Order) []trade.Trade {
	var trades []trade.Trade
	for _, order := range orders {
		ts, err := trade.Normalize(order, p.multipliers)
		if err != nil {
			metrics.NormalizationErrors.Inc()
			p.logger.Warn("Skipping order that could not be normalized",
				zap.Int64("order_id", order.OrderID),
				zap.Error(err),
			)
			continue
		}
		trades = append(trades, ts...)
	}
	return trades
}

// process feeds trades to the engine in order. A persistence failure stops
// the batch so later trades on the same instrument are not applied ahead of
// it; the failed trade is retried on the next poll.
func (p *Poller) process(ctx context.Context, trades []trade.Trade) error {
	var applied int
	for _, t := range trades {
		res, err := p.engine.Process(ctx, t)
		if err != nil {
			var perr *allocation.PersistenceError
			if errors.As(err, &perr) {
				return fmt.Errorf("stopped batch at %s: %w", t.OrderID, err)
			}
			// Never reaches the ledger, so it comes back every poll.
			metrics.NormalizationErrors.Inc()
			p.logger.Debug("Skipping invalid trade", zap.String("order_id", t.OrderID), zap.Error(err))
			continue
		}
		if res.Kind == allocation.AlreadyProcessed {
			continue
		}

		applied++
		fields := []zap.Field{
			zap.String("order_id", t.OrderID),
			zap.String("instrument", t.InstrumentKey()),
			zap.String("result", string(res.Kind)),
		}
		if res.Kind == allocation.Matched {
			fields = append(fields,
				zap.String("matched", res.MatchedQty().String()),
				zap.String("gain_pct", res.AvgGainPct().StringFixed(2)),
			)
		}
		p.logger.Info("Trade processed", fields...)
	}
	if applied > 0 {
		p.logger.Info("Poll applied new trades", zap.Int("count", applied))
	}
	return nil
}

// postPending announces every unposted trade record in fill order. A record
// whose delivery fails stays unposted and is retried on the next poll.
func (p *Poller) postPending(ctx context.Context) error {
	var pending []models.TradeRecord
	if err := p.db.WithContext(ctx).Where("posted = ?", false).Order("filled_at, id").Find(&pending).Error; err != nil {
		return fmt.Errorf("failed to load unposted trades: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	owned := p.ownedContracts(ctx)
	for i := range pending {
		rec := pending[i]
		note := notify.Notification{Record: rec}
		if owned != nil && rec.Kind == string(trade.Option) {
			n := owned[rec.Underlying]
			note.Owned = &n
		}

		if err := p.notifier.Send(ctx, note); err != nil {
			p.logger.Error("Failed to send notification", zap.String("order_id", rec.OrderID), zap.Error(err))
			continue
		}

		postedAt := p.now()
		err := p.db.WithContext(ctx).Model(&rec).Updates(map[string]interface{}{
			"posted":    true,
			"posted_at": postedAt,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to mark %s posted: %w", rec.OrderID, err)
		}
	}
	return nil
}

// ownedContracts sums open option contracts per underlying. It returns nil
// when positions are unavailable so notifications omit the field.
func (p *Poller) ownedContracts(ctx context.Context) map[string]decimal.Decimal {
	positions, err := p.client.GetPositions(ctx)
	if err != nil {
		p.logger.Warn("Could not fetch positions", zap.Error(err))
		return nil
	}

	owned := make(map[string]decimal.Decimal)
	for _, pos := range positions {
		if !strings.EqualFold(pos.Instrument.AssetType, string(trade.Option)) {
			continue
		}
		symbol := pos.Instrument.Symbol
		if pos.Instrument.UnderlyingSymbol != nil && *pos.Instrument.UnderlyingSymbol != "" {
			symbol = *pos.Instrument.UnderlyingSymbol
		}
		underlying := trade.ExtractUnderlying(symbol)
		owned[underlying] = owned[underlying].Add(pos.NetQuantity())
	}
	return owned
}

func (p *Poller) updateGauge(ctx context.Context) {
	active, err := p.lots.Active(ctx)
	if err != nil {
		p.logger.Warn("Could not count open lots", zap.Error(err))
		return
	}
	metrics.OpenLots.Set(float64(len(active)))
}

func (p *Poller) exponentialBackoff(failures int) time.Duration {
	d := p.cfg.Interval
	for i := 1; i < failures && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (p *Poller) recordFailure(err error) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPollAt = p.now()
	p.lastErr = err
	p.consecutiveErrors++
	return p.consecutiveErrors
}

func (p *Poller) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPollAt = p.now()
	p.lastErr = nil
	p.consecutiveErrors = 0
}

// Health is a snapshot of the loop state.
type Health struct {
	LastPollAt        time.Time
	LastError         string
	ConsecutiveErrors int
}

// Health returns the current loop state.
func (p *Poller) Health() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h := Health{LastPollAt: p.lastPollAt, ConsecutiveErrors: p.consecutiveErrors}
	if p.lastErr != nil {
		h.LastError = p.lastErr.Error()
	}
	return h
}
