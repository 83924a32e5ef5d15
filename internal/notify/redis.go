package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"schwab-discord-notifier/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// publisher is the part of the redis client RedisNotifier uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// TradeEvent is the JSON message published for each processed trade.
type TradeEvent struct {
	OrderID     string           `json:"order_id"`
	Underlying  string           `json:"underlying"`
	Symbol      string           `json:"symbol"`
	Instruction string           `json:"instruction"`
	Side        string           `json:"side"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Price       decimal.Decimal  `json:"price"`
	ResultKind  string           `json:"result_kind"`
	GainPct     *decimal.Decimal `json:"gain_pct,omitempty"`
	FilledAt    time.Time        `json:"filled_at"`
}

// RedisNotifier publishes trade events on a redis channel for other consumers.
type RedisNotifier struct {
	client  publisher
	channel string
}

var _ Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier connects to redis and verifies the connection.
func NewRedisNotifier(ctx context.Context, cfg *config.Redis) (*RedisNotifier, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisNotifier{client: client, channel: cfg.Channel}, client, nil
}

func (r *RedisNotifier) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(NewTradeEvent(n))
	if err != nil {
		return fmt.Errorf("redis: marshal: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

// NewTradeEvent converts a notification to its published form.
func NewTradeEvent(n Notification) TradeEvent {
	rec := n.Record
	ev := TradeEvent{
		OrderID:     rec.OrderID,
		Underlying:  rec.Underlying,
		Symbol:      rec.Symbol,
		Instruction: rec.Instruction,
		Side:        rec.Side,
		Quantity:    rec.Quantity,
		Price:       rec.Price,
		ResultKind:  rec.ResultKind,
		FilledAt:    rec.FilledAt.UTC(),
	}
	if rec.HasMatches() {
		pct := rec.AvgGainPct
		ev.GainPct = &pct
	}
	return ev
}
