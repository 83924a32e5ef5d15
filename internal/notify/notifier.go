// Package notify announces processed trades on Discord and other sinks.
package notify

import (
	"context"
	"fmt"

	"schwab-discord-notifier/internal/metrics"
	"schwab-discord-notifier/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notification is a processed trade ready to be announced.
type Notification struct {
	Record models.TradeRecord
	// Owned is the open option contracts on the underlying after the
	// trade, nil when positions could not be fetched.
	Owned *decimal.Decimal
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers a notification. Returns error if delivery fails.
	Send(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. It stands in for Discord when
// no webhook is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Send(_ context.Context, note Notification) error {
	embed := BuildEmbed(note, "")
	fields := []zap.Field{zap.String("order_id", note.Record.OrderID), zap.String("title", embed.Title)}
	for _, f := range embed.Fields {
		fields = append(fields, zap.String(f.Name, f.Value))
	}
	n.logger.Info("Trade notification", fields...)
	return nil
}

// Fanout delivers to a primary notifier, whose result decides success, and
// to best-effort secondary notifiers whose failures are only logged.
type Fanout struct {
	primary   Notifier
	secondary []Notifier
	logger    *zap.Logger
}

// NewFanout creates a Fanout.
func NewFanout(logger *zap.Logger, primary Notifier, secondary ...Notifier) *Fanout {
	return &Fanout{primary: primary, secondary: secondary, logger: logger.Named("notify")}
}

func (f *Fanout) Send(ctx context.Context, n Notification) error {
	if err := f.primary.Send(ctx, n); err != nil {
		metrics.NotificationsTotal.WithLabelValues(sinkName(f.primary), "error").Inc()
		return fmt.Errorf("primary notifier: %w", err)
	}
	metrics.NotificationsTotal.WithLabelValues(sinkName(f.primary), "ok").Inc()

	for _, s := range f.secondary {
		if err := s.Send(ctx, n); err != nil {
			metrics.NotificationsTotal.WithLabelValues(sinkName(s), "error").Inc()
			f.logger.Warn("Secondary notifier failed",
				zap.String("sink", sinkName(s)),
				zap.String("order_id", n.Record.OrderID),
				zap.Error(err),
			)
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(sinkName(s), "ok").Inc()
	}
	return nil
}

func sinkName(n Notifier) string {
	switch n.(type) {
	case *DiscordNotifier:
		return "discord"
	case *RedisNotifier:
		return "redis"
	case *LogNotifier:
		return "log"
	}
	return "other"
}
