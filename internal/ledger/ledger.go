// Package ledger records which order ids the allocation engine has handled.
package ledger

import (
	"context"
	"fmt"
	"time"

	"schwab-discord-notifier/internal/models"

	"gorm.io/gorm"
)

// Ledger is the dedup gate in front of the allocation engine.
type Ledger struct {
	db *gorm.DB
}

// New creates a Ledger on db.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a Ledger bound to an open transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// IsProcessed reports whether orderID has already been processed.
func (l *Ledger) IsProcessed(ctx context.Context, orderID string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&models.ProcessedOrder{}).
		Where("order_id = ?", orderID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check ledger for %s: %w", orderID, err)
	}
	return count > 0, nil
}

// MarkProcessed records orderID. Marking the same id twice is an error since
// the gate should have stopped the second attempt.
func (l *Ledger) MarkProcessed(ctx context.Context, orderID string, at time.Time) error {
	entry := models.ProcessedOrder{OrderID: orderID, ProcessedAt: at.UTC()}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", orderID, err)
	}
	return nil
}

// Count returns the number of processed orders.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&models.ProcessedOrder{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return count, nil
}

// Reset deletes every ledger entry. It is an administrative operation used
// only when rebuilding cost basis from stored trades.
func (l *Ledger) Reset(ctx context.Context) error {
	err := l.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.ProcessedOrder{}).Error
	if err != nil {
		return fmt.Errorf("failed to reset ledger: %w", err)
	}
	return nil
}
