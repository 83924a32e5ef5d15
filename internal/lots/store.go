// Package lots persists open-lot inventory and serves per-instrument queues
// in allocation order.
package lots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schwab-discord-notifier/internal/models"
	"schwab-discord-notifier/internal/trade"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Policy is the order in which lots of one instrument are consumed.
type Policy string

const (
	// FIFO consumes the oldest lot first.
	FIFO Policy = "FIFO"
	// LIFO consumes the newest lot first.
	LIFO Policy = "LIFO"
)

// ParsePolicy accepts "fifo" or "lifo" in any case.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToUpper(strings.TrimSpace(s))) {
	case FIFO:
		return FIFO, nil
	case LIFO:
		return LIFO, nil
	}
	return "", fmt.Errorf("unknown allocation policy %q", s)
}

// InsufficientLotError is returned when a consume request exceeds what a lot holds.
type InsufficientLotError struct {
	LotID     uint
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *InsufficientLotError) Error() string {
	return fmt.Sprintf("lot %d: requested %s but only %s remains", e.LotID, e.Requested, e.Remaining)
}

// OpenParams describes a new lot.
type OpenParams struct {
	Underlying  string
	Option      *trade.OptionDetail
	Direction   trade.Direction
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	Multiplier  decimal.Decimal
	OpenedAt    time.Time
	OpenOrderID string
}

// Store reads and writes lots through gorm.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store on db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to an open transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// OpenLot persists a new lot with its full quantity remaining.
func (s *Store) OpenLot(ctx context.Context, p OpenParams) (*models.Lot, error) {
	if !p.Quantity.IsPositive() {
		return nil, fmt.Errorf("open lot: quantity must be positive, got %s", p.Quantity)
	}
	if p.UnitCost.IsNegative() {
		return nil, fmt.Errorf("open lot: unit cost must not be negative, got %s", p.UnitCost)
	}

	lot := &models.Lot{
		InstrumentKey:     trade.InstrumentKey(p.Underlying, p.Option),
		Direction:         string(p.Direction),
		Underlying:        p.Underlying,
		Kind:              string(trade.Equity),
		Quantity:          p.Quantity,
		RemainingQuantity: p.Quantity,
		UnitCost:          p.UnitCost,
		Multiplier:        p.Multiplier,
		OpenedAt:          p.OpenedAt.UTC(),
		OpenOrderID:       p.OpenOrderID,
	}
	if p.Option != nil {
		exp := p.Option.Expiration
		lot.Kind = string(trade.Option)
		lot.Strike = p.Option.Strike
		lot.Expiration = &exp
		lot.Right = string(p.Option.Right)
	}

	if err := s.db.WithContext(ctx).Create(lot).Error; err != nil {
		return nil, fmt.Errorf("failed to create lot: %w", err)
	}
	return lot, nil
}

// PeekQueue returns the active lots of one instrument and direction in
// allocation order. Lots sharing an open time keep their insertion order
// (ascending for FIFO, descending for LIFO).
func (s *Store) PeekQueue(ctx context.Context, instrumentKey string, direction trade.Direction, policy Policy) ([]models.Lot, error) {
	order := "opened_at ASC, id ASC"
	if policy == LIFO {
		order = "opened_at DESC, id DESC"
	}

	var queue []models.Lot
	err := s.db.WithContext(ctx).
		Where("instrument_key = ? AND direction = ?", instrumentKey, string(direction)).
		Order(order).
		Find(&queue).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load lot queue for %s: %w", instrumentKey, err)
	}

	// Guard against a lot left at zero by an earlier failed write.
	active := queue[:0]
	for _, lot := range queue {
		if !lot.Exhausted() {
			active = append(active, lot)
		}
	}
	return active, nil
}

// Consume reduces the remaining quantity of lot by qty and soft-deletes the
// lot once nothing remains. lot is updated in place.
func (s *Store) Consume(ctx context.Context, lot *models.Lot, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("consume lot %d: quantity must be positive, got %s", lot.ID, qty)
	}
	if lot.DeletedAt.Valid || qty.GreaterThan(lot.RemainingQuantity) {
		return &InsufficientLotError{LotID: lot.ID, Requested: qty, Remaining: lot.RemainingQuantity}
	}

	remaining := lot.RemainingQuantity.Sub(qty)
	db := s.db.WithContext(ctx)

	if err := db.Model(lot).Update("remaining_quantity", remaining).Error; err != nil {
		return fmt.Errorf("failed to update lot %d: %w", lot.ID, err)
	}
	lot.RemainingQuantity = remaining

	if remaining.IsZero() {
		if err := db.Delete(lot).Error; err != nil {
			return fmt.Errorf("failed to retire lot %d: %w", lot.ID, err)
		}
	}
	return nil
}

// Active lists every lot with quantity remaining.
func (s *Store) Active(ctx context.Context) ([]models.Lot, error) {
	var lots []models.Lot
	if err := s.db.WithContext(ctx).Order("underlying, opened_at, id").Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("failed to list active lots: %w", err)
	}
	return lots, nil
}

// All lists every lot including retired ones.
func (s *Store) All(ctx context.Context) ([]models.Lot, error) {
	var lots []models.Lot
	if err := s.db.WithContext(ctx).Unscoped().Order("underlying, opened_at, id").Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	return lots, nil
}

// Reset permanently removes every lot and lot match.
func (s *Store) Reset(ctx context.Context) error {
	db := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped()
	if err := db.Delete(&models.LotMatch{}).Error; err != nil {
		return fmt.Errorf("failed to clear lot matches: %w", err)
	}
	if err := db.Delete(&models.Lot{}).Error; err != nil {
		return fmt.Errorf("failed to clear lots: %w", err)
	}
	return nil
}
