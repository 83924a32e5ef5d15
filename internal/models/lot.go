package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Lot is a slice of open position inventory with a fixed per-unit cost.
// gorm.Model supplies the insertion sequence (ID) used as the allocation
// tie-break and the soft delete applied once the lot is exhausted.
type Lot struct {
	gorm.Model
	InstrumentKey     string          `gorm:"index:idx_lot_queue,priority:1;not null" json:"instrument_key"`
	Direction         string          `gorm:"index:idx_lot_queue,priority:2;not null" json:"direction"` // "LONG" or "SHORT"
	Underlying        string          `gorm:"index;not null" json:"underlying"`
	Kind              string          `gorm:"not null" json:"kind"` // "EQUITY" or "OPTION"
	Strike            decimal.Decimal `gorm:"type:numeric" json:"strike"`
	Expiration        *time.Time      `json:"expiration,omitempty"`
	Right             string          `gorm:"column:option_right" json:"right,omitempty"`
	Quantity          decimal.Decimal `gorm:"type:numeric;not null" json:"quantity"`
	RemainingQuantity decimal.Decimal `gorm:"type:numeric;not null" json:"remaining_quantity"`
	UnitCost          decimal.Decimal `gorm:"type:numeric;not null" json:"unit_cost"`
	Multiplier        decimal.Decimal `gorm:"type:numeric;not null" json:"multiplier"`
	OpenedAt          time.Time       `gorm:"index;not null" json:"opened_at"`
	OpenOrderID       string          `gorm:"index;not null" json:"open_order_id"`
}

// Exhausted reports whether nothing remains to be allocated from the lot.
func (l *Lot) Exhausted() bool {
	return !l.RemainingQuantity.IsPositive()
}
