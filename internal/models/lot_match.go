package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LotMatch records one allocation slice of a closing trade against a lot.
// Rows are written once and never updated.
type LotMatch struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	OrderID       string          `gorm:"index;not null" json:"order_id"`
	LotID         uint            `gorm:"index;not null" json:"lot_id"`
	LotOpenedAt   time.Time       `json:"lot_opened_at"`
	InstrumentKey string          `gorm:"index;not null" json:"instrument_key"`
	Underlying    string          `gorm:"index;not null" json:"underlying"`
	Direction     string          `gorm:"not null" json:"direction"`
	Quantity      decimal.Decimal `gorm:"type:numeric;not null" json:"quantity"`
	UnitCost      decimal.Decimal `gorm:"type:numeric;not null" json:"unit_cost"`
	ClosePrice    decimal.Decimal `gorm:"type:numeric;not null" json:"close_price"`
	Multiplier    decimal.Decimal `gorm:"type:numeric;not null" json:"multiplier"`
	GainAbs       decimal.Decimal `gorm:"type:numeric;not null" json:"gain_abs"`
	GainPct       decimal.Decimal `gorm:"type:numeric;not null" json:"gain_pct"`
	MatchedAt     time.Time       `gorm:"index;not null" json:"matched_at"`
	CreatedAt     time.Time       `json:"created_at"`
}
