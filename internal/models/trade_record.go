package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Result kinds stored on a TradeRecord.
const (
	ResultOpenRecorded = "OPEN_RECORDED"
	ResultMatched      = "MATCHED"
)

// TradeRecord is the persisted copy of a processed trade together with its
// allocation outcome. Rows with Posted=false form the notification outbox.
type TradeRecord struct {
	gorm.Model
	OrderID             string          `gorm:"uniqueIndex;not null" json:"order_id"`
	ParentOrderID       int64           `gorm:"index" json:"parent_order_id"`
	Symbol              string          `gorm:"not null" json:"symbol"`
	Description         string          `json:"description"`
	Underlying          string          `gorm:"index;not null" json:"underlying"`
	Kind                string          `gorm:"not null" json:"kind"`
	Instruction         string          `json:"instruction"`
	Side                string          `gorm:"not null" json:"side"`
	Direction           string          `gorm:"not null" json:"direction"`
	Strike              decimal.Decimal `gorm:"type:numeric" json:"strike"`
	Expiration          *time.Time      `json:"expiration,omitempty"`
	Right               string          `gorm:"column:option_right" json:"right,omitempty"`
	Quantity            decimal.Decimal `gorm:"type:numeric;not null" json:"quantity"`
	Price               decimal.Decimal `gorm:"type:numeric;not null" json:"price"`
	Multiplier          decimal.Decimal `gorm:"type:numeric;not null" json:"multiplier"`
	FilledAt            time.Time       `gorm:"index;not null" json:"filled_at"`
	ResultKind          string          `gorm:"not null" json:"result_kind"`
	MatchedQuantity     decimal.Decimal `gorm:"type:numeric" json:"matched_quantity"`
	UnallocatedQuantity decimal.Decimal `gorm:"type:numeric" json:"unallocated_quantity"`
	EntryPrice          decimal.Decimal `gorm:"type:numeric" json:"entry_price"`
	AvgGainPct          decimal.Decimal `gorm:"type:numeric" json:"avg_gain_pct"`
	GainAbs             decimal.Decimal `gorm:"type:numeric" json:"gain_abs"`
	Posted              bool            `gorm:"index" json:"posted"`
	PostedAt            *time.Time      `json:"posted_at,omitempty"`
}

// HasMatches reports whether any quantity of a closing trade was allocated.
func (r *TradeRecord) HasMatches() bool {
	return r.ResultKind == ResultMatched && r.MatchedQuantity.IsPositive()
}
