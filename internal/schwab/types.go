package schwab

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order is the subset of a Schwab Trader API order used by the notifier.
// Optional fields are pointers; a nil value means the field was absent.
type Order struct {
	OrderID                  int64            `json:"orderId"`
	AccountNumber            int64            `json:"accountNumber,omitempty"`
	Status                   string           `json:"status"`
	OrderType                string           `json:"orderType,omitempty"`
	ComplexOrderStrategyType string           `json:"complexOrderStrategyType,omitempty"`
	EnteredTime              *Time            `json:"enteredTime,omitempty"`
	CloseTime                *Time            `json:"closeTime,omitempty"`
	Price                    *decimal.Decimal `json:"price,omitempty"`
	Quantity                 *decimal.Decimal `json:"quantity,omitempty"`
	FilledQuantity           *decimal.Decimal `json:"filledQuantity,omitempty"`
	RemainingQuantity        *decimal.Decimal `json:"remainingQuantity,omitempty"`
	OrderLegCollection       []OrderLeg       `json:"orderLegCollection"`
	OrderActivityCollection  []OrderActivity  `json:"orderActivityCollection,omitempty"`
}

// OrderLeg is one instrument/instruction pair of an order.
type OrderLeg struct {
	LegID          int64            `json:"legId"`
	OrderLegType   string           `json:"orderLegType,omitempty"`
	Instrument     *Instrument      `json:"instrument,omitempty"`
	Instruction    string           `json:"instruction"`
	PositionEffect string           `json:"positionEffect,omitempty"`
	Quantity       *decimal.Decimal `json:"quantity,omitempty"`
}

// Instrument describes the traded security.
type Instrument struct {
	AssetType        string           `json:"assetType"`
	Symbol           string           `json:"symbol"`
	Cusip            string           `json:"cusip,omitempty"`
	Description      string           `json:"description,omitempty"`
	InstrumentID     int64            `json:"instrumentId,omitempty"`
	UnderlyingSymbol *string          `json:"underlyingSymbol,omitempty"`
	PutCall          *string          `json:"putCall,omitempty"`
	StrikePrice      *decimal.Decimal `json:"strikePrice,omitempty"`
	ExpirationDate   *Time            `json:"expirationDate,omitempty"`
	OptionMultiplier *decimal.Decimal `json:"optionMultiplier,omitempty"`
}

// OrderActivity is an execution report attached to an order.
type OrderActivity struct {
	ActivityType           string           `json:"activityType"`
	ActivityID             int64            `json:"activityId"`
	ExecutionType          string           `json:"executionType,omitempty"`
	Quantity               *decimal.Decimal `json:"quantity,omitempty"`
	OrderRemainingQuantity *decimal.Decimal `json:"orderRemainingQuantity,omitempty"`
	ExecutionLegs          []ExecutionLeg   `json:"executionLegs,omitempty"`
}

// ExecutionLeg is a single fill of one order leg.
type ExecutionLeg struct {
	LegID             int64            `json:"legId"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	Quantity          *decimal.Decimal `json:"quantity,omitempty"`
	MismarkedQuantity *decimal.Decimal `json:"mismarkedQuantity,omitempty"`
	InstrumentID      int64            `json:"instrumentId,omitempty"`
	Time              *Time            `json:"time,omitempty"`
}

// Account wraps a securities account as returned by /accounts.
type Account struct {
	SecuritiesAccount SecuritiesAccount `json:"securitiesAccount"`
}

// SecuritiesAccount holds the positions of one account.
type SecuritiesAccount struct {
	AccountNumber string     `json:"accountNumber"`
	Type          string     `json:"type,omitempty"`
	Positions     []Position `json:"positions,omitempty"`
}

// Position is an open holding.
type Position struct {
	LongQuantity  decimal.Decimal `json:"longQuantity"`
	ShortQuantity decimal.Decimal `json:"shortQuantity"`
	AveragePrice  decimal.Decimal `json:"averagePrice"`
	Instrument    Instrument      `json:"instrument"`
}

// NetQuantity is long minus short quantity.
func (p Position) NetQuantity() decimal.Decimal {
	return p.LongQuantity.Sub(p.ShortQuantity)
}

// AccountNumber maps a plain account number to the hash used in URLs.
type AccountNumber struct {
	AccountNumber string `json:"accountNumber"`
	HashValue     string `json:"hashValue"`
}

// Time parses the timestamp layouts emitted by the Trader API, which uses a
// numeric zone offset without a colon.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339Nano,
	"2006-01-02",
}

// NewTime wraps t.
func NewTime(t time.Time) *Time {
	return &Time{Time: t}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("schwab time: %w", err)
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("schwab time: unrecognised timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format("2006-01-02T15:04:05-0700"))
}
