// Package trade defines the canonical trade record consumed by the
// allocation engine and the normalizer that produces it from raw orders.
package trade

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentKind discriminates equities from options.
type InstrumentKind string

const (
	Equity InstrumentKind = "EQUITY"
	Option InstrumentKind = "OPTION"
)

// Right is the option right.
type Right string

const (
	Call Right = "CALL"
	Put  Right = "PUT"
)

// Letter returns "C" or "P".
func (r Right) Letter() string {
	if r == "" {
		return ""
	}
	return string(r[0])
}

// Side says whether a trade opens or closes a position.
type Side string

const (
	Open  Side = "OPEN"
	Close Side = "CLOSE"
)

// Direction is the direction of the position a trade opens or closes.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// OptionDetail identifies an option contract on an underlying.
type OptionDetail struct {
	Strike     decimal.Decimal
	Expiration time.Time
	Right      Right
}

// Trade is one normalized fill. It is never mutated after normalization.
type Trade struct {
	OrderID       string
	ParentOrderID int64
	Symbol        string
	Description   string
	Underlying    string
	Kind          InstrumentKind
	Option        *OptionDetail
	Instruction   string
	Side          Side
	Direction     Direction
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	FilledAt      time.Time
	Multiplier    decimal.Decimal
}

// Multipliers holds the contract multipliers applied when an instrument does
// not carry its own.
type Multipliers struct {
	Option decimal.Decimal
	Equity decimal.Decimal
}

// DefaultMultipliers is 100 for standard options and 1 for equities.
func DefaultMultipliers() Multipliers {
	return Multipliers{Option: decimal.NewFromInt(100), Equity: decimal.NewFromInt(1)}
}

// InstrumentKey identifies the lot queue a trade belongs to: the underlying
// alone for equities, the underlying plus contract for options.
func (t Trade) InstrumentKey() string {
	return InstrumentKey(t.Underlying, t.Option)
}

// InstrumentKey builds the lot queue key for an underlying and optional contract.
func InstrumentKey(underlying string, opt *OptionDetail) string {
	if opt == nil {
		return underlying
	}
	return fmt.Sprintf("%s %s %s %s", underlying, opt.Expiration.Format("2006-01-02"), opt.Right.Letter(), opt.Strike.String())
}

// Validate checks the invariants every normalized trade must hold.
func (t Trade) Validate() error {
	switch {
	case strings.TrimSpace(t.OrderID) == "":
		return errors.New("trade: order id is empty")
	case t.Underlying == "":
		return errors.New("trade: underlying is empty")
	case !t.Quantity.IsPositive():
		return fmt.Errorf("trade %s: quantity must be positive, got %s", t.OrderID, t.Quantity)
	case t.Price.IsNegative():
		return fmt.Errorf("trade %s: price must not be negative, got %s", t.OrderID, t.Price)
	case !t.Multiplier.IsPositive():
		return fmt.Errorf("trade %s: multiplier must be positive, got %s", t.OrderID, t.Multiplier)
	case t.Kind == Option && t.Option == nil:
		return fmt.Errorf("trade %s: option trade without contract detail", t.OrderID)
	case t.Kind == Equity && t.Option != nil:
		return fmt.Errorf("trade %s: equity trade with contract detail", t.OrderID)
	case t.Side != Open && t.Side != Close:
		return fmt.Errorf("trade %s: unknown side %q", t.OrderID, t.Side)
	case t.Direction != Long && t.Direction != Short:
		return fmt.Errorf("trade %s: unknown direction %q", t.OrderID, t.Direction)
	}
	return nil
}

// SortByFill orders trades by fill time, keeping input order for ties.
func SortByFill(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].FilledAt.Before(trades[j].FilledAt)
	})
}
