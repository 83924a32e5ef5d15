package allocation

import (
	"fmt"

	"schwab-discord-notifier/internal/models"
	"schwab-discord-notifier/internal/trade"

	"github.com/shopspring/decimal"
)

// ResultKind says what processing a trade did.
type ResultKind string

const (
	// OpenRecorded means a new lot was created.
	OpenRecorded ResultKind = "OPEN_RECORDED"
	// Matched means a closing trade was allocated against zero or more lots.
	Matched ResultKind = "MATCHED"
	// AlreadyProcessed means the order id was in the ledger and nothing changed.
	AlreadyProcessed ResultKind = "ALREADY_PROCESSED"
)

// Result is the outcome of Engine.Process.
type Result struct {
	Kind  ResultKind
	Trade trade.Trade
	// Lot is set for OpenRecorded.
	Lot *models.Lot
	// Matches, FullyAllocated and UnallocatedQty are set for Matched. A close
	// with no open inventory has no matches and UnallocatedQty equal to its
	// full quantity.
	Matches        []models.LotMatch
	FullyAllocated bool
	UnallocatedQty decimal.Decimal
	// Record is the persisted trade row, nil for AlreadyProcessed.
	Record *models.TradeRecord
}

// MatchedQty is the quantity allocated across all matches.
func (r Result) MatchedQty() decimal.Decimal {
	total := decimal.Zero
	for _, m := range r.Matches {
		total = total.Add(m.Quantity)
	}
	return total
}

// GainAbs is the realized gain summed over all matches.
func (r Result) GainAbs() decimal.Decimal {
	total := decimal.Zero
	for _, m := range r.Matches {
		total = total.Add(m.GainAbs)
	}
	return total
}

// AvgGainPct is the quantity-weighted gain percentage, zero without matches.
func (r Result) AvgGainPct() decimal.Decimal {
	return weighted(r.Matches, func(m models.LotMatch) decimal.Decimal { return m.GainPct })
}

// EntryPrice is the quantity-weighted unit cost of the consumed lots.
func (r Result) EntryPrice() decimal.Decimal {
	return weighted(r.Matches, func(m models.LotMatch) decimal.Decimal { return m.UnitCost })
}

func weighted(matches []models.LotMatch, value func(models.LotMatch) decimal.Decimal) decimal.Decimal {
	qty, sum := decimal.Zero, decimal.Zero
	for _, m := range matches {
		qty = qty.Add(m.Quantity)
		sum = sum.Add(value(m).Mul(m.Quantity))
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return sum.Div(qty)
}

// Gain computes the realized gain of closing qty units opened at unitCost
// for closePrice. Short positions gain when the price falls. The percentage
// is zero when the unit cost is zero.
func Gain(direction trade.Direction, unitCost, closePrice, qty, multiplier decimal.Decimal) (abs, pct decimal.Decimal) {
	diff := closePrice.Sub(unitCost)
	if direction == trade.Short {
		diff = diff.Neg()
	}
	abs = diff.Mul(qty).Mul(multiplier)
	if unitCost.IsZero() {
		return abs, decimal.Zero
	}
	return abs, diff.Div(unitCost).Mul(decimal.NewFromInt(100))
}

// PersistenceError means the transaction for a trade could not commit. No
// part of the trade was applied and it is safe to retry.
type PersistenceError struct {
	OrderID string
	Op      string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("allocation of %s failed during %s: %v", e.OrderID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
