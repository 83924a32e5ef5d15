package allocation

import (
	"time"

	"schwab-discord-notifier/internal/models"
	"schwab-discord-notifier/internal/trade"
)

// outcomeColumns are rewritten when a stored trade is replayed.
var outcomeColumns = []string{
	"result_kind", "matched_quantity", "unallocated_quantity", "entry_price", "avg_gain_pct", "gain_abs",
}

func newRecord(t trade.Trade, r Result) models.TradeRecord {
	rec := models.TradeRecord{
		OrderID:       t.OrderID,
		ParentOrderID: t.ParentOrderID,
		Symbol:        t.Symbol,
		Description:   t.Description,
		Underlying:    t.Underlying,
		Kind:          string(t.Kind),
		Instruction:   t.Instruction,
		Side:          string(t.Side),
		Direction:     string(t.Direction),
		Quantity:      t.Quantity,
		Price:         t.Price,
		Multiplier:    t.Multiplier,
		FilledAt:      t.FilledAt.UTC(),
		ResultKind:    models.ResultOpenRecorded,
	}
	if t.Option != nil {
		exp := t.Option.Expiration
		rec.Strike = t.Option.Strike
		rec.Expiration = &exp
		rec.Right = string(t.Option.Right)
	}
	if r.Kind == Matched {
		rec.ResultKind = models.ResultMatched
		rec.MatchedQuantity = r.MatchedQty()
		rec.UnallocatedQuantity = r.UnallocatedQty
		rec.EntryPrice = r.EntryPrice()
		rec.AvgGainPct = r.AvgGainPct()
		rec.GainAbs = r.GainAbs()
	}
	return rec
}

// TradeFromRecord rebuilds the canonical trade stored in a record.
func TradeFromRecord(rec models.TradeRecord) trade.Trade {
	t := trade.Trade{
		OrderID:       rec.OrderID,
		ParentOrderID: rec.ParentOrderID,
		Symbol:        rec.Symbol,
		Description:   rec.Description,
		Underlying:    rec.Underlying,
		Kind:          trade.InstrumentKind(rec.Kind),
		Instruction:   rec.Instruction,
		Side:          trade.Side(rec.Side),
		Direction:     trade.Direction(rec.Direction),
		Quantity:      rec.Quantity,
		Price:         rec.Price,
		FilledAt:      rec.FilledAt,
		Multiplier:    rec.Multiplier,
	}
	if t.Kind == trade.Option {
		var exp time.Time
		if rec.Expiration != nil {
			exp = rec.Expiration.UTC()
		}
		t.Option = &trade.OptionDetail{Strike: rec.Strike, Expiration: exp, Right: trade.Right(rec.Right)}
	}
	return t
}
