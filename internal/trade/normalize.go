package trade

import (
	"fmt"
	"time"

	"schwab-discord-notifier/internal/schwab"

	"github.com/shopspring/decimal"
)

// NormalizationError reports a raw order that lacks a field needed to build a
// Trade. The caller logs it and skips the order.
type NormalizationError struct {
	OrderID int64
	Field   string
	Reason  string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize order %d: %s: %s", e.OrderID, e.Field, e.Reason)
}

func missing(orderID int64, field string) *NormalizationError {
	return &NormalizationError{OrderID: orderID, Field: field, Reason: "missing"}
}

// legInfo is the instrument-level part of a trade, shared by every fill of a leg.
type legInfo struct {
	leg        schwab.OrderLeg
	underlying string
	kind       InstrumentKind
	option     *OptionDetail
	side       Side
	direction  Direction
	multiplier decimal.Decimal
}

// fill is the aggregated quantity and notional behind one trade.
type fill struct {
	key      string
	legID    int64
	quantity decimal.Decimal
	notional decimal.Decimal
	at       time.Time
}

// Normalize maps a raw order to trades. A FILLED order is final and yields
// one Trade per leg keyed "<order>-<leg>", whatever shape its executions
// arrive in. Any other status yields one Trade per (activity, leg) keyed
// "<order>-<activity>-<leg>". An order that has not been filled yields no
// trades and no error.
func Normalize(order schwab.Order, m Multipliers) ([]Trade, error) {
	if order.OrderID == 0 {
		return nil, missing(0, "orderId")
	}
	if len(order.OrderLegCollection) == 0 {
		return nil, missing(order.OrderID, "orderLegCollection")
	}

	legs := make(map[int64]legInfo, len(order.OrderLegCollection))
	for _, leg := range order.OrderLegCollection {
		info, err := resolveLeg(order.OrderID, leg, m)
		if err != nil {
			return nil, err
		}
		legs[leg.LegID] = info
	}

	fills, err := collectFills(order)
	if err != nil {
		return nil, err
	}
	if len(fills) == 0 {
		fills, err = fallbackFills(order)
		if err != nil || len(fills) == 0 {
			return nil, err
		}
	}

	trades := make([]Trade, 0, len(fills))
	for _, f := range fills {
		info, ok := legs[f.legID]
		if !ok {
			return nil, &NormalizationError{OrderID: order.OrderID, Field: "executionLegs.legId", Reason: fmt.Sprintf("unknown leg %d", f.legID)}
		}

		t := Trade{
			OrderID:       f.key,
			ParentOrderID: order.OrderID,
			Symbol:        info.leg.Instrument.Symbol,
			Description:   info.leg.Instrument.Description,
			Underlying:    info.underlying,
			Kind:          info.kind,
			Option:        info.option,
			Instruction:   info.leg.Instruction,
			Side:          info.side,
			Direction:     info.direction,
			Quantity:      f.quantity,
			Price:         f.notional.Div(f.quantity),
			FilledAt:      f.at,
			Multiplier:    info.multiplier,
		}
		if err := t.Validate(); err != nil {
			return nil, &NormalizationError{OrderID: order.OrderID, Field: "trade", Reason: err.Error()}
		}
		trades = append(trades, t)
	}

	return trades, nil
}

func resolveLeg(orderID int64, leg schwab.OrderLeg, m Multipliers) (legInfo, error) {
	inst := leg.Instrument
	if inst == nil || inst.Symbol == "" {
		return legInfo{}, missing(orderID, "instrument.symbol")
	}
	if leg.Instruction == "" {
		return legInfo{}, missing(orderID, "instruction")
	}

	side, direction, err := classifyInstruction(leg.Instruction, leg.PositionEffect)
	if err != nil {
		return legInfo{}, &NormalizationError{OrderID: orderID, Field: "instruction", Reason: err.Error()}
	}

	info := legInfo{leg: leg, side: side, direction: direction}

	underlying := inst.Symbol
	if inst.UnderlyingSymbol != nil && *inst.UnderlyingSymbol != "" {
		underlying = *inst.UnderlyingSymbol
	}
	info.underlying = ExtractUnderlying(underlying)

	switch inst.AssetType {
	case "OPTION":
		opt, err := optionDetail(orderID, inst)
		if err != nil {
			return legInfo{}, err
		}
		info.kind = Option
		info.option = &opt
		info.multiplier = m.Option
		if inst.OptionMultiplier != nil && inst.OptionMultiplier.IsPositive() {
			info.multiplier = *inst.OptionMultiplier
		}
	case "EQUITY", "ETF", "COLLECTIVE_INVESTMENT":
		info.kind = Equity
		info.multiplier = m.Equity
	case "":
		return legInfo{}, missing(orderID, "instrument.assetType")
	default:
		return legInfo{}, &NormalizationError{OrderID: orderID, Field: "instrument.assetType", Reason: fmt.Sprintf("unsupported %q", inst.AssetType)}
	}

	return info, nil
}

// optionDetail prefers the instrument's own metadata and fills the gaps from
// the OCC contract code.
func optionDetail(orderID int64, inst *schwab.Instrument) (OptionDetail, error) {
	_, parsed, parseErr := ParseOCC(inst.Symbol)

	var detail OptionDetail
	switch {
	case inst.PutCall != nil && *inst.PutCall == "CALL":
		detail.Right = Call
	case inst.PutCall != nil && *inst.PutCall == "PUT":
		detail.Right = Put
	case parseErr == nil:
		detail.Right = parsed.Right
	default:
		return OptionDetail{}, missing(orderID, "instrument.putCall")
	}

	switch {
	case inst.StrikePrice != nil:
		detail.Strike = *inst.StrikePrice
	case parseErr == nil:
		detail.Strike = parsed.Strike
	default:
		return OptionDetail{}, missing(orderID, "instrument.strikePrice")
	}

	switch {
	case inst.ExpirationDate != nil:
		e := inst.ExpirationDate.UTC()
		detail.Expiration = time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC)
	case parseErr == nil:
		detail.Expiration = parsed.Expiration
	default:
		return OptionDetail{}, missing(orderID, "instrument.expirationDate")
	}

	return detail, nil
}

// classifyInstruction maps a Schwab instruction to side and position direction.
// Plain BUY and SELL consult the position effect to recognise short activity.
func classifyInstruction(instruction, positionEffect string) (Side, Direction, error) {
	switch instruction {
	case "BUY_TO_OPEN":
		return Open, Long, nil
	case "SELL_TO_CLOSE":
		return Close, Long, nil
	case "SELL_TO_OPEN", "SELL_SHORT", "SELL_SHORT_EXEMPT":
		return Open, Short, nil
	case "BUY_TO_CLOSE", "BUY_TO_COVER":
		return Close, Short, nil
	case "BUY":
		if positionEffect == "CLOSING" {
			return Close, Short, nil
		}
		return Open, Long, nil
	case "SELL":
		if positionEffect == "OPENING" {
			return Open, Short, nil
		}
		return Close, Long, nil
	}
	return "", "", fmt.Errorf("unsupported instruction %q", instruction)
}

// collectFills aggregates execution legs per leg for a FILLED order and per
// (activity, leg) otherwise, preserving the order in which they first appear.
func collectFills(order schwab.Order) ([]fill, error) {
	var fills []fill
	index := make(map[string]int)

	for _, activity := range order.OrderActivityCollection {
		if activity.ActivityType != "" && activity.ActivityType != "EXECUTION" {
			continue
		}
		for _, exec := range activity.ExecutionLegs {
			if exec.Quantity == nil {
				return nil, missing(order.OrderID, "executionLegs.quantity")
			}
			if exec.Price == nil {
				return nil, missing(order.OrderID, "executionLegs.price")
			}
			if !exec.Quantity.IsPositive() {
				continue
			}

			at, err := fillTime(order, exec.Time)
			if err != nil {
				return nil, err
			}

			key := legKey(order.OrderID, exec.LegID)
			if order.Status != "FILLED" {
				key = fmt.Sprintf("%d-%d-%d", order.OrderID, activity.ActivityID, exec.LegID)
			}
			i, ok := index[key]
			if !ok {
				index[key] = len(fills)
				fills = append(fills, fill{key: key, legID: exec.LegID, at: at})
				i = len(fills) - 1
			}
			f := &fills[i]
			f.quantity = f.quantity.Add(*exec.Quantity)
			f.notional = f.notional.Add(exec.Price.Mul(*exec.Quantity))
			if at.After(f.at) {
				f.at = at
			}
		}
	}
	return fills, nil
}

// fallbackFills builds the fill of a single-leg FILLED order that carries no
// execution detail, priced at the order price. The order price of a
// multi-leg order is a net figure that says nothing about each leg.
func fallbackFills(order schwab.Order) ([]fill, error) {
	if order.Status != "FILLED" {
		return nil, nil
	}
	if order.FilledQuantity != nil && !order.FilledQuantity.IsPositive() {
		return nil, nil
	}
	if len(order.OrderLegCollection) > 1 {
		return nil, &NormalizationError{OrderID: order.OrderID, Field: "executionLegs.price", Reason: "multi-leg order has no executions"}
	}
	if order.Price == nil {
		return nil, missing(order.OrderID, "price")
	}

	at, err := fillTime(order, nil)
	if err != nil {
		return nil, err
	}

	leg := order.OrderLegCollection[0]
	qty := leg.Quantity
	if qty == nil {
		qty = order.FilledQuantity
	}
	if qty == nil || !qty.IsPositive() {
		return nil, missing(order.OrderID, "orderLegCollection.quantity")
	}
	return []fill{{
		key:      legKey(order.OrderID, leg.LegID),
		legID:    leg.LegID,
		quantity: *qty,
		notional: order.Price.Mul(*qty),
		at:       at,
	}}, nil
}

func legKey(orderID, legID int64) string {
	return fmt.Sprintf("%d-%d", orderID, legID)
}

func fillTime(order schwab.Order, exec *schwab.Time) (time.Time, error) {
	switch {
	case exec != nil && !exec.IsZero():
		return exec.UTC(), nil
	case order.CloseTime != nil && !order.CloseTime.IsZero():
		return order.CloseTime.UTC(), nil
	case order.EnteredTime != nil && !order.EnteredTime.IsZero():
		return order.EnteredTime.UTC(), nil
	}
	return time.Time{}, missing(order.OrderID, "fill time")
}
