package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Row is one lot match joined with its closing trade and the consumed lot.
type Row struct {
	MatchID       uint            `json:"match_id"`
	OrderID       string          `json:"order_id"`
	ParentOrderID int64           `json:"parent_order_id"`
	LotID         uint            `json:"lot_id"`
	OpenOrderID   string          `json:"open_order_id"`
	Underlying    string          `json:"underlying"`
	Symbol        string          `json:"symbol"`
	Instruction   string          `json:"instruction"`
	Kind          string          `json:"kind"`
	Direction     string          `json:"direction"`
	Strike        decimal.Decimal `json:"strike"`
	Expiration    *time.Time      `json:"expiration,omitempty"`
	OptionRight   string          `json:"right,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"entry_price"`
	ClosePrice    decimal.Decimal `json:"exit_price"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	GainAbs       decimal.Decimal `json:"gain_abs"`
	GainPct       decimal.Decimal `json:"gain_pct"`
	LotOpenedAt   time.Time       `json:"lot_opened_at"`
	MatchedAt     time.Time       `json:"matched_at"`
}

// ContractCode is the option contract code following the root symbol, e.g.
// "260320C00090000"; empty for equities.
func (r Row) ContractCode() string {
	fields := strings.Fields(r.Symbol)
	if r.Kind != "OPTION" || len(fields) < 2 {
		return ""
	}
	return strings.Join(fields[1:], "")
}

// Outcome classifies the row's gain.
func (r Row) Outcome() Outcome {
	return Classify(r.GainPct)
}

const rowColumns = `m.id AS match_id, m.order_id, t.parent_order_id, m.lot_id, l.open_order_id,
	m.underlying, t.symbol, t.instruction, t.kind, m.direction, t.strike, t.expiration, t.option_right,
	m.quantity, m.unit_cost, m.close_price, m.multiplier, m.gain_abs, m.gain_pct, m.lot_opened_at, m.matched_at`

// Query returns every lot match whose closing trade filled in [from, to),
// oldest first. Retired lots are included.
func Query(ctx context.Context, db *gorm.DB, from, to time.Time) ([]Row, error) {
	var rows []Row
	err := db.WithContext(ctx).
		Table("lot_matches AS m").
		Select(rowColumns).
		Joins("JOIN trade_records t ON t.order_id = m.order_id AND t.deleted_at IS NULL").
		Joins("JOIN lots l ON l.id = m.lot_id").
		Where("m.matched_at >= ? AND m.matched_at < ?", from.UTC(), to.UTC()).
		Order("m.matched_at, m.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query lot matches: %w", err)
	}
	return rows, nil
}

// TradeResult is the realized result of one closing trade across its matches.
type TradeResult struct {
	OrderID    string          `json:"order_id"`
	Underlying string          `json:"underlying"`
	Quantity   decimal.Decimal `json:"quantity"`
	GainAbs    decimal.Decimal `json:"gain_abs"`
	GainPct    decimal.Decimal `json:"gain_pct"`
	ClosedAt   time.Time       `json:"closed_at"`
	Outcome    Outcome         `json:"outcome"`
}

// ByOrder folds rows into one result per closing order with a
// quantity-weighted gain percentage, ordered by close time.
func ByOrder(rows []Row) []TradeResult {
	index := make(map[string]int)
	var results []TradeResult
	weightedPct := make([]decimal.Decimal, 0)

	for _, r := range rows {
		i, ok := index[r.OrderID]
		if !ok {
			i = len(results)
			index[r.OrderID] = i
			results = append(results, TradeResult{OrderID: r.OrderID, Underlying: r.Underlying, ClosedAt: r.MatchedAt})
			weightedPct = append(weightedPct, decimal.Zero)
		}
		results[i].Quantity = results[i].Quantity.Add(r.Quantity)
		results[i].GainAbs = results[i].GainAbs.Add(r.GainAbs)
		weightedPct[i] = weightedPct[i].Add(r.GainPct.Mul(r.Quantity))
	}

	for i := range results {
		if results[i].Quantity.IsPositive() {
			results[i].GainPct = weightedPct[i].Div(results[i].Quantity)
		}
		results[i].Outcome = Classify(results[i].GainPct)
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].ClosedAt.Before(results[b].ClosedAt)
	})
	return results
}
