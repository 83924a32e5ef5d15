package report

import (
	"github.com/shopspring/decimal"
)

// Summary aggregates closed trades over a period.
type Summary struct {
	TotalTrades int             `json:"total_trades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	BreakEvens  int             `json:"break_evens"`
	WinRate     decimal.Decimal `json:"win_rate"` // percent of trades that were wins
	TotalProfit decimal.Decimal `json:"total_profit"`
	Best        *TradeResult    `json:"best,omitempty"`
	Worst       *TradeResult    `json:"worst,omitempty"`
}

// Summarize computes a Summary from per-order results.
func Summarize(results []TradeResult) Summary {
	s := Summary{TotalProfit: decimal.Zero, WinRate: decimal.Zero}
	for i := range results {
		r := &results[i]
		s.TotalTrades++
		s.TotalProfit = s.TotalProfit.Add(r.GainAbs)

		switch r.Outcome {
		case Win:
			s.Wins++
		case Loss:
			s.Losses++
		default:
			s.BreakEvens++
		}

		if s.Best == nil || r.GainPct.GreaterThan(s.Best.GainPct) {
			s.Best = r
		}
		if s.Worst == nil || r.GainPct.LessThan(s.Worst.GainPct) {
			s.Worst = r
		}
	}

	if s.TotalTrades > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).
			Div(decimal.NewFromInt(int64(s.TotalTrades))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	return s
}
