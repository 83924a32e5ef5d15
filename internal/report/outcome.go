// Package report exports matched trades and summarizes their outcomes.
package report

import "github.com/shopspring/decimal"

// Outcome classifies a realized gain.
type Outcome string

const (
	Win       Outcome = "WIN"
	Loss      Outcome = "LOSS"
	BreakEven Outcome = "BREAK_EVEN"
)

// outcomeThreshold is the gain percentage beyond which a trade counts as a
// win or a loss.
var outcomeThreshold = decimal.NewFromInt(5)

// Classify maps a gain percentage to WIN (> +5), LOSS (< -5) or BREAK_EVEN.
func Classify(gainPct decimal.Decimal) Outcome {
	switch {
	case gainPct.GreaterThan(outcomeThreshold):
		return Win
	case gainPct.LessThan(outcomeThreshold.Neg()):
		return Loss
	}
	return BreakEven
}
