package trade

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// occCodeLen is the length of the OCC contract code following the root:
// YYMMDD, the right letter and the strike times 1000 as eight digits.
const occCodeLen = 15

// ExtractUnderlying returns the root symbol of an instrument symbol: the text
// before the first whitespace, upper-cased. Every caller that needs an
// underlying goes through this function.
func ExtractUnderlying(symbol string) string {
	fields := strings.Fields(symbol)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// ParseOCC parses an OCC option symbol such as "SLV   260320C00090000" into
// its root and contract detail. The padding between root and code is optional.
func ParseOCC(symbol string) (string, OptionDetail, error) {
	compact := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), " ", ""))
	if len(compact) <= occCodeLen {
		return "", OptionDetail{}, fmt.Errorf("occ symbol %q too short", symbol)
	}

	root := compact[:len(compact)-occCodeLen]
	code := compact[len(compact)-occCodeLen:]

	expiration, err := time.Parse("060102", code[:6])
	if err != nil {
		return "", OptionDetail{}, fmt.Errorf("occ symbol %q: bad expiration: %w", symbol, err)
	}

	var right Right
	switch code[6] {
	case 'C':
		right = Call
	case 'P':
		right = Put
	default:
		return "", OptionDetail{}, fmt.Errorf("occ symbol %q: bad right %q", symbol, code[6])
	}

	digits := code[7:]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", OptionDetail{}, fmt.Errorf("occ symbol %q: bad strike %q", symbol, digits)
		}
	}
	strike, err := decimal.NewFromString(digits)
	if err != nil {
		return "", OptionDetail{}, fmt.Errorf("occ symbol %q: bad strike: %w", symbol, err)
	}

	return root, OptionDetail{
		Strike:     strike.Shift(-3),
		Expiration: expiration,
		Right:      right,
	}, nil
}
