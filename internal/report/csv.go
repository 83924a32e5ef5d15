package report

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
)

// CSVRow is the spreadsheet layout of an exported lot match.
type CSVRow struct {
	Date        string `csv:"date"`
	Ticker      string `csv:"ticker"`
	Expiration  string `csv:"expiration"`
	Contract    string `csv:"contract"`
	Direction   string `csv:"direction"`
	Quantity    string `csv:"quantity"`
	EntryPrice  string `csv:"entry_price"`
	ExitPrice   string `csv:"exit_price"`
	GainPct     string `csv:"gain_pct"`
	GainAbs     string `csv:"gain_abs"`
	Outcome     string `csv:"outcome"`
	OrderID     string `csv:"order_id"`
	OpenOrderID string `csv:"open_order_id"`
}

// ToCSVRows formats rows for export.
func ToCSVRows(rows []Row) []*CSVRow {
	out := make([]*CSVRow, 0, len(rows))
	for _, r := range rows {
		exp := ""
		if r.Expiration != nil {
			exp = r.Expiration.Format("01/02/2006")
		}
		out = append(out, &CSVRow{
			Date:        r.MatchedAt.UTC().Format("2006-01-02"),
			Ticker:      r.Underlying,
			Expiration:  exp,
			Contract:    r.ContractCode(),
			Direction:   r.Direction,
			Quantity:    r.Quantity.String(),
			EntryPrice:  r.UnitCost.StringFixed(2),
			ExitPrice:   r.ClosePrice.StringFixed(2),
			GainPct:     r.GainPct.StringFixed(2),
			GainAbs:     r.GainAbs.StringFixed(2),
			Outcome:     string(r.Outcome()),
			OrderID:     r.OrderID,
			OpenOrderID: r.OpenOrderID,
		})
	}
	return out
}

// WriteCSV writes rows with a header line to w.
func WriteCSV(w io.Writer, rows []Row) error {
	csvRows := ToCSVRows(rows)
	if err := gocsv.Marshal(&csvRows, w); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}
