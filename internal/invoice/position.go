package invoice

import (
	"fmt"
	"io"

	"github.com/hourlog/invoicer/internal/locale"
	"github.com/hourlog/invoicer/internal/worklog"
)

// Position is one aggregated, priced line item on an invoice. Unit is
// always hours in this system.
type Position struct {
	Text   string
	Amount float64
	Price  float64
	Unit   string
}

// PositionFromRecord builds a single-record position, resolving the
// record's rate against the invoice default.
func PositionFromRecord(r worklog.Record, defaultRate float64) Position {
	return Position{
		Text:   r.Message,
		Amount: r.Hours,
		Price:  r.RateOr(defaultRate),
		Unit:   "h",
	}
}

// Net returns amount times price per unit.
func (p Position) Net() float64 {
	return p.Amount * p.Price
}

// Merge combines two positions sharing the same grouping key. The
// merged price is the quantity-weighted average. Positions with
// differing text or unit cannot be merged.
func Merge(a, b Position) (Position, error) {
	if a.Text != b.Text || a.Unit != b.Unit {
		return Position{}, fmt.Errorf("cannot merge positions %q/%q with units %q/%q",
			a.Text, b.Text, a.Unit, b.Unit)
	}
	sum := a.Amount + b.Amount
	return Position{
		Text:   a.Text,
		Amount: sum,
		Price:  (a.Amount*a.Price + b.Amount*b.Price) / sum,
		Unit:   a.Unit,
	}, nil
}

// generateTex writes the \position macro for this line item.
func (p Position) generateTex(w io.Writer, l locale.Locale) error {
	_, err := fmt.Fprintf(w, "\\position{%s}{%s%s}{%s}{%s}\n",
		p.Text,
		l.FormatNumber(p.Amount, 2),
		p.Unit,
		fmt.Sprintf("%v%s/%s", p.Price, l.Currency.Symbol(), p.Unit),
		l.FormatAmount(p.Net()))
	return err
}
