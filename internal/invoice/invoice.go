// Package invoice aggregates worklog records into priced line items
// and renders them through the LaTeX template engine.
package invoice

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hourlog/invoicer/internal/config"
	"github.com/hourlog/invoicer/internal/locale"
	"github.com/hourlog/invoicer/internal/tex"
	"github.com/hourlog/invoicer/internal/worklog"
)

// Empty-range sentinels, same encoding as the worklog store.
var (
	dateMax = time.Unix(1<<62, 0)
	dateMin = time.Unix(-(1 << 62), 0)
)

// ResolvedSettings are invoice settings after applying the override
// precedence: recipient-level wins over global, global over hardcoded
// defaults.
type ResolvedSettings struct {
	Locale            string
	Template          string
	NumberFormat      string
	FilenameFormat    string
	DaysForPayment    int
	CalculateVAT      bool
	TimesheetTemplate string
}

// ResolveSettings merges recipient-level settings over global ones and
// fills the remaining gaps with the hardcoded defaults.
func ResolveSettings(recipient, global config.Settings) ResolvedSettings {
	pick := func(a, b, def string) string {
		if a != "" {
			return a
		}
		if b != "" {
			return b
		}
		return def
	}

	out := ResolvedSettings{
		Locale:            pick(recipient.Locale, global.Locale, config.DefaultLocale),
		Template:          pick(recipient.Template, global.Template, config.DefaultTemplate),
		NumberFormat:      pick(recipient.NumberFormat, global.NumberFormat, config.DefaultNumberFormat),
		FilenameFormat:    pick(recipient.FilenameFormat, global.FilenameFormat, config.DefaultFilenameFormat),
		DaysForPayment:    config.DefaultDaysForPayment,
		CalculateVAT:      true,
		TimesheetTemplate: pick(recipient.TimesheetTemplate, global.TimesheetTemplate, ""),
	}

	if recipient.DaysForPayment != nil {
		out.DaysForPayment = *recipient.DaysForPayment
	} else if global.DaysForPayment != nil {
		out.DaysForPayment = *global.DaysForPayment
	}

	if recipient.CalculateVAT != nil {
		out.CalculateVAT = *recipient.CalculateVAT
	} else if global.CalculateVAT != nil {
		out.CalculateVAT = *global.CalculateVAT
	}

	return out
}

// Invoice is the aggregate root for one billing run against one
// recipient. Lifecycle: constructed empty, populated by AddWorklog,
// then rendered once.
type Invoice struct {
	date         time.Time
	cfg          ResolvedSettings
	biller       config.Contact
	payment      config.Payment
	counter      int
	recipient    *Recipient
	positions    []Position
	timesheet    *Timesheet
	begin        time.Time
	end          time.Time
	loc          locale.Locale
	templatesDir string
	logger       *slog.Logger
}

// New creates an empty invoice for recipient bound to the biller's
// configuration and date. Settings and locale are resolved by the
// caller and passed in explicitly.
func New(date time.Time, biller *config.Config, recipient *Recipient, settings ResolvedSettings, loc locale.Locale, logger *slog.Logger) *Invoice {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoice{
		date:         date,
		cfg:          settings,
		biller:       biller.Contact,
		payment:      biller.Payment,
		counter:      1,
		recipient:    recipient,
		begin:        dateMax,
		end:          dateMin,
		loc:          loc,
		templatesDir: biller.Folders.Templates,
		logger:       logger,
	}
}

// SetCounter sets the running counter used for invoice numbering.
func (inv *Invoice) SetCounter(n int) { inv.counter = n }

// Counter returns the running counter.
func (inv *Invoice) Counter() int { return inv.counter }

// Date returns the invoice date.
func (inv *Invoice) Date() time.Time { return inv.date }

// Recipient returns the billing target.
func (inv *Invoice) Recipient() *Recipient { return inv.recipient }

// Positions returns the accumulated line items.
func (inv *Invoice) Positions() []Position { return inv.positions }

// Settings returns the resolved invoice settings.
func (inv *Invoice) Settings() ResolvedSettings { return inv.cfg }

// Locale returns the resolved locale.
func (inv *Invoice) Locale() locale.Locale { return inv.loc }

// DefaultRate resolves the hourly rate for records without their own:
// recipient rate, else biller rate, else the hardcoded fallback.
func (inv *Invoice) DefaultRate() float64 {
	if inv.recipient.DefaultRate != nil {
		return *inv.recipient.DefaultRate
	}
	if inv.payment.DefaultRate != nil {
		return *inv.payment.DefaultRate
	}
	return config.DefaultRate
}

// GenerateTimesheet reports whether a timesheet page is produced for
// this invoice.
func (inv *Invoice) GenerateTimesheet() bool {
	return inv.cfg.TimesheetTemplate != "" || inv.timesheet != nil
}

// AddWorklog folds the worklog's records into the invoice: each record
// is assigned a grouping key (matched recipient tag, else the default
// tag, else the record message), same-key positions are merged with a
// weighted-average price, and the invoice date range is extended.
// Positions are flushed in lexicographic key order so rendering is
// deterministic regardless of input order. May be called multiple
// times; positions keep accumulating.
func (inv *Invoice) AddWorklog(wl *worklog.Worklog) error {
	fallback := wl.Rate()
	if fallback == 0 {
		fallback = inv.DefaultRate()
	}

	groups := make(map[string]Position)
	var keys []string

	for _, rec := range wl.Records() {
		if rec.Start.Before(inv.begin) {
			inv.begin = rec.Start
		}
		if end := rec.End(); end.After(inv.end) {
			inv.end = end
		}

		key, text := rec.Message, rec.Message
		if tag, ok := inv.recipient.MatchTag(rec.Tags); ok {
			key, text = tag.Name, tag.Text
		} else if tag, ok := inv.recipient.DefaultTag(); ok {
			key, text = tag.Name, tag.Text
		}

		pos := PositionFromRecord(rec, fallback)
		pos.Text = text

		if existing, ok := groups[key]; ok {
			merged, err := Merge(existing, pos)
			if err != nil {
				return fmt.Errorf("position %q: %w", key, err)
			}
			groups[key] = merged
		} else {
			groups[key] = pos
			keys = append(keys, key)
		}

		if inv.GenerateTimesheet() {
			if inv.timesheet == nil {
				inv.timesheet = NewTimesheet(
					filepath.Join(inv.templatesDir, inv.cfg.TimesheetTemplate),
					inv.loc, inv.logger)
			}
			inv.timesheet.AddRecord(rec)
		}
	}

	sort.Strings(keys)
	for _, key := range keys {
		inv.positions = append(inv.positions, groups[key])
	}

	if inv.timesheet != nil {
		inv.timesheet.Sort()
	}
	return nil
}

// Number formats the invoice number from the configured pattern,
// substituting %Y, %m and ${COUNTER}.
func (inv *Invoice) Number() string {
	n := inv.cfg.NumberFormat
	n = strings.ReplaceAll(n, "%Y", fmt.Sprintf("%04d", inv.date.Year()))
	n = strings.ReplaceAll(n, "%m", fmt.Sprintf("%02d", int(inv.date.Month())))
	n = strings.ReplaceAll(n, "${COUNTER}", fmt.Sprintf("%02d", inv.counter))
	return n
}

// Filename formats the output file name from the configured pattern.
func (inv *Invoice) Filename() string {
	f := inv.cfg.FilenameFormat
	f = strings.ReplaceAll(f, "${INVOICENUMBER}", inv.Number())
	f = strings.ReplaceAll(f, "${INVOICE}", inv.loc.Tr("invoice"))
	f = strings.ReplaceAll(f, "${RECIPIENT}", inv.recipient.Name)
	return f
}

// Sum returns the total net value over all positions.
func (inv *Invoice) Sum() float64 {
	var sum float64
	for _, p := range inv.positions {
		sum += p.Net()
	}
	return sum
}

// TaxRate returns the biller's tax rate in percent.
func (inv *Invoice) TaxRate() float64 { return inv.payment.TaxRate }

// SumWithTax returns the total including value-added tax.
func (inv *Invoice) SumWithTax() float64 {
	return inv.Sum() * (1 + inv.TaxRate()/100)
}

// Tax returns the value-added tax amount.
func (inv *Invoice) Tax() float64 {
	return inv.SumWithTax() - inv.Sum()
}

// BeginDate returns the minimum begin over all contributing records.
func (inv *Invoice) BeginDate() time.Time { return inv.begin }

// EndDate returns the maximum end over all contributing records.
func (inv *Invoice) EndDate() time.Time { return inv.end }

// Canonical returns a stable textual encoding of the invoice content,
// the input for the issued-ledger fingerprint.
func (inv *Invoice) Canonical() string {
	var b strings.Builder
	fmt.Fprintf(&b, "recipient=%s\n", inv.recipient.Name)
	fmt.Fprintf(&b, "period=%s..%s\n",
		inv.begin.Format(worklog.StartLayout), inv.end.Format(worklog.StartLayout))
	for _, p := range inv.positions {
		fmt.Fprintf(&b, "position=%s|%.4f|%.4f|%s\n", p.Text, p.Amount, p.Price, p.Unit)
	}
	fmt.Fprintf(&b, "sum=%.4f\n", inv.Sum())
	return b.String()
}

// details is the computed invoice metadata block.
type details struct {
	date           string
	number         string
	periodBegin    string
	periodEnd      string
	daysForPayment int
}

func (d details) TexFields() []tex.Field {
	return []tex.Field{
		tex.String("date", d.date),
		tex.String("number", d.number),
		tex.String("periodbegin", d.periodBegin),
		tex.String("periodend", d.periodEnd),
		tex.String("daysforpayment", fmt.Sprintf("%d", d.daysForPayment)),
	}
}

func (inv *Invoice) details() details {
	return details{
		date:           inv.loc.FormatDate(inv.date),
		number:         inv.Number(),
		periodBegin:    inv.loc.FormatDate(inv.begin),
		periodEnd:      inv.loc.FormatDate(inv.end),
		daysForPayment: inv.cfg.DaysForPayment,
	}
}

// GenerateTex renders the invoice template to w with all token
// callbacks bound.
func (inv *Invoice) GenerateTex(w io.Writer) error {
	return tex.NewTemplate(filepath.Join(inv.templatesDir, inv.cfg.Template), inv.logger).
		Token("LANGUAGE", func(w io.Writer) error {
			return inv.loc.GenerateTex(w)
		}).
		Token("RECIPIENT_ADDRESS", func(w io.Writer) error {
			return inv.recipient.GenerateTexCommands(w, "recipient")
		}).
		Token("BILLER_ADDRESS", func(w io.Writer) error {
			return tex.WriteCommands(w, "my", inv.biller)
		}).
		Token("PAYMENT_DETAILS", func(w io.Writer) error {
			return tex.WriteCommands(w, "my", inv.payment)
		}).
		Token("INVOICE_DETAILS", func(w io.Writer) error {
			return tex.WriteCommands(w, "invoice", inv.details())
		}).
		Token("INVOICE_POSITIONS", func(w io.Writer) error {
			for _, p := range inv.positions {
				if err := p.generateTex(w, inv.loc); err != nil {
					return err
				}
			}
			return nil
		}).
		Token("INVOICE_SUM", func(w io.Writer) error {
			l := inv.loc
			if inv.cfg.CalculateVAT {
				_, err := fmt.Fprintf(w, "\\invoicesum{%s}{%v}{%s}{%s}\n",
					l.FormatAmount(inv.Sum()),
					inv.TaxRate(),
					l.FormatAmount(inv.Tax()),
					l.FormatAmount(inv.SumWithTax()))
				return err
			}
			_, err := fmt.Fprintf(w, "\\invoicesumnotax{%s}\n", l.FormatAmount(inv.Sum()))
			return err
		}).
		Token("INVOICE_VALUE_TAX_NOTE", func(w io.Writer) error {
			if inv.cfg.CalculateVAT {
				return nil
			}
			_, err := fmt.Fprintln(w, "\\trinvoicevaluetaxnote")
			return err
		}).
		Token("TIMESHEET", func(w io.Writer) error {
			if !inv.GenerateTimesheet() || inv.timesheet == nil {
				return nil
			}
			if _, err := fmt.Fprintln(w, "\\newpage"); err != nil {
				return err
			}
			return inv.timesheet.GenerateTex(w)
		}).
		Render(w)
}

// GenerateTexFile renders the invoice into the file at path. A failed
// render removes the partial file.
func (inv *Invoice) GenerateTexFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := inv.GenerateTex(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
