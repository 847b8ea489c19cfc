// Package invoicer drives the per-recipient generation loop: filter
// the merged worklog by recipient tag, aggregate positions, render the
// LaTeX file, and record the result in the issued ledger.
package invoicer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hourlog/invoicer/internal/config"
	"github.com/hourlog/invoicer/internal/invoice"
	"github.com/hourlog/invoicer/internal/ledger"
	"github.com/hourlog/invoicer/internal/locale"
	"github.com/hourlog/invoicer/internal/worklog"
)

// Options are the run parameters taken from the command line.
type Options struct {
	Date    time.Time // zero value means "now"
	Counter int       // 0 means "seed from the ledger, else 1"
	Output  string    // overrides the configured invoices folder
}

// Invoicer accumulates worklogs and recipients for one billing run.
type Invoicer struct {
	cfg        *config.Config
	date       time.Time
	counter    int
	output     string
	worklog    *worklog.Worklog
	recipients []*invoice.Recipient
	issued     *ledger.IssuedRepo
	logger     *slog.Logger
}

// New creates an invoicer over the biller configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Invoicer {
	if logger == nil {
		logger = slog.Default()
	}
	date := opts.Date
	if date.IsZero() {
		date = time.Now()
	}
	output := opts.Output
	if output == "" {
		output = cfg.Folders.Invoices
	}
	return &Invoicer{
		cfg:     cfg,
		date:    date,
		counter: opts.Counter,
		output:  output,
		worklog: worklog.New(),
		logger:  logger,
	}
}

// SetLedger enables fingerprint deduplication and counter seeding
// against the issued-invoice ledger.
func (iv *Invoicer) SetLedger(repo *ledger.IssuedRepo) {
	iv.issued = repo
}

// AppendWorklog merges wl into the run's worklog.
func (iv *Invoicer) AppendWorklog(wl *worklog.Worklog) {
	iv.worklog.Append(wl)
}

// Worklog returns the merged worklog.
func (iv *Invoicer) Worklog() *worklog.Worklog { return iv.worklog }

// LoadWorklogs parses the given CSV files concurrently and appends
// them in argument order, then reads one more worklog from stdin when
// non-nil. A file that fails to parse is warned about and skipped; it
// never blocks the rest of the run.
func (iv *Invoicer) LoadWorklogs(paths []string, stdin io.Reader) {
	parsed := make([]*worklog.Worklog, len(paths))

	var g errgroup.Group
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			wl, err := worklog.FromCSVFile(path)
			if err != nil {
				iv.logger.Warn("skipping worklog", "file", path, "error", err)
				return nil
			}
			parsed[i] = wl
			return nil
		})
	}
	g.Wait()

	for _, wl := range parsed {
		if wl != nil {
			iv.AppendWorklog(wl)
		}
	}

	if stdin != nil {
		wl, err := worklog.FromCSV(stdin)
		if err != nil {
			iv.logger.Warn("skipping worklog from stdin", "error", err)
			return
		}
		iv.AppendWorklog(wl)
	}
}

// AddRecipient registers a billing target.
func (iv *Invoicer) AddRecipient(r *invoice.Recipient) {
	iv.recipients = append(iv.recipients, r)
}

// LoadRecipient loads a recipient TOML file; a broken file is warned
// about and skipped.
func (iv *Invoicer) LoadRecipient(path string) {
	r, err := invoice.LoadRecipient(path)
	if err != nil {
		iv.logger.Warn("skipping recipient", "file", path, "error", err)
		return
	}
	iv.AddRecipient(r)
}

// DiscoverRecipients resolves worklog tags against the recipients
// folder: a tag named t picks up <recipients>/<t>.toml when present
// and not already loaded explicitly.
func (iv *Invoicer) DiscoverRecipients() {
	for _, tag := range iv.worklog.Tags() {
		if iv.hasRecipient(tag) {
			continue
		}
		path := filepath.Join(iv.cfg.Folders.Recipients, tag+".toml")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		iv.LoadRecipient(path)
	}
}

func (iv *Invoicer) hasRecipient(name string) bool {
	for _, r := range iv.recipients {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasRecipients reports whether at least one recipient is registered.
func (iv *Invoicer) HasRecipients() bool { return len(iv.recipients) > 0 }

// Recipients returns the registered billing targets.
func (iv *Invoicer) Recipients() []*invoice.Recipient { return iv.recipients }

// localeFor loads the resolved locale for an invoice, falling back to
// the built-in default when the locale file is missing or broken.
func (iv *Invoicer) localeFor(settings invoice.ResolvedSettings) locale.Locale {
	path := filepath.Join(iv.cfg.Folders.Locales, settings.Locale+".toml")
	loc, err := locale.Load(path)
	if err != nil {
		iv.logger.Warn("using default locale", "file", path, "error", err)
		return locale.Default()
	}
	return loc
}

// buildInvoice aggregates the recipient's filtered worklog into a
// fresh invoice.
func (iv *Invoicer) buildInvoice(r *invoice.Recipient) (*invoice.Invoice, error) {
	settings := invoice.ResolveSettings(r.Invoice, iv.cfg.Invoice)
	inv := invoice.New(iv.date, iv.cfg, r, settings, iv.localeFor(settings), iv.logger)

	filtered := iv.worklog.WithTag(r.Name)
	filtered.SetRate(inv.DefaultRate())
	if err := inv.AddWorklog(filtered); err != nil {
		return nil, err
	}
	return inv, nil
}

// Summary is a dry-run view of one recipient's invoice.
type Summary struct {
	Recipient  string
	File       string
	Number     string
	Positions  int
	Sum        float64
	SumWithTax float64
	VAT        bool
	Reused     bool // identical invoice found in the ledger
	Locale     locale.Locale
}

// Summaries builds every recipient's invoice without writing anything,
// for preview display. An attached ledger is consulted the same way
// Generate does, so the previewed numbers match the eventual run: an
// already-issued invoice keeps its original number and consumes no
// counter.
func (iv *Invoicer) Summaries() ([]Summary, error) {
	counter, err := iv.seedCounter()
	if err != nil {
		return nil, err
	}

	var out []Summary
	for _, r := range iv.recipients {
		inv, err := iv.buildInvoice(r)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", r.Name, err)
		}
		s := Summary{
			Recipient:  r.Name,
			Positions:  len(inv.Positions()),
			Sum:        inv.Sum(),
			SumWithTax: inv.SumWithTax(),
			VAT:        inv.Settings().CalculateVAT,
			Locale:     inv.Locale(),
		}

		if s.Positions > 0 && iv.issued != nil {
			existing, err := iv.issued.GetByFingerprint(ledger.Fingerprint(inv.Canonical()))
			if err != nil {
				return nil, fmt.Errorf("ledger lookup: %w", err)
			}
			if existing != nil {
				s.Reused = true
				s.Number = existing.Number
				out = append(out, s)
				continue
			}
		}

		inv.SetCounter(counter)
		s.File = inv.Filename()
		s.Number = inv.Number()
		out = append(out, s)
		if s.Positions > 0 {
			counter++
		}
	}
	return out, nil
}

// Generated describes one written (or deduplicated) invoice.
type Generated struct {
	Recipient string
	File      string
	Number    string
	Positions int
	Total     float64
	Reused    bool // identical invoice found in the ledger
}

// Result summarizes a billing run.
type Result struct {
	Generated    []Generated
	SkippedEmpty int
}

// Generate builds and writes one invoice per recipient. Recipients
// with zero positions are warned about and skipped. When a ledger is
// attached, an invoice whose fingerprint was already issued is not
// regenerated and keeps its original number.
func (iv *Invoicer) Generate() (*Result, error) {
	if !iv.HasRecipients() {
		return nil, fmt.Errorf("no recipient given")
	}

	iv.logger.Info("starting run",
		"tags", iv.worklog.Tags(),
		"recipients", len(iv.recipients))

	counter, err := iv.seedCounter()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(iv.output, 0755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", iv.output, err)
	}

	runID := uuid.NewString()
	result := &Result{}

	for _, r := range iv.recipients {
		inv, err := iv.buildInvoice(r)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", r.Name, err)
		}

		if len(inv.Positions()) == 0 {
			iv.logger.Warn("invoice contains no positions, skipping", "recipient", r.Name)
			result.SkippedEmpty++
			continue
		}

		fingerprint := ledger.Fingerprint(inv.Canonical())
		if iv.issued != nil {
			existing, err := iv.issued.GetByFingerprint(fingerprint)
			if err != nil {
				return nil, fmt.Errorf("ledger lookup: %w", err)
			}
			if existing != nil {
				iv.logger.Info("invoice already issued, skipping",
					"recipient", r.Name, "number", existing.Number)
				result.Generated = append(result.Generated, Generated{
					Recipient: r.Name,
					Number:    existing.Number,
					Positions: len(inv.Positions()),
					Total:     inv.Sum(),
					Reused:    true,
				})
				continue
			}
		}

		inv.SetCounter(counter)
		filename := inv.Filename()
		path := filepath.Join(iv.output, filename)

		if err := inv.GenerateTexFile(path); err != nil {
			iv.logger.Warn("skipping recipient, render failed",
				"recipient", r.Name, "error", err)
			continue
		}

		total := inv.Sum()
		if inv.Settings().CalculateVAT {
			total = inv.SumWithTax()
		}

		if iv.issued != nil {
			_, err := iv.issued.Insert(ledger.Issued{
				Fingerprint: fingerprint,
				Number:      inv.Number(),
				Recipient:   r.Name,
				Year:        iv.date.Year(),
				Month:       int(iv.date.Month()),
				Counter:     counter,
				Total:       total,
				RunID:       runID,
			})
			if err != nil {
				return nil, fmt.Errorf("ledger insert: %w", err)
			}
		}

		iv.logger.Info("invoice generated",
			"file", path,
			"positions", len(inv.Positions()),
			"total", inv.Locale().FormatAmount(total))

		result.Generated = append(result.Generated, Generated{
			Recipient: r.Name,
			File:      path,
			Number:    inv.Number(),
			Positions: len(inv.Positions()),
			Total:     total,
		})
		counter++
	}

	return result, nil
}

// seedCounter resolves the first running counter of the run: explicit
// CLI value, else the next free counter from the ledger, else 1.
func (iv *Invoicer) seedCounter() (int, error) {
	if iv.counter > 0 {
		return iv.counter, nil
	}
	if iv.issued != nil {
		next, err := iv.issued.NextCounter(iv.date.Year(), int(iv.date.Month()))
		if err != nil {
			return 0, fmt.Errorf("ledger counter: %w", err)
		}
		return next, nil
	}
	return 1, nil
}
