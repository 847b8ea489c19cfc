package invoice

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hourlog/invoicer/internal/locale"
	"github.com/hourlog/invoicer/internal/tex"
	"github.com/hourlog/invoicer/internal/worklog"
)

// Timesheet is a per-entry rendering of worklog rows appended to an
// invoice, generated only when a timesheet template is configured.
type Timesheet struct {
	wl           *worklog.Worklog
	templatePath string
	loc          locale.Locale
	logger       *slog.Logger
}

// NewTimesheet creates an empty timesheet rendered from the template
// file at templatePath.
func NewTimesheet(templatePath string, loc locale.Locale, logger *slog.Logger) *Timesheet {
	return &Timesheet{
		wl:           worklog.New(),
		templatePath: templatePath,
		loc:          loc,
		logger:       logger,
	}
}

// AddRecord appends one raw worklog entry.
func (t *Timesheet) AddRecord(r worklog.Record) {
	t.wl.AddRecord(r)
}

// Sort reorders entries by start time; called after each bulk addition.
func (t *Timesheet) Sort() {
	t.wl.Sort()
}

// GenerateTex renders the timesheet template, expanding the WORKLOG
// token into one table row per entry.
func (t *Timesheet) GenerateTex(w io.Writer) error {
	return tex.NewTemplate(t.templatePath, t.logger).
		Token("WORKLOG", func(w io.Writer) error {
			for _, r := range t.wl.Records() {
				_, err := fmt.Fprintf(w, "%s & %s & %s\\\\\n",
					r.Start.Format(worklog.StartLayout),
					t.loc.FormatNumber(r.Hours, 2),
					r.Message)
				if err != nil {
					return err
				}
			}
			return nil
		}).
		Render(w)
}
