// Package worklog parses and stores logged time entries from CSV.
package worklog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// StartLayout is the timestamp format of the Start CSV column.
const StartLayout = "01/02/2006 15:04"

// Date-range sentinels for an empty worklog: begin starts at the
// maximum representable date and end at the minimum, so the first
// record always tightens both. Callers must not trust the range until
// at least one record exists.
var (
	sentinelBegin = time.Unix(1<<62, 0)
	sentinelEnd   = time.Unix(-(1 << 62), 0)
)

// Record is one logged time entry. Immutable once parsed; the only
// later assignment is the worklog-level fallback rate.
type Record struct {
	Start   time.Time
	Hours   float64
	Rate    *float64 // nil when the row has no rate override
	Message string
	Tags    []string
}

// End returns the record's end timestamp, start plus its duration.
func (r Record) End() time.Time {
	return r.Start.Add(time.Duration(r.Hours * 3600 * float64(time.Second)))
}

// RateOr returns the record's own rate, or fallback when unset.
func (r Record) RateOr(fallback float64) float64 {
	if r.Rate != nil {
		return *r.Rate
	}
	return fallback
}

// Net returns hours times the effective rate.
func (r Record) Net(fallback float64) float64 {
	return r.Hours * r.RateOr(fallback)
}

// HasTag reports whether the record carries tag.
func (r Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Worklog is an ordered collection of records with incrementally
// maintained aggregates: the spanned date range, the union of all tags
// seen, and a fallback rate for records without their own.
type Worklog struct {
	begin   time.Time
	end     time.Time
	rate    float64
	tags    map[string]struct{}
	records []Record
}

// New returns an empty worklog with the sentinel date range.
func New() *Worklog {
	return &Worklog{
		begin: sentinelBegin,
		end:   sentinelEnd,
		tags:  make(map[string]struct{}),
	}
}

// AddRecord appends r, folding its dates and tags into the aggregates.
func (w *Worklog) AddRecord(r Record) {
	if r.Start.Before(w.begin) {
		w.begin = r.Start
	}
	if end := r.End(); end.After(w.end) {
		w.end = end
	}
	for _, t := range r.Tags {
		w.tags[t] = struct{}{}
	}
	w.records = append(w.records, r)
}

// Append adds every record of other, one at a time. No deduplication.
func (w *Worklog) Append(other *Worklog) {
	for _, r := range other.records {
		w.AddRecord(r)
	}
}

// WithTag returns a new worklog holding only the records carrying tag,
// with its own independently recomputed date range and tag set.
func (w *Worklog) WithTag(tag string) *Worklog {
	out := New()
	out.rate = w.rate
	for _, r := range w.records {
		if r.HasTag(tag) {
			out.AddRecord(r)
		}
	}
	return out
}

// Sort reorders records by start time ascending.
func (w *Worklog) Sort() {
	sort.SliceStable(w.records, func(i, j int) bool {
		return w.records[i].Start.Before(w.records[j].Start)
	})
}

// Records returns the stored records in their current order.
func (w *Worklog) Records() []Record { return w.records }

// Empty reports whether no records were added.
func (w *Worklog) Empty() bool { return len(w.records) == 0 }

// BeginDate returns the minimum start over all records.
func (w *Worklog) BeginDate() time.Time { return w.begin }

// EndDate returns the maximum end over all records.
func (w *Worklog) EndDate() time.Time { return w.end }

// SetRate sets the fallback rate applied to records without their own.
func (w *Worklog) SetRate(rate float64) { w.rate = rate }

// Rate returns the fallback rate.
func (w *Worklog) Rate() float64 { return w.rate }

// Tags returns the union of all tags seen, sorted.
func (w *Worklog) Tags() []string {
	out := make([]string, 0, len(w.tags))
	for t := range w.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Sum returns the total net amount over all records.
func (w *Worklog) Sum() float64 {
	var sum float64
	for _, r := range w.records {
		sum += r.Net(w.rate)
	}
	return sum
}

// SumWithTax returns Sum scaled by the given tax rate in percent.
func (w *Worklog) SumWithTax(taxRate float64) float64 {
	return w.Sum() * (1 + taxRate/100)
}

// FromCSV parses a worklog from CSV. Columns: Tags (comma-separated,
// optional), Start (MM/DD/YYYY HH:MM), Hours, Rate (optional), Message.
// Any malformed row fails the whole parse.
func FromCSV(r io.Reader) (*Worklog, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"start", "hours", "message"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("csv header missing column %q", required)
		}
	}

	w := New()
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", line, err)
		}

		rec, err := parseRow(cols, row)
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", line, err)
		}
		w.AddRecord(rec)
	}
	return w, nil
}

// FromCSVFile parses the worklog file at path.
func FromCSVFile(path string) (*Worklog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return FromCSV(f)
}

func parseRow(cols map[string]int, row []string) (Record, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	start, err := time.Parse(StartLayout, field("start"))
	if err != nil {
		return Record{}, fmt.Errorf("start: %w", err)
	}

	hours, err := strconv.ParseFloat(field("hours"), 64)
	if err != nil {
		return Record{}, fmt.Errorf("hours: %w", err)
	}

	var rate *float64
	if s := field("rate"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Record{}, fmt.Errorf("rate: %w", err)
		}
		rate = &v
	}

	return Record{
		Start:   start,
		Hours:   hours,
		Rate:    rate,
		Message: field("message"),
		Tags:    parseTags(field("tags")),
	}, nil
}

func parseTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
