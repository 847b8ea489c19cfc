package invoice

import (
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hourlog/invoicer/internal/config"
	"github.com/hourlog/invoicer/internal/locale"
	"github.com/hourlog/invoicer/internal/worklog"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Contact = config.Contact{FullName: "Jane Doe", Street: "Main St 1", Zipcode: 1, City: "Berlin", Email: "jane@example.com"}
	cfg.Payment = config.Payment{IBAN: "DE02120300000000202051", BIC: "BYLADEM1001", TaxID: "12/345/67890", TaxRate: 19}
	return cfg
}

func newTestInvoice(date time.Time, cfg *config.Config, rec *Recipient) *Invoice {
	return New(date, cfg, rec, ResolveSettings(rec.Invoice, cfg.Invoice), locale.Default(), discard())
}

func record(t *testing.T, start string, hours float64, msg string, tags ...string) worklog.Record {
	t.Helper()
	ts, err := time.Parse(worklog.StartLayout, start)
	if err != nil {
		t.Fatal(err)
	}
	return worklog.Record{Start: ts, Hours: hours, Message: msg, Tags: tags}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMergeWeightedAverage(t *testing.T) {
	a := Position{Text: "Dev", Amount: 2, Price: 100, Unit: "h"}
	b := Position{Text: "Dev", Amount: 3, Price: 50, Unit: "h"}

	m, err := Merge(a, b)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if m.Amount != 5 {
		t.Errorf("amount = %v, want 5", m.Amount)
	}
	// (2*100 + 3*50) / 5 = 70
	if !almostEqual(m.Price, 70) {
		t.Errorf("price = %v, want 70", m.Price)
	}
	if !almostEqual(m.Net(), 350) {
		t.Errorf("net = %v, want 350", m.Net())
	}
}

func TestMergeMismatchFails(t *testing.T) {
	a := Position{Text: "Dev", Amount: 2, Price: 100, Unit: "h"}
	if _, err := Merge(a, Position{Text: "Other", Amount: 1, Price: 100, Unit: "h"}); err == nil {
		t.Error("expected error for differing text")
	}
	if _, err := Merge(a, Position{Text: "Dev", Amount: 1, Price: 100, Unit: "d"}); err == nil {
		t.Error("expected error for differing unit")
	}
}

func TestParseTagRoundTrip(t *testing.T) {
	tests := []struct {
		value   string
		def     bool
		text    string
	}{
		{"[default] Consulting", true, "Consulting"},
		{"Support", false, "Support"},
		{"  [default]Maintenance ", true, "Maintenance"},
	}
	for _, tt := range tests {
		tag := parseTag("x", tt.value)
		if tag.Default != tt.def || tag.Text != tt.text {
			t.Errorf("parseTag(%q) = %+v, want default=%v text=%q", tt.value, tag, tt.def, tt.text)
		}
	}
}

func TestLoadRecipient(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acme.toml")
	content := `default_rate = 90.0

[contact]
fullname = "Acme Corp"
street = "Industrial Way 5"
zipcode = 99999
city = "Springfield"
email = "billing@acme.example"

[invoice]
days_for_payment = 30

[tags]
dev = "Development"
ops = "[default] Operations"
support = "Support"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadRecipient(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.Name != "acme" {
		t.Errorf("name = %q, want acme (from file stem)", r.Name)
	}
	if r.DefaultRate == nil || *r.DefaultRate != 90 {
		t.Errorf("default_rate = %v", r.DefaultRate)
	}
	if len(r.Tags) != 3 {
		t.Fatalf("len(tags) = %d, want 3", len(r.Tags))
	}
	// Declaration order preserved.
	if r.Tags[0].Name != "dev" || r.Tags[1].Name != "ops" || r.Tags[2].Name != "support" {
		t.Errorf("tag order = %v", r.Tags)
	}

	def, ok := r.DefaultTag()
	if !ok || def.Name != "ops" || def.Text != "Operations" {
		t.Errorf("default tag = %+v, %v", def, ok)
	}

	tag, ok := r.MatchTag([]string{"nope", "support"})
	if !ok || tag.Text != "Support" {
		t.Errorf("match = %+v, %v", tag, ok)
	}
}

func TestLoadRecipient_MultipleDefaultsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	content := `[tags]
a = "[default] One"
b = "[default] Two"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRecipient(path); err == nil {
		t.Fatal("expected error for two default tags")
	}
}

func TestAddWorklog_TagRemapAndMerge(t *testing.T) {
	// Two records tagged dev, hours 2 and 3, no explicit rates,
	// default rate 100, same message. Expect one merged position with
	// the remapped text.
	rate := 100.0
	rec := &Recipient{
		Name:        "acme",
		DefaultRate: &rate,
		Tags:        []Tag{{Name: "dev", Text: "Development"}},
	}

	wl := worklog.New()
	wl.AddRecord(record(t, "03/04/2024 09:00", 2, "Coding", "dev"))
	wl.AddRecord(record(t, "03/05/2024 09:00", 3, "Coding", "dev"))

	inv := newTestInvoice(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), testConfig(), rec)
	if err := inv.AddWorklog(wl); err != nil {
		t.Fatalf("add worklog: %v", err)
	}

	positions := inv.Positions()
	if len(positions) != 1 {
		t.Fatalf("len(positions) = %d, want 1", len(positions))
	}
	p := positions[0]
	if p.Text != "Development" || p.Amount != 5 || !almostEqual(p.Price, 100) {
		t.Errorf("position = %+v", p)
	}
	if !almostEqual(p.Net(), 500) {
		t.Errorf("net = %v, want 500", p.Net())
	}
}

func TestAddWorklog_KeyResolutionOrder(t *testing.T) {
	rec := &Recipient{
		Name: "acme",
		Tags: []Tag{
			{Name: "dev", Text: "Development"},
			{Name: "misc", Default: true, Text: "Miscellaneous"},
		},
	}

	wl := worklog.New()
	wl.AddRecord(record(t, "03/04/2024 09:00", 1, "Coding", "dev"))   // tag match
	wl.AddRecord(record(t, "03/05/2024 09:00", 1, "Errand", "other")) // default tag
	wl.AddRecord(record(t, "03/06/2024 09:00", 1, "Lunch talk"))      // default tag again

	inv := newTestInvoice(time.Now(), testConfig(), rec)
	if err := inv.AddWorklog(wl); err != nil {
		t.Fatal(err)
	}

	// dev and misc keys, sorted lexicographically: dev < misc.
	positions := inv.Positions()
	if len(positions) != 2 {
		t.Fatalf("len = %d, want 2 (%+v)", len(positions), positions)
	}
	if positions[0].Text != "Development" || positions[1].Text != "Miscellaneous" {
		t.Errorf("positions = %+v", positions)
	}
	if positions[1].Amount != 2 {
		t.Errorf("default-tag amount = %v, want 2", positions[1].Amount)
	}
}

func TestAddWorklog_MessageKeyWithoutTags(t *testing.T) {
	rec := &Recipient{Name: "acme"}

	wl := worklog.New()
	wl.AddRecord(record(t, "03/04/2024 09:00", 1, "Review"))
	wl.AddRecord(record(t, "03/05/2024 09:00", 2, "Review"))
	wl.AddRecord(record(t, "03/06/2024 09:00", 1, "Coding"))

	inv := newTestInvoice(time.Now(), testConfig(), rec)
	if err := inv.AddWorklog(wl); err != nil {
		t.Fatal(err)
	}

	positions := inv.Positions()
	if len(positions) != 2 {
		t.Fatalf("len = %d, want 2", len(positions))
	}
	// Lexicographic: Coding before Review.
	if positions[0].Text != "Coding" || positions[1].Text != "Review" {
		t.Errorf("positions = %+v", positions)
	}
}

func TestNumberAndFilename(t *testing.T) {
	rec := &Recipient{Name: "Acme"}
	inv := newTestInvoice(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), testConfig(), rec)
	inv.SetCounter(7)

	if got := inv.Number(); got != "20240307" {
		t.Errorf("number = %q, want 20240307", got)
	}
	if got := inv.Filename(); got != "20240307_invoice_Acme.tex" {
		t.Errorf("filename = %q", got)
	}
}

func TestSums(t *testing.T) {
	rec := &Recipient{Name: "acme"}
	inv := newTestInvoice(time.Now(), testConfig(), rec)

	wl := worklog.New()
	wl.AddRecord(record(t, "03/04/2024 09:00", 2, "Coding"))
	if err := inv.AddWorklog(wl); err != nil {
		t.Fatal(err)
	}

	// 2h at the hardcoded default rate 100.
	if !almostEqual(inv.Sum(), 200) {
		t.Errorf("sum = %v, want 200", inv.Sum())
	}
	if !almostEqual(inv.SumWithTax(), 238) {
		t.Errorf("sum with tax = %v, want 238", inv.SumWithTax())
	}
	if !almostEqual(inv.Tax(), 38) {
		t.Errorf("tax = %v, want 38", inv.Tax())
	}
}

func TestRateResolutionChain(t *testing.T) {
	cfg := testConfig()
	rec := &Recipient{Name: "acme"}
	inv := newTestInvoice(time.Now(), cfg, rec)
	if got := inv.DefaultRate(); got != config.DefaultRate {
		t.Errorf("rate = %v, want hardcoded fallback", got)
	}

	global := 80.0
	cfg.Payment.DefaultRate = &global
	inv = newTestInvoice(time.Now(), cfg, rec)
	if got := inv.DefaultRate(); got != 80 {
		t.Errorf("rate = %v, want global 80", got)
	}

	own := 120.0
	rec.DefaultRate = &own
	inv = newTestInvoice(time.Now(), cfg, rec)
	if got := inv.DefaultRate(); got != 120 {
		t.Errorf("rate = %v, want recipient 120", got)
	}
}

func TestResolveSettingsPrecedence(t *testing.T) {
	days := 30
	vat := false
	global := config.Settings{Template: "global.tex", Locale: "de", DaysForPayment: &days}
	recipient := config.Settings{Template: "special.tex", CalculateVAT: &vat}

	s := ResolveSettings(recipient, global)
	if s.Template != "special.tex" {
		t.Errorf("template = %q", s.Template)
	}
	if s.Locale != "de" {
		t.Errorf("locale = %q", s.Locale)
	}
	if s.DaysForPayment != 30 {
		t.Errorf("days = %d", s.DaysForPayment)
	}
	if s.CalculateVAT {
		t.Error("vat should be overridden off")
	}
	if s.NumberFormat != config.DefaultNumberFormat {
		t.Errorf("number format = %q", s.NumberFormat)
	}
}

func TestGenerateTex(t *testing.T) {
	dir := t.TempDir()
	template := `\documentclass{article}
%$LANGUAGE
%$BILLER_ADDRESS
%$RECIPIENT_ADDRESS
%$PAYMENT_DETAILS
%$INVOICE_DETAILS
\begin{document}
%$INVOICE_POSITIONS
%$INVOICE_SUM
%$INVOICE_VALUE_TAX_NOTE
\end{document}
`
	if err := os.WriteFile(filepath.Join(dir, "invoice.tex"), []byte(template), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Folders.Templates = dir
	rec := &Recipient{
		Name:    "acme",
		Contact: config.Contact{FullName: "Acme Corp", Street: "Way 5", Zipcode: 9, City: "Springfield", Email: "a@b.co"},
	}

	inv := newTestInvoice(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), cfg, rec)
	inv.SetCounter(2)

	wl := worklog.New()
	wl.AddRecord(record(t, "03/04/2024 09:00", 2, "Coding"))
	if err := inv.AddWorklog(wl); err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	if err := inv.GenerateTex(&out); err != nil {
		t.Fatalf("render: %v", err)
	}
	got := out.String()

	for _, want := range []string{
		"\\newcommand{\\myfullname}{Jane Doe}",
		"\\newcommand{\\recipientname}{acme}",
		"\\newcommand{\\recipientfullname}{Acme Corp}",
		"\\newcommand{\\myiban}{DE02120300000000202051}",
		"\\newcommand{\\invoicenumber}{20240302}",
		"\\position{Coding}{2.00h}{100€/h}{200.00€}",
		"\\invoicesum{200.00€}{19}{38.00€}{238.00€}",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n%s", want, got)
		}
	}
	if strings.Contains(got, "\n\\trinvoicevaluetaxnote\n") {
		t.Error("tax note emitted although VAT is enabled")
	}
}

func TestGenerateTex_NoVAT(t *testing.T) {
	dir := t.TempDir()
	template := "%$INVOICE_SUM\n%$INVOICE_VALUE_TAX_NOTE\n"
	if err := os.WriteFile(filepath.Join(dir, "invoice.tex"), []byte(template), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Folders.Templates = dir
	vat := false
	cfg.Invoice.CalculateVAT = &vat

	inv := newTestInvoice(time.Now(), cfg, &Recipient{Name: "acme"})
	wl := worklog.New()
	wl.AddRecord(record(t, "03/04/2024 09:00", 1, "Coding"))
	if err := inv.AddWorklog(wl); err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	if err := inv.GenerateTex(&out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "\\invoicesumnotax{100.00€}") {
		t.Errorf("missing invoicesumnotax: %s", out.String())
	}
	if !strings.Contains(out.String(), "\\trinvoicevaluetaxnote") {
		t.Errorf("missing tax note: %s", out.String())
	}
}

func TestTimesheetGenerated(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "invoice.tex"), []byte("%$TIMESHEET\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "timesheet.tex"), []byte("\\begin{tabular}{lll}\n%$WORKLOG\n\\end{tabular}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Folders.Templates = dir
	cfg.Invoice.TimesheetTemplate = "timesheet.tex"

	inv := newTestInvoice(time.Now(), cfg, &Recipient{Name: "acme"})
	wl := worklog.New()
	wl.AddRecord(record(t, "03/05/2024 10:00", 1, "Later"))
	wl.AddRecord(record(t, "03/04/2024 09:00", 2, "Earlier"))
	if err := inv.AddWorklog(wl); err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	if err := inv.GenerateTex(&out); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "\\newpage") {
		t.Error("missing newpage before timesheet")
	}
	// Entries sorted by start time.
	earlier := strings.Index(got, "Earlier")
	later := strings.Index(got, "Later")
	if earlier < 0 || later < 0 || earlier > later {
		t.Errorf("timesheet rows missing or unsorted:\n%s", got)
	}
}

func TestEmptyWorklogYieldsNoPositions(t *testing.T) {
	inv := newTestInvoice(time.Now(), testConfig(), &Recipient{Name: "acme"})
	if err := inv.AddWorklog(worklog.New()); err != nil {
		t.Fatal(err)
	}
	if len(inv.Positions()) != 0 {
		t.Errorf("positions = %v, want none", inv.Positions())
	}
}

func TestCanonicalStableAcrossInputOrder(t *testing.T) {
	build := func(order []worklog.Record) string {
		inv := newTestInvoice(time.Now(), testConfig(), &Recipient{Name: "acme"})
		wl := worklog.New()
		for _, r := range order {
			wl.AddRecord(r)
		}
		if err := inv.AddWorklog(wl); err != nil {
			t.Fatal(err)
		}
		return inv.Canonical()
	}

	a := record(t, "03/04/2024 09:00", 2, "Coding")
	b := record(t, "03/05/2024 09:00", 1, "Review")

	if build([]worklog.Record{a, b}) != build([]worklog.Record{b, a}) {
		t.Error("canonical form depends on input order")
	}
}
