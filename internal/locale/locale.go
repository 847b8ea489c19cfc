package locale

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hourlog/invoicer/internal/tex"
)

// Currency is an ISO 4217 code.
type Currency string

var currencySymbols = map[Currency]string{
	"EUR": "€",
	"USD": "$",
	"GBP": "£",
	"CHF": "CHF",
}

// Symbol returns the display symbol for the currency, falling back to €
// for unknown codes.
func (c Currency) Symbol() string {
	if s, ok := currencySymbols[c]; ok {
		return s
	}
	return "€"
}

// Locale holds the display rules and translations for one language.
// It is loaded once at startup and passed by reference into every
// formatting call; there is no ambient locale state.
type Locale struct {
	Currency     Currency          `toml:"currency"`
	DecimalSep   string            `toml:"decimalseparator"`
	ThousandSep  string            `toml:"thousandseparator"`
	AmountFormat string            `toml:"amountformat"`
	DateFormat   string            `toml:"dateformat"`
	Translations map[string]string `toml:"translations"`
}

// Default is the built-in English locale used when no locale file is
// configured or a translation key is missing.
func Default() Locale {
	return Locale{
		Currency:     "EUR",
		DecimalSep:   ".",
		ThousandSep:  ",",
		AmountFormat: "#!",
		DateFormat:   "01/02/2006",
		Translations: map[string]string{
			"invoice":             "invoice",
			"invoicevaluetaxnote": "The invoice value is exempt from value-added tax.",
		},
	}
}

// Load reads a locale TOML file. Fields left empty in the file keep the
// default locale's value so partial locale files stay usable.
func Load(path string) (Locale, error) {
	l := Default()
	if _, err := toml.DecodeFile(path, &l); err != nil {
		return Locale{}, fmt.Errorf("load locale %s: %w", path, err)
	}
	if l.AmountFormat == "" {
		l.AmountFormat = Default().AmountFormat
	}
	if l.DateFormat == "" {
		l.DateFormat = Default().DateFormat
	}
	return l, nil
}

// Tr returns the translation for key, or key itself when unknown.
func (l Locale) Tr(key string) string {
	if t, ok := l.Translations[key]; ok {
		return t
	}
	return key
}

// FormatNumber renders v with the locale's separators and the given
// number of decimals.
func (l Locale) FormatNumber(v float64, decimals int) string {
	s := fmt.Sprintf("%.*f", decimals, math.Abs(v))
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}

	var b strings.Builder
	if v < 0 {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(l.ThousandSep)
		}
		b.WriteRune(r)
	}
	if fracPart != "" {
		b.WriteString(l.DecimalSep)
		b.WriteString(fracPart)
	}
	return b.String()
}

// FormatAmount renders a monetary value using the locale's amount
// pattern, where # is the number and ! the currency symbol.
func (l Locale) FormatAmount(v float64) string {
	s := strings.ReplaceAll(l.AmountFormat, "#", l.FormatNumber(v, 2))
	return strings.ReplaceAll(s, "!", l.Currency.Symbol())
}

// FormatDate renders d with the locale's date format.
func (l Locale) FormatDate(d time.Time) string {
	return d.Format(l.DateFormat)
}

// GenerateTex emits every translation as a \tr<name> command, in sorted
// key order so output is deterministic.
func (l Locale) GenerateTex(w io.Writer) error {
	keys := make([]string, 0, len(l.Translations))
	for k := range l.Translations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := tex.WriteCommand(w, "tr"+k, l.Translations[k]); err != nil {
			return err
		}
	}
	return nil
}
