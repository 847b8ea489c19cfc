// Package config holds the biller-side configuration: contact and
// payment details, invoice settings, and the folder layout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/hourlog/invoicer/internal/locale"
	"github.com/hourlog/invoicer/internal/tex"
)

// Hardcoded fallbacks, the last step of the recipient -> global ->
// default resolution chain.
const (
	DefaultTemplate       = "invoice.tex"
	DefaultNumberFormat   = "%Y%m${COUNTER}"
	DefaultFilenameFormat = "${INVOICENUMBER}_${INVOICE}_${RECIPIENT}.tex"
	DefaultDaysForPayment = 14
	DefaultLocale         = "en"
	DefaultRate           = 100.0
)

// Contact is a postal/electronic contact block, used for both the
// biller and recipients.
type Contact struct {
	CompanyName string `toml:"companyname"`
	FullName    string `toml:"fullname"`
	Street      string `toml:"street"`
	Zipcode     int    `toml:"zipcode"`
	City        string `toml:"city"`
	Country     string `toml:"country"`
	Phone       string `toml:"phone"`
	Fax         string `toml:"fax"`
	Email       string `toml:"email"`
	Website     string `toml:"website"`
}

// TexFields lists the contact fields in their fixed emission order.
func (c Contact) TexFields() []tex.Field {
	return []tex.Field{
		tex.Optional("companyname", c.CompanyName),
		tex.String("fullname", c.FullName),
		tex.String("street", c.Street),
		tex.String("zipcode", strconv.Itoa(c.Zipcode)),
		tex.String("city", c.City),
		tex.Optional("country", c.Country),
		tex.Optional("phone", c.Phone),
		tex.Optional("fax", c.Fax),
		tex.String("email", c.Email),
		tex.Optional("website", c.Website),
	}
}

// Validate checks the required contact fields.
func (c Contact) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.FullName, validation.Required),
		validation.Field(&c.Street, validation.Required),
		validation.Field(&c.City, validation.Required),
		validation.Field(&c.Email, validation.Required, is.Email),
	)
}

// Payment holds bank account and tax details of the biller.
type Payment struct {
	AccountHolder string   `toml:"accountholder"`
	IBAN          string   `toml:"iban"`
	BIC           string   `toml:"bic"`
	TaxID         string   `toml:"taxid"`
	CurrencyCode  string   `toml:"currency"`
	TaxRate       float64  `toml:"tax_rate"`
	DefaultRate   *float64 `toml:"default_rate"`
}

// Currency returns the configured currency, EUR when unset.
func (p Payment) Currency() locale.Currency {
	if p.CurrencyCode == "" {
		return "EUR"
	}
	return locale.Currency(p.CurrencyCode)
}

// TexFields lists the payment fields in their fixed emission order.
func (p Payment) TexFields() []tex.Field {
	return []tex.Field{
		tex.Optional("accountholder", p.AccountHolder),
		tex.String("iban", p.IBAN),
		tex.String("bic", p.BIC),
		tex.String("taxid", p.TaxID),
		tex.String("currency", string(p.Currency())),
	}
}

// Validate checks the required payment fields.
func (p Payment) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.IBAN, validation.Required),
		validation.Field(&p.BIC, validation.Required),
		validation.Field(&p.TaxID, validation.Required),
		validation.Field(&p.TaxRate, validation.Min(0.0), validation.Max(100.0)),
	)
}

// Settings are the per-recipient-or-global invoice settings. All fields
// are optional; absent values fall through the resolution chain.
type Settings struct {
	Locale            string `toml:"locale"`
	Template          string `toml:"template"`
	NumberFormat      string `toml:"number_format"`
	FilenameFormat    string `toml:"filename_format"`
	DaysForPayment    *int   `toml:"days_for_payment"`
	CalculateVAT      *bool  `toml:"calculate_value_added_tax"`
	TimesheetTemplate string `toml:"timesheet_template"`
}

// Folders is the directory layout the invoicer works against.
type Folders struct {
	Templates  string `toml:"templates"`
	Locales    string `toml:"locales"`
	Recipients string `toml:"recipients"`
	Invoices   string `toml:"invoices"`
}

// Config is the root biller configuration.
type Config struct {
	Folders Folders  `toml:"folders"`
	Contact Contact  `toml:"contact"`
	Payment Payment  `toml:"payment"`
	Invoice Settings `toml:"invoice"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Contact.Validate(); err != nil {
		return fmt.Errorf("contact: %w", err)
	}
	if err := c.Payment.Validate(); err != nil {
		return fmt.Errorf("payment: %w", err)
	}
	return nil
}

// DefaultConfig returns a config skeleton with the default folder
// layout relative to the working directory.
func DefaultConfig() *Config {
	return &Config{
		Folders: Folders{
			Templates:  "templates",
			Locales:    "locales",
			Recipients: "recipients",
			Invoices:   ".",
		},
	}
}

// Load reads and validates the biller configuration at path.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.Folders.Templates = expandPath(cfg.Folders.Templates)
	cfg.Folders.Locales = expandPath(cfg.Folders.Locales)
	cfg.Folders.Recipients = expandPath(cfg.Folders.Recipients)
	cfg.Folders.Invoices = expandPath(cfg.Folders.Invoices)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as TOML to path.
func Save(cfg *Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// InvoicerDir returns the per-user state directory.
func InvoicerDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".invoicer"), nil
}

// ConfigPath returns the default biller config location.
func ConfigPath() (string, error) {
	dir, err := InvoicerDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// LedgerPath returns the location of the issued-invoice ledger.
func LedgerPath() (string, error) {
	dir, err := InvoicerDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "db", "invoicer.sqlite"), nil
}

// EnsureDirectories creates the state directory tree.
func EnsureDirectories() error {
	dir, err := InvoicerDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(dir, "db"), 0755)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
