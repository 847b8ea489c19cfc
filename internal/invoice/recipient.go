package invoice

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/hourlog/invoicer/internal/config"
	"github.com/hourlog/invoicer/internal/tex"
)

// defaultMarker flags the default tag in a recipient's tags table. The
// marker is stripped from the stored label.
const defaultMarker = "[default]"

// Tag maps a worklog tag to the position text it is billed under.
type Tag struct {
	Name    string
	Default bool
	Text    string
}

// Recipient is one billing target. The name is derived from the source
// file's base name, not stored in the file. Tags keep their TOML
// declaration order so "first default" is well defined.
type Recipient struct {
	Name        string
	Contact     config.Contact
	Invoice     config.Settings
	DefaultRate *float64
	Tags        []Tag
}

type recipientFile struct {
	Contact     config.Contact    `toml:"contact"`
	Invoice     config.Settings   `toml:"invoice"`
	DefaultRate *float64          `toml:"default_rate"`
	Tags        map[string]string `toml:"tags"`
}

// LoadRecipient reads a recipient definition from a TOML file. A
// configuration with more than one default tag is rejected.
func LoadRecipient(path string) (*Recipient, error) {
	var raw recipientFile
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load recipient %s: %w", path, err)
	}

	r := &Recipient{
		Name:        nameFromFile(path),
		Contact:     raw.Contact,
		Invoice:     raw.Invoice,
		DefaultRate: raw.DefaultRate,
		Tags:        tagsInOrder(md, raw.Tags),
	}

	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("recipient %s: %w", path, err)
	}
	return r, nil
}

// tagsInOrder rebuilds the tags table in declaration order using the
// decoder metadata, since Go maps drop it.
func tagsInOrder(md toml.MetaData, tags map[string]string) []Tag {
	var out []Tag
	for _, key := range md.Keys() {
		if len(key) != 2 || key[0] != "tags" {
			continue
		}
		value, ok := tags[key[1]]
		if !ok {
			continue
		}
		out = append(out, parseTag(key[1], value))
	}
	return out
}

// parseTag interprets a tags-table value, e.g. "[default] Consulting"
// becomes {Default: true, Text: "Consulting"}.
func parseTag(name, value string) Tag {
	t := Tag{Name: name, Text: strings.TrimSpace(value)}
	if strings.HasPrefix(t.Text, defaultMarker) {
		t.Default = true
		t.Text = strings.TrimSpace(strings.TrimPrefix(t.Text, defaultMarker))
	}
	return t
}

func (r *Recipient) validate() error {
	if err := validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required),
	); err != nil {
		return err
	}

	defaults := 0
	for _, t := range r.Tags {
		if t.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("%d tags marked %s, at most one allowed", defaults, defaultMarker)
	}
	return nil
}

// DefaultTag returns the first tag flagged as default, in declaration
// order.
func (r *Recipient) DefaultTag() (Tag, bool) {
	for _, t := range r.Tags {
		if t.Default {
			return t, true
		}
	}
	return Tag{}, false
}

// MatchTag returns the first of the given record tags that is present
// in the recipient's tag map.
func (r *Recipient) MatchTag(recordTags []string) (Tag, bool) {
	for _, rt := range recordTags {
		for _, t := range r.Tags {
			if t.Name == rt {
				return t, true
			}
		}
	}
	return Tag{}, false
}

// GenerateTexCommands emits the recipient name and contact block as
// prefixed \newcommand definitions.
func (r *Recipient) GenerateTexCommands(w io.Writer, prefix string) error {
	if err := tex.WriteCommand(w, prefix+"name", r.Name); err != nil {
		return err
	}
	return tex.WriteCommands(w, prefix, r.Contact)
}

func nameFromFile(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
