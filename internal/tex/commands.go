package tex

import (
	"fmt"
	"io"
)

// Field is one entry in the ordered field list a data type exposes for
// templated output. Absent optional fields keep their slot but are not
// emitted.
type Field struct {
	Name    string
	Value   string
	Present bool
}

// String builds a present Field.
func String(name, value string) Field {
	return Field{Name: name, Value: value, Present: true}
}

// Optional builds a Field that is only emitted when value is non-empty.
func Optional(name, value string) Field {
	return Field{Name: name, Value: value, Present: value != ""}
}

// FieldSource is implemented by every entity that renders itself as a
// block of \newcommand definitions.
type FieldSource interface {
	TexFields() []Field
}

// WriteCommand writes a single \newcommand{\name}{value} line.
func WriteCommand(w io.Writer, name, value string) error {
	_, err := fmt.Fprintf(w, "\\newcommand{\\%s}{%s}\n", name, value)
	return err
}

// WriteCommands emits one \newcommand per present field of src, each
// command name prefixed with prefix (e.g. "my" + "iban" -> \myiban).
func WriteCommands(w io.Writer, prefix string, src FieldSource) error {
	for _, f := range src.TexFields() {
		if !f.Present {
			continue
		}
		if err := WriteCommand(w, prefix+f.Name, f.Value); err != nil {
			return err
		}
	}
	return nil
}
