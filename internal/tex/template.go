package tex

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	includePrefix = "\\input{"
	markerPrefix  = "%$"
)

// TokenFunc renders the content injected after a %$NAME marker line.
type TokenFunc func(w io.Writer) error

// Template is a line-oriented preprocessor over a LaTeX template file.
//
// Two line forms are special:
//
//	\input{name}   spliced with the lines of <dir>/name.tex, the
//	               directive line itself is dropped; a missing include
//	               is logged and skipped
//	%$NAME         written verbatim, then the callback registered for
//	               NAME (if any) is invoked on the output
//
// Includes are single-level: spliced lines are copied verbatim and not
// scanned for further directives.
type Template struct {
	path   string
	dir    string
	tokens map[string]TokenFunc
	logger *slog.Logger
}

// NewTemplate creates a template for the file at path. Includes are
// resolved relative to the directory of path.
func NewTemplate(path string, logger *slog.Logger) *Template {
	if logger == nil {
		logger = slog.Default()
	}
	return &Template{
		path:   path,
		dir:    filepath.Dir(path),
		tokens: make(map[string]TokenFunc),
		logger: logger,
	}
}

// Token registers fn for marker lines of the form %$name. Returns the
// template so registrations chain.
func (t *Template) Token(name string, fn TokenFunc) *Template {
	t.tokens[name] = fn
	return t
}

// Render streams the template file to w, expanding includes and firing
// token callbacks. An unreadable template file is an error.
func (t *Template) Render(w io.Writer) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("open template %s: %w", t.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if name, ok := includeName(line); ok {
			t.splice(w, name)
			continue
		}

		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}

		if name, ok := markerName(line); ok {
			fn, registered := t.tokens[name]
			if !registered {
				continue
			}
			if err := fn(w); err != nil {
				return fmt.Errorf("token %s: %w", name, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read template %s: %w", t.path, err)
	}
	return nil
}

// splice copies the lines of the included file verbatim. Failure to
// open the include emits nothing.
func (t *Template) splice(w io.Writer, name string) {
	path := filepath.Join(t.dir, name+".tex")
	f, err := os.Open(path)
	if err != nil {
		t.logger.Warn("could not include template", "path", path, "error", err)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fmt.Fprintln(w, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.logger.Warn("error reading include", "path", path, "error", err)
	}
}

func includeName(line string) (string, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, includePrefix) || !strings.HasSuffix(s, "}") {
		return "", false
	}
	name := s[len(includePrefix) : len(s)-1]
	if name == "" {
		return "", false
	}
	return name, true
}

func markerName(line string) (string, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, markerPrefix) {
		return "", false
	}
	name := s[len(markerPrefix):]
	if name == "" || strings.ContainsAny(name, " \t") {
		return "", false
	}
	return name, true
}
