// Package output renders command results as styled text or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"
)

// DefaultWidth is used when the writer is not a terminal.
const DefaultWidth = 80

// Formatter writes either human text or JSON to one writer.
type Formatter struct {
	writer io.Writer
	json   bool
	styles Styles
	width  int
}

// New creates a formatter. Colour and width are taken from w when it is a
// terminal.
func New(w io.Writer, jsonOutput, noColor bool) *Formatter {
	tty := IsTerminal(w)
	return &Formatter{
		writer: w,
		json:   jsonOutput,
		styles: NewStyles(w, noColor || !tty),
		width:  Width(w),
	}
}

// IsJSON reports whether JSON output was requested.
func (f *Formatter) IsJSON() bool { return f.json }

// Writer returns the underlying writer.
func (f *Formatter) Writer() io.Writer { return f.writer }

// Styles returns the formatter's styles.
func (f *Formatter) Styles() Styles { return f.styles }

// Width returns the usable line width.
func (f *Formatter) Width() int { return f.width }

// JSON writes v as indented JSON.
func (f *Formatter) JSON(v any) error {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Textln outputs plain text with a newline to the formatter's writer
func (f *Formatter) Textln(format string, args ...any) {
	fmt.Fprintf(f.writer, format+"\n", args...)
}

// Line outputs a blank line
func (f *Formatter) Line() {
	fmt.Fprintln(f.writer)
}

// Println writes text with newline to the formatter's writer
func (f *Formatter) Println(v ...any) {
	fmt.Fprintln(f.writer, v...)
}

// Wrap word-wraps s to the formatter width minus indent, then indents
// every line.
func (f *Formatter) Wrap(s string, indent int) string {
	width := f.width - indent
	if width < 20 {
		width = 20
	}
	pad := strings.Repeat(" ", indent)
	lines := strings.Split(wordwrap.String(s, width), "\n")
	for i, l := range lines {
		lines[i] = pad + l
	}
	return strings.Join(lines, "\n")
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w any) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Width returns the column count of w, or DefaultWidth.
func Width(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return DefaultWidth
	}
	cols, _, err := term.GetSize(int(f.Fd()))
	if err != nil || cols <= 0 {
		return DefaultWidth
	}
	return cols
}

// Table outputs tabular data in text format. Cells may carry styling;
// widths are measured without escape sequences.
type Table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable creates a new table with headers
func NewTable(w io.Writer, headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = ansi.StringWidth(h)
	}
	return &Table{
		writer:  w,
		headers: headers,
		widths:  widths,
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cols ...string) {
	for i, c := range cols {
		if w := ansi.StringWidth(c); i < len(t.widths) && w > t.widths[i] {
			t.widths[i] = w
		}
	}
	t.rows = append(t.rows, cols)
}

// Render outputs the table
func (t *Table) Render() {
	t.row(t.headers)
	seps := make([]string, len(t.widths))
	for i, w := range t.widths {
		seps[i] = strings.Repeat("-", w)
	}
	t.row(seps)
	for _, r := range t.rows {
		t.row(r)
	}
}

func (t *Table) row(cols []string) {
	var b strings.Builder
	for i, w := range t.widths {
		var c string
		if i < len(cols) {
			c = cols[i]
		}
		b.WriteString("  ")
		if i == len(t.widths)-1 {
			b.WriteString(c)
			continue
		}
		b.WriteString(c)
		if pad := w - ansi.StringWidth(c); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
	}
	fmt.Fprintln(t.writer, b.String())
}

// Truncate shortens s to at most maxWidth cells, adding "..." if needed.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// Pluralize returns singular or plural form based on count
func Pluralize(count int, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}

// CountStr returns "N item(s)" string
func CountStr(count int, singular, plural string) string {
	return fmt.Sprintf("%d %s", count, Pluralize(count, singular, plural))
}
