package output

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles are the lipgloss styles used by human output.
type Styles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	OK      lipgloss.Style
	Warn    lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Box     lipgloss.Style
}

// NoColorEnv reports whether NO_COLOR or PANEMIRROR_NO_COLOR is set.
func NoColorEnv() bool {
	return os.Getenv("NO_COLOR") != "" || os.Getenv("PANEMIRROR_NO_COLOR") != ""
}

// NewStyles builds styles bound to w. With noColor, or when the
// environment asks for it, every style renders plain text.
func NewStyles(w io.Writer, noColor bool) Styles {
	r := lipgloss.NewRenderer(w)
	if noColor || NoColorEnv() {
		r.SetColorProfile(termenv.Ascii)
	}
	return Styles{
		Title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("99")),
		Section: r.NewStyle().Bold(true).Foreground(lipgloss.Color("75")),
		OK:      r.NewStyle().Foreground(lipgloss.Color("42")),  // green
		Warn:    r.NewStyle().Foreground(lipgloss.Color("214")), // orange
		Error:   r.NewStyle().Foreground(lipgloss.Color("196")), // red
		Muted:   r.NewStyle().Foreground(lipgloss.Color("240")),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
	}
}

// Mark returns a coloured status glyph for ok, warning or error.
func (s Styles) Mark(status string) string {
	switch status {
	case StatusOK:
		return s.OK.Render("✓")
	case StatusWarn:
		return s.Warn.Render("!")
	default:
		return s.Error.Render("✗")
	}
}

// Check statuses.
const (
	StatusOK   = "ok"
	StatusWarn = "warning"
	StatusErr  = "error"
)
