package util

import (
	"path/filepath"
	"strings"

	"github.com/mattn/go-runewidth"
)

// SplitLines splits captured pane text into lines, dropping a single
// trailing newline and any carriage returns.
func SplitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// TrimTrailingBlank drops trailing lines that are empty or whitespace only.
func TrimTrailingBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[:end]
}

// NewLines isolates the lines added to a pane after the before state.
// It handles cases where the buffer has scrolled (before is not a simple
// prefix) by finding the longest suffix of before that is a prefix of after.
func NewLines(before, after []string) []string {
	if len(before) == 0 {
		return after
	}
	if len(after) == 0 {
		return nil
	}

	// Fast path: simple append
	if len(after) >= len(before) && equalLines(after[:len(before)], before) {
		return after[len(before):]
	}

	// The overlap cannot be longer than after, so only the tail of before
	// can start it. The earliest start gives the longest suffix.
	scanStart := len(before) - len(after)
	if scanStart < 0 {
		scanStart = 0
	}
	for i := scanStart; i < len(before); i++ {
		if before[i] != after[0] {
			continue
		}
		suffix := before[i:]
		if len(after) >= len(suffix) && equalLines(after[:len(suffix)], suffix) {
			return after[len(suffix):]
		}
	}

	// No overlap found - everything is new
	return after
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AbbreviateHome replaces a leading home directory with "~".
func AbbreviateHome(path, home string) string {
	if home == "" || home == "/" {
		return path
	}
	home = filepath.Clean(home)
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+"/") {
		return "~" + path[len(home):]
	}
	return path
}

// TruncateWidth shortens s to at most width terminal cells, marking the cut
// with "...". Wide runes (CJK, emoji) count as two cells.
func TruncateWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

// SanitizeKey turns an opaque handle such as a tmux pane id ("%12") into a
// fragment safe for environment variable names and channel names.
func SanitizeKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '%' || r == '@' || r == '$':
			// tmux id sigils carry no information
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
