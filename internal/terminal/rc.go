package terminal

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatRC renders a hook record the way the shell hook writes it.
func FormatRC(seq, exitCode int) string {
	return fmt.Sprintf("%d %d", seq, exitCode)
}

// ParseRC parses a "<seq> <exit>" record. An empty record means the hook has
// not fired yet and parses as (0, 0).
func ParseRC(s string) (seq int, exitCode int, err error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, 0, nil
	}
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("malformed hook record %q", s)
	}
	seq, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed hook sequence %q: %w", fields[0], err)
	}
	exitCode, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed hook exit code %q: %w", fields[1], err)
	}
	return seq, exitCode, nil
}

// ShellQuote single-quotes s for POSIX shells.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
