package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestTableAlignsWideRunes(t *testing.T) {
	var buf bytes.Buffer
	tb := NewTable(&buf, "NAME", "VALUE")
	tb.AddRow("界界", "x")
	tb.AddRow("ab", "y")
	tb.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	want := []string{
		"  NAME  VALUE",
		"  ----  -----",
		"  界界  x",
		"  ab    y",
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestTableIgnoresStyling(t *testing.T) {
	var buf bytes.Buffer
	tb := NewTable(&buf, "ACTION", "PATTERN")
	tb.AddRow("\x1b[31mblock\x1b[0m", "rm -rf")
	tb.AddRow("allow", "ls")
	tb.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if got, want := lines[2], "  \x1b[31mblock\x1b[0m   rm -rf"; got != want {
		t.Errorf("styled row = %q, want %q", got, want)
	}
	if got, want := lines[3], "  allow   ls"; got != want {
		t.Errorf("plain row = %q, want %q", got, want)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 0, ""},
		{"界界界界", 5, "界..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestCountStr(t *testing.T) {
	if got := CountStr(1, "rule", "rules"); got != "1 rule" {
		t.Errorf("got %q", got)
	}
	if got := CountStr(3, "rule", "rules"); got != "3 rules" {
		t.Errorf("got %q", got)
	}
}

func TestFormatterNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	f := New(&buf, false, false)
	if f.Width() != DefaultWidth {
		t.Errorf("Width = %d, want %d", f.Width(), DefaultWidth)
	}
	if got := f.Styles().OK.Render("fine"); got != "fine" {
		t.Errorf("non-terminal output is styled: %q", got)
	}
}

func TestFormatterJSON(t *testing.T) {
	var buf bytes.Buffer
	f := New(&buf, true, true)
	if !f.IsJSON() {
		t.Fatal("IsJSON = false")
	}
	if err := f.JSON(map[string]int{"exit": 2}); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "{\n  \"exit\": 2\n}\n" {
		t.Errorf("got %q", got)
	}
}

func TestWrapIndents(t *testing.T) {
	f := New(&bytes.Buffer{}, false, true)
	got := f.Wrap(strings.Repeat("word ", 30), 4)
	for _, l := range strings.Split(got, "\n") {
		if !strings.HasPrefix(l, "    ") {
			t.Errorf("line not indented: %q", l)
		}
		if len(l) > DefaultWidth+1 {
			t.Errorf("line too long (%d): %q", len(l), l)
		}
	}
}
