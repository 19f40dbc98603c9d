package terminal

import (
	"errors"
	"testing"
)

func TestParseRC(t *testing.T) {
	tests := []struct {
		in       string
		seq, rc  int
		wantErr  bool
	}{
		{"", 0, 0, false},
		{"  \n", 0, 0, false},
		{"1 0", 1, 0, false},
		{"42 127\n", 42, 127, false},
		{"3", 0, 0, true},
		{"a 1", 0, 0, true},
		{"1 b", 0, 0, true},
		{"1 2 3", 0, 0, true},
	}
	for _, tt := range tests {
		seq, rc, err := ParseRC(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRC(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if seq != tt.seq || rc != tt.rc {
			t.Errorf("ParseRC(%q) = (%d, %d), want (%d, %d)", tt.in, seq, rc, tt.seq, tt.rc)
		}
	}
}

func TestFormatRCRoundTrip(t *testing.T) {
	seq, rc, err := ParseRC(FormatRC(7, 2))
	if err != nil || seq != 7 || rc != 2 {
		t.Fatalf("round trip = (%d, %d, %v)", seq, rc, err)
	}
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"/tmp/work":     `'/tmp/work'`,
		"it's":          `'it'\''s'`,
		"":              `''`,
		"a b $HOME \\n": `'a b $HOME \n'`,
	}
	for in, want := range tests {
		if got := ShellQuote(in); got != want {
			t.Errorf("ShellQuote(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestUnavailableErrorMatchesSentinel(t *testing.T) {
	err := error(&UnavailableError{Backend: "tmux", Reason: "not inside tmux", Hint: "start tmux first"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatal("UnavailableError should match ErrUnavailable")
	}
	if got := err.Error(); got != "tmux: not inside tmux (start tmux first)" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	ctx := t.Context()
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("empty store should miss")
	}
	_ = s.Set(ctx, "k", "v")
	if v, ok, _ := s.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	_ = s.Delete(ctx, "k")
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("deleted key should miss")
	}
}
