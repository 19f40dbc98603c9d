package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("writes content and mode", func(t *testing.T) {
		path := filepath.Join(dir, "rc")
		if err := AtomicWriteFile(path, []byte("3 0\n"), 0600); err != nil {
			t.Fatalf("AtomicWriteFile failed: %v", err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading file: %v", err)
		}
		if string(got) != "3 0\n" {
			t.Errorf("content mismatch: got %q", got)
		}
		info, _ := os.Stat(path)
		if info.Mode().Perm() != 0600 {
			t.Errorf("expected 0600 permissions, got %o", info.Mode().Perm())
		}
	})

	t.Run("replaces existing file", func(t *testing.T) {
		path := filepath.Join(dir, "handle")
		_ = AtomicWriteFile(path, []byte("12"), 0644)
		if err := AtomicWriteFile(path, []byte("13"), 0644); err != nil {
			t.Fatalf("second write failed: %v", err)
		}
		got, _ := os.ReadFile(path)
		if string(got) != "13" {
			t.Errorf("content mismatch: got %q, want 13", got)
		}
	})

	t.Run("missing parent directory is an error", func(t *testing.T) {
		path := filepath.Join(dir, "nonexistent", "rc")
		if err := AtomicWriteFile(path, []byte("x"), 0644); err == nil {
			t.Fatal("expected error for nonexistent parent directory")
		}
	})

	entries, _ := os.ReadDir(dir)
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "panemirror-atomic-") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestAtomicWriteFileConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent")

	done := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			content := []byte(strings.Repeat(string(rune('A'+n)), 64))
			if err := AtomicWriteFile(path, content, 0644); err != nil {
				t.Errorf("concurrent write %d failed: %v", n, err)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if len(content) != 64 {
		t.Fatalf("unexpected content length: %d", len(content))
	}
	for i, b := range content {
		if b != content[0] {
			t.Fatalf("content corruption at byte %d", i)
		}
	}
}
