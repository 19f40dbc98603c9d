package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Holder shares the current policy between the watcher and readers.
type Holder struct {
	p atomic.Pointer[Policy]
}

// NewHolder returns a holder seeded with p (DefaultPolicy when nil).
func NewHolder(p *Policy) *Holder {
	h := &Holder{}
	h.Set(p)
	return h
}

// Get returns the current policy.
func (h *Holder) Get() *Policy { return h.p.Load() }

// Set replaces the current policy.
func (h *Holder) Set(p *Policy) {
	if p == nil {
		p = DefaultPolicy()
	}
	h.p.Store(p)
}

// Check evaluates command against the current policy.
func (h *Holder) Check(command string) *Match { return h.Get().Check(command) }

const reloadDebounce = 200 * time.Millisecond

// Watch reloads path into h whenever the file changes, until ctx ends. The
// parent directory is watched so editors that replace the file by rename
// are seen. A file that fails to parse keeps the previous policy.
func Watch(ctx context.Context, path string, h *Holder, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy watch: %w", err)
	}
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("policy watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		var debounce *time.Timer
		var debounceC <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				if debounce == nil {
					debounce = time.NewTimer(reloadDebounce)
				} else {
					debounce.Reset(reloadDebounce)
				}
				debounceC = debounce.C
			case <-debounceC:
				debounceC = nil
				p, err := LoadOrDefault(path)
				if err != nil {
					logger.Warn("policy reload failed, keeping previous policy", "path", path, "error", err)
					continue
				}
				h.Set(p)
				blocked, approval, allowed := p.Stats()
				logger.Info("policy reloaded", "path", path, "blocked", blocked, "approval", approval, "allowed", allowed)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Debug("policy watch error", "error", err)
			}
		}
	}()
	return nil
}
