package terminal

import (
	"context"
	"sync"
)

// Store is a small key-value home for state that must outlive the
// orchestrator process: the pane handle and the hook's "<seq> <exit>"
// record. Each backend scopes it (tmux session environment, temp files).
//
// Values are created on the first EnsurePane and removed by Cleanup; a
// handle left behind on purpose lets a restarted orchestrator reattach.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemStore is an in-process Store, used by tests and by callers that do
// not want reattachment across restarts.
type MemStore struct {
	mu   sync.Mutex
	vals map[string]string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{vals: make(map[string]string)}
}

func (m *MemStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *MemStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}
