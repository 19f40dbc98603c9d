package kitty

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/panemirror/panemirror/internal/util"
)

// FileStore keeps key-value state as small files under Dir. Writers are
// serialized across processes with an advisory lock next to the file;
// readers rely on the atomic rename and take no lock.
type FileStore struct {
	Dir string
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.Dir, filepath.FromSlash(key))
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(string(data)), true, nil
}

func (s *FileStore) Set(ctx context.Context, key, value string) error {
	p := s.path(key)
	unlock, err := lockFile(ctx, p)
	if err != nil {
		return err
	}
	defer unlock()
	return util.AtomicWriteFile(p, []byte(value+"\n"), 0600)
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	p := s.path(key)
	unlock, err := lockFile(ctx, p)
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func lockFile(ctx context.Context, path string) (func(), error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: not acquired", path)
	}
	return func() { _ = lock.Unlock() }, nil
}
