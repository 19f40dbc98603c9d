package tmux

import (
	"context"
	"strings"
)

// EnvStore keeps key-value state in the tmux server's global environment,
// so it outlives the orchestrator process and needs no filesystem.
type EnvStore struct {
	client *Client
}

// NewEnvStore returns a store backed by client's server.
func NewEnvStore(client *Client) *EnvStore {
	return &EnvStore{client: client}
}

// Get reads KEY from "show-environment -g KEY", which prints "KEY=value".
// An unset variable is reported by tmux as an error and maps to a miss.
func (s *EnvStore) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := s.client.Run(ctx, "show-environment", "-g", key)
	if err != nil {
		if strings.Contains(err.Error(), "unknown variable") {
			return "", false, nil
		}
		return "", false, err
	}
	name, value, ok := strings.Cut(out, "=")
	if !ok || name != key {
		// "-KEY" marks a variable scheduled for removal
		return "", false, nil
	}
	return value, true, nil
}

func (s *EnvStore) Set(ctx context.Context, key, value string) error {
	return s.client.RunSilent(ctx, "set-environment", "-g", key, value)
}

func (s *EnvStore) Delete(ctx context.Context, key string) error {
	err := s.client.RunSilent(ctx, "set-environment", "-g", "-u", key)
	if err != nil && strings.Contains(err.Error(), "unknown variable") {
		return nil
	}
	return err
}
