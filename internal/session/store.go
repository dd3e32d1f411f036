// Package session persists the login session (token + user record) between
// runs of the client. The store is a flat key-value surface over a single
// JSON file; nothing else in the client writes durable state.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Keys used by the client.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("session: key not found")

// Store is opaque key-value persistence for session data.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// fileStore keeps all keys in one JSON file, rewritten on every mutation.
// Session data is tiny (a token and one user record), so no finer-grained
// storage is warranted.
type fileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed Store rooted at dir. An empty dir
// resolves to the per-user config directory.
func NewFileStore(dir string) (Store, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		dir = filepath.Join(base, "chatclient")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &fileStore{path: filepath.Join(dir, "session.json")}, nil
}

func (s *fileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		// A corrupt session file is treated as an empty session rather
		// than a fatal error; the user just logs in again.
		return map[string]string{}, nil
	}
	return values, nil
}

func (s *fileStore) save(values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (s *fileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *fileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

func (s *fileStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}
