// Package checkpoint persists the listener's last processed block so a
// restart can back-fill the creation events it missed while down.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Store is a single JSON file replaced atomically on every save. A nil
// *Store is valid and remembers nothing.
type Store struct {
	path string
	mu   sync.Mutex
	last uint64
}

type state struct {
	LastBlock uint64    `json:"last_block"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open returns nil for an empty path.
func Open(path string) *Store {
	if path == "" {
		return nil
	}
	return &Store{path: path}
}

// Load returns the saved block, or 0 when nothing was saved yet.
func (s *Store) Load() (uint64, error) {
	if s == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		return 0, fmt.Errorf("decode checkpoint %s: %w", s.path, err)
	}
	s.last = st.LastBlock
	return s.last, nil
}

// Save records block. Saves never move the checkpoint backwards.
func (s *Store) Save(block uint64) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if block <= s.last {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(state{LastBlock: block, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("checkpoint rename: %w", err)
	}
	s.last = block
	return nil
}

func (s *Store) Last() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
