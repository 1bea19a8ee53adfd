// Package store persists chat history as a single JSON document on
// disk. The file is small and rewritten whole on every mutation; an
// advisory file lock keeps concurrent processes from interleaving
// writes. In-process callers are serialized by a mutex.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/chatqd/chatqd/internal/job"
	"github.com/chatqd/chatqd/internal/log"
)

// ErrChatNotFound is returned when a chat ID has no stored entry.
var ErrChatNotFound = errors.New("chat not found")

const (
	chatsFile = "chats.json"
	lockFile  = "chats.json.lock"

	fileMode = 0o600
	dirMode  = 0o700
)

// Chat is one stored conversation. Messages are kept as raw JSON: the
// store never interprets them, it only hands them back to clients.
type Chat struct {
	ID                string                  `json:"id"`
	Title             string                  `json:"title"`
	Messages          []json.RawMessage       `json:"messages"`
	CreatedAt         time.Time               `json:"createdAt"`
	DeployedResources map[string]job.Resource `json:"deployed_resources,omitempty"`
}

// Store reads and writes the chat history file.
type Store struct {
	mu     sync.Mutex
	path   string
	lock   *flock.Flock
	logger log.Logger
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, logger log.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{
		path:   filepath.Join(dir, chatsFile),
		lock:   flock.New(filepath.Join(dir, lockFile)),
		logger: logger,
	}, nil
}

// List returns all chats, newest first.
func (s *Store) List() ([]Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("acquire read lock: %w", err)
	}
	defer s.lock.Unlock()

	return s.load(), nil
}

// Get returns one chat by ID.
func (s *Store) Get(id string) (Chat, error) {
	chats, err := s.List()
	if err != nil {
		return Chat{}, err
	}
	for _, c := range chats {
		if c.ID == id {
			return c, nil
		}
	}
	return Chat{}, fmt.Errorf("%w: %s", ErrChatNotFound, id)
}

// Create inserts a chat at the head of the list so listings come back
// newest first.
func (s *Store) Create(c Chat) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return s.mutate(func(chats []Chat) ([]Chat, error) {
		for _, existing := range chats {
			if existing.ID == c.ID {
				return nil, fmt.Errorf("chat %s already exists", c.ID)
			}
		}
		return append([]Chat{c}, chats...), nil
	})
}

// Update replaces the stored chat with the same ID.
func (s *Store) Update(c Chat) error {
	return s.mutate(func(chats []Chat) ([]Chat, error) {
		for i, existing := range chats {
			if existing.ID == c.ID {
				if c.CreatedAt.IsZero() {
					c.CreatedAt = existing.CreatedAt
				}
				chats[i] = c
				return chats, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, c.ID)
	})
}

// Delete removes a chat by ID.
func (s *Store) Delete(id string) error {
	return s.mutate(func(chats []Chat) ([]Chat, error) {
		for i, existing := range chats {
			if existing.ID == id {
				return append(chats[:i], chats[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, id)
	})
}

// mutate runs a read-modify-write cycle under the exclusive lock.
func (s *Store) mutate(fn func([]Chat) ([]Chat, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	defer s.lock.Unlock()

	chats, err := fn(s.load())
	if err != nil {
		return err
	}
	return s.save(chats)
}

// load reads the chats file. A missing or corrupt file degrades to an
// empty history rather than failing the request.
func (s *Store) load() []Chat {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("failed to read chat history", "path", s.path, "error", err)
		}
		return nil
	}

	var chats []Chat
	if err := json.Unmarshal(data, &chats); err != nil {
		s.logger.Error("chat history is corrupt, starting empty", "path", s.path, "error", err)
		return nil
	}
	return chats
}

// save writes the full list atomically via a temp file rename.
func (s *Store) save(chats []Chat) error {
	if chats == nil {
		chats = []Chat{}
	}
	data, err := json.MarshalIndent(chats, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chat history: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return fmt.Errorf("write chat history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace chat history: %w", err)
	}
	return nil
}
