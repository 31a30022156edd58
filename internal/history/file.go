package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore keeps one JSON file per session under a directory, so histories
// survive restarts and stay greppable.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(sessionID string) string {
	// Session ids are short hex, but never trust them as path components.
	return filepath.Join(s.dir, filepath.Base(sessionID)+".json")
}

func (s *FileStore) SaveTurn(_ context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(record.SessionID)
	if err != nil {
		return err
	}
	records = append(records, record)

	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(record.SessionID) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(record.SessionID))
}

func (s *FileStore) History(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(records) {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func (s *FileStore) ClearSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) load(sessionID string) ([]TurnRecord, error) {
	b, err := os.ReadFile(s.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []TurnRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("corrupt history file for %s: %w", sessionID, err)
	}
	return records, nil
}
