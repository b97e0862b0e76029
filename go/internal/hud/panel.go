package hud

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mcdev12/tavern/go/internal/models"
)

// PanelKey is the client-local key the panel override is stored under.
const PanelKey = "hud.floatingPos"

// PanelStore keeps the panel override on the local machine only.
type PanelStore interface {
	Load() (*models.PanelPosition, error)
	Save(pos models.PanelPosition) error
}

// FilePanelStore is a PanelStore backed by a small JSON key/value file, shared with any other
// client-local settings kept in the same file.
type FilePanelStore struct {
	path string
	mu   sync.Mutex
}

func NewFilePanelStore(path string) *FilePanelStore {
	return &FilePanelStore{path: path}
}

func (s *FilePanelStore) Load() (*models.PanelPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return nil, err
	}
	raw, ok := values[PanelKey]
	if !ok {
		return nil, nil
	}
	var pos models.PanelPosition
	if err := json.Unmarshal(raw, &pos); err != nil {
		return nil, fmt.Errorf("decode %s: %w", PanelKey, err)
	}
	return &pos, nil
}

func (s *FilePanelStore) Save(pos models.PanelPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encode %s: %w", PanelKey, err)
	}
	values[PanelKey] = raw

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode local settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write local settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FilePanelStore) read() (map[string]json.RawMessage, error) {
	values := map[string]json.RawMessage{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local settings: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse local settings: %w", err)
	}
	return values, nil
}
