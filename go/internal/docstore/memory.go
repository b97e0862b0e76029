package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Memory is a process-local Store.
type Memory struct {
	mu    sync.RWMutex
	docs  map[string]Snapshot
	hub   *hub
	clock clockwork.Clock
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return NewMemoryWithClock(clockwork.NewRealClock())
}

// NewMemoryWithClock creates an in-memory store stamping writes with clock.
func NewMemoryWithClock(clock clockwork.Clock) *Memory {
	return &Memory{
		docs:  make(map[string]Snapshot),
		hub:   newHub(),
		clock: clock,
	}
}

func (m *Memory) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := validatePath(path); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.docs[path]
	if !ok {
		return Snapshot{Path: path}, ErrNotFound
	}
	snap.Data = Clone(snap.Data)
	return snap, nil
}

func (m *Memory) Set(ctx context.Context, path string, doc Document) error {
	return m.write(path, doc, false)
}

func (m *Memory) Merge(ctx context.Context, path string, doc Document) error {
	return m.write(path, doc, true)
}

func (m *Memory) write(path string, doc Document, merge bool) error {
	if err := validatePath(path); err != nil {
		return err
	}
	normalized, err := normalize(doc)
	if err != nil {
		return err
	}

	// publishing under the lock keeps deliveries in write order
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.docs[path]
	next := normalized
	if merge && exists {
		next = MergeInto(Clone(current.Data), normalized)
	}
	snap := Snapshot{
		Path:      path,
		Exists:    true,
		Data:      next,
		UpdatedAt: m.clock.Now().UTC(),
	}
	m.docs[path] = snap
	m.hub.publish(snap)
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (CancelFunc, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	w := m.hub.add(path, fn)

	m.mu.RLock()
	snap, ok := m.docs[path]
	m.mu.RUnlock()
	if !ok {
		snap = Snapshot{Path: path}
	}
	snap.Data = Clone(snap.Data)
	w.pushInitial(snap)

	return func() { m.hub.remove(w) }, nil
}

func (m *Memory) Close() error {
	m.hub.closeAll()
	return nil
}

// normalize round-trips doc through JSON so every backend stores the same shapes.
func normalize(doc Document) (Document, error) {
	raw, err := marshalDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	out := Document{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return out, nil
}
