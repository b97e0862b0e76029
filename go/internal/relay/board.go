package relay

import (
	"fmt"
	"sync"

	"github.com/mcdev12/tavern/go/internal/models"
)

// Board is the authoritative ordered token list of one map.
type Board struct {
	mapID string

	mu     sync.RWMutex
	tokens []models.Token

	// held across apply, persist and publish so changes leave the relay in order
	opMu sync.Mutex
}

func NewBoard(mapID string, tokens []models.Token) *Board {
	return &Board{mapID: mapID, tokens: dedupe(tokens)}
}

// Tokens returns a copy of the list in z-order.
func (b *Board) Tokens() []models.Token {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Token, len(b.tokens))
	copy(out, b.tokens)
	return out
}

// Add appends t unless a token with the same id exists.
func (b *Board) Add(t models.Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if models.TokenIndex(b.tokens, t.ID) >= 0 {
		return false
	}
	b.tokens = append(b.tokens, t)
	return true
}

// Update moves or resizes an existing token.
func (b *Board) Update(p UpdateTokenPayload) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := models.TokenIndex(b.tokens, p.ID)
	if i < 0 {
		return false
	}
	t := &b.tokens[i]
	t.X, t.Y = p.X, p.Y
	if p.Width != nil {
		t.Width = *p.Width
	}
	if p.Height != nil {
		t.Height = *p.Height
	}
	return true
}

// Delete removes the token with id.
func (b *Board) Delete(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := models.TokenIndex(b.tokens, id)
	if i < 0 {
		return false
	}
	b.tokens = append(b.tokens[:i], b.tokens[i+1:]...)
	return true
}

// Reorder replaces the whole list.
func (b *Board) Reorder(tokens []models.Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = dedupe(tokens)
}

// Apply runs a mutation event against the board and reports whether it changed anything.
func (b *Board) Apply(event Event) (bool, error) {
	payload, err := ParsePayload(event)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", event.Type, err)
	}
	switch p := payload.(type) {
	case models.Token:
		return b.Add(p), nil
	case UpdateTokenPayload:
		return b.Update(p), nil
	case DeleteTokenPayload:
		return b.Delete(p.ID), nil
	case ReorderPayload:
		b.Reorder(p.Tokens)
		return true, nil
	default:
		return false, fmt.Errorf("event %s is not a mutation", event.Type)
	}
}

func dedupe(tokens []models.Token) []models.Token {
	out := make([]models.Token, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}
