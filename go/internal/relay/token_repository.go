package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/tavern/go/internal/docstore"
	"github.com/mcdev12/tavern/go/internal/models"
)

// TokenRepository implements token list persistence on top of the document store
type TokenRepository struct {
	store docstore.Store
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(store docstore.Store) *TokenRepository {
	return &TokenRepository{store: store}
}

// MapPath returns the document path of mapID's token list.
func MapPath(mapID string) string {
	return "maps/" + mapID
}

type mapDocument struct {
	Tokens []models.Token `json:"tokens"`
}

// LoadTokens returns the stored list, empty when the map was never saved.
func (r *TokenRepository) LoadTokens(ctx context.Context, mapID string) ([]models.Token, error) {
	snap, err := r.store.Get(ctx, MapPath(mapID))
	if errors.Is(err, docstore.ErrNotFound) {
		return []models.Token{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read map %s: %w", mapID, err)
	}
	var doc mapDocument
	if err := docstore.Decode(snap.Data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode map %s: %w", mapID, err)
	}
	if doc.Tokens == nil {
		doc.Tokens = []models.Token{}
	}
	return doc.Tokens, nil
}

// SaveTokens replaces the stored list.
func (r *TokenRepository) SaveTokens(ctx context.Context, mapID string, tokens []models.Token) error {
	doc, err := docstore.Encode(mapDocument{Tokens: tokens})
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, MapPath(mapID), doc); err != nil {
		return fmt.Errorf("failed to write map %s: %w", mapID, err)
	}
	return nil
}
