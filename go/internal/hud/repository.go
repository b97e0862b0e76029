package hud

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/docstore"
	"github.com/mcdev12/tavern/go/internal/models"
)

// DocumentPath is where the single record lives.
const DocumentPath = "hud/current"

// Repository implements HUD persistence on top of the document store
type Repository struct {
	store docstore.Store
}

// NewRepository creates a new HUD repository
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// Load reads the record, filling absent fields with defaults.
func (r *Repository) Load(ctx context.Context) (Snapshot, error) {
	snap, err := r.store.Get(ctx, DocumentPath)
	if errors.Is(err, docstore.ErrNotFound) {
		return Snapshot{HUD: models.DefaultHUD()}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read hud: %w", err)
	}
	return decode(snap)
}

// Merge deep-merges patch into the record.
func (r *Repository) Merge(ctx context.Context, patch docstore.Document) error {
	if err := r.store.Merge(ctx, DocumentPath, patch); err != nil {
		return fmt.Errorf("failed to write hud: %w", err)
	}
	return nil
}

// Watch calls fn with every version of the record. Undecodable versions are logged and skipped.
func (r *Repository) Watch(ctx context.Context, fn func(Snapshot)) (docstore.CancelFunc, error) {
	cancel, err := r.store.Subscribe(ctx, DocumentPath, func(snap docstore.Snapshot) {
		decoded, err := decode(snap)
		if err != nil {
			log.Error().Err(err).Msg("failed to decode hud snapshot")
			return
		}
		fn(decoded)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to hud: %w", err)
	}
	return cancel, nil
}

func decode(snap docstore.Snapshot) (Snapshot, error) {
	h := models.DefaultHUD()
	if !snap.Exists {
		return Snapshot{HUD: h}, nil
	}
	if err := docstore.Decode(snap.Data, &h); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode hud: %w", err)
	}
	if h.XPMap == nil {
		h.XPMap = map[string]models.XPEntry{}
	}
	if !snap.UpdatedAt.IsZero() {
		updated := snap.UpdatedAt
		h.UpdatedAt = &updated
	}
	return Snapshot{HUD: h, Exists: true}, nil
}
