package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mcdev12/tavern/go/internal/docstore"
	"github.com/mcdev12/tavern/go/internal/models"
)

// ErrNotFound is returned when a player has no character sheet.
var ErrNotFound = errors.New("character sheet not found")

const collection = "fichas"

// Path returns the document path of playerID's sheet.
func Path(playerID string) string {
	return collection + "/" + playerID
}

// Repository implements character sheet access on top of the document store
type Repository struct {
	store docstore.Store
}

// NewRepository creates a new sheets repository
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// Exists reports whether playerID has a sheet.
func (r *Repository) Exists(ctx context.Context, playerID string) (bool, error) {
	if err := validateID(playerID); err != nil {
		return false, err
	}
	_, err := r.store.Get(ctx, Path(playerID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, docstore.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to read sheet %s: %w", playerID, err)
	}
}

// Get returns the raw sheet document.
func (r *Repository) Get(ctx context.Context, playerID string) (docstore.Document, error) {
	if err := validateID(playerID); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, Path(playerID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", playerID, err)
	}
	return snap.Data, nil
}

// Put replaces the sheet.
func (r *Repository) Put(ctx context.Context, playerID string, sheet docstore.Document) error {
	if err := validateID(playerID); err != nil {
		return err
	}
	if err := r.store.Set(ctx, Path(playerID), sheet); err != nil {
		return fmt.Errorf("failed to write sheet %s: %w", playerID, err)
	}
	return nil
}

// MirrorXP copies the ledger entry into the sheet when one exists. It reports whether it wrote.
func (r *Repository) MirrorXP(ctx context.Context, playerID string, entry models.XPEntry) (bool, error) {
	ok, err := r.Exists(ctx, playerID)
	if err != nil || !ok {
		return false, err
	}
	patch := docstore.Document{"xp": entry.XP, "level": entry.Level}
	if err := r.store.Merge(ctx, Path(playerID), patch); err != nil {
		return false, fmt.Errorf("failed to mirror xp into sheet %s: %w", playerID, err)
	}
	return true, nil
}

func validateID(playerID string) error {
	if strings.TrimSpace(playerID) == "" || strings.Contains(playerID, "/") {
		return fmt.Errorf("%w: player id %q", docstore.ErrInvalidPath, playerID)
	}
	return nil
}
