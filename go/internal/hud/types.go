// Package hud owns the shared session record: turn holder, XP ledger, world clock, countdown
// timer and the default floating-panel position.
package hud

import (
	"errors"

	"github.com/mcdev12/tavern/go/internal/models"
)

var (
	ErrInvalidPhase    = errors.New("invalid world phase")
	ErrInvalidDate     = errors.New("invalid world date")
	ErrInvalidDuration = errors.New("timer duration must be positive")
	ErrInvalidPlayer   = errors.New("player id is required")
	ErrUnknownPlayer   = errors.New("unknown player")
)

// IsValidation reports whether err was caused by bad input rather than the store.
func IsValidation(err error) bool {
	for _, target := range []error{ErrInvalidPhase, ErrInvalidDate, ErrInvalidDuration, ErrInvalidPlayer, ErrUnknownPlayer} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IdentifierMode decides which player ids the XP operations accept.
type IdentifierMode string

const (
	// Permissive accepts any non-empty id.
	Permissive IdentifierMode = "permissive"
	// Strict accepts only ids that have a character sheet.
	Strict IdentifierMode = "strict"
)

// DateChange is a partial world-date update; nil fields are left as they are.
type DateChange struct {
	Season *models.Season `json:"season,omitempty"`
	Day    *int           `json:"day,omitempty"`
	Year   *int           `json:"year,omitempty"`
}

// Snapshot is one observed version of the record.
type Snapshot struct {
	HUD    models.HUD
	Exists bool
}
