package hud

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/docstore"
	"github.com/mcdev12/tavern/go/internal/models"
)

// HUDRepository defines what the app layer needs from the repository
type HUDRepository interface {
	Load(ctx context.Context) (Snapshot, error)
	Merge(ctx context.Context, patch docstore.Document) error
	Watch(ctx context.Context, fn func(Snapshot)) (docstore.CancelFunc, error)
}

// SheetStore is the character sheet access the XP operations need
type SheetStore interface {
	Exists(ctx context.Context, playerID string) (bool, error)
	MirrorXP(ctx context.Context, playerID string, entry models.XPEntry) (bool, error)
}

// Authorizer decides who holds the master role
type Authorizer interface {
	IsPrivileged(who models.Actor) bool
}

// App handles HUD business logic. Every mutation goes through mutate, which applies the
// privilege check; calls from non-privileged actors are silent no-ops.
type App struct {
	repo   HUDRepository
	sheets SheetStore
	auth   Authorizer
	clock  clockwork.Clock
	mode   IdentifierMode

	// serializes read-modify-write operations issued through this process
	mu sync.Mutex
}

// NewApp creates a new HUD App
func NewApp(repo HUDRepository, sheets SheetStore, auth Authorizer, clock clockwork.Clock, mode IdentifierMode) *App {
	if mode != Strict {
		mode = Permissive
	}
	return &App{
		repo:   repo,
		sheets: sheets,
		auth:   auth,
		clock:  clock,
		mode:   mode,
	}
}

// IsPrivileged exposes the authorization predicate to the mirror and transport layers.
func (a *App) IsPrivileged(who models.Actor) bool {
	return a.auth.IsPrivileged(who)
}

// State returns the current record, or the defaults when it was never written.
func (a *App) State(ctx context.Context) (models.HUD, error) {
	snap, err := a.repo.Load(ctx)
	if err != nil {
		return models.HUD{}, err
	}
	return snap.HUD, nil
}

// Watch streams every version of the record to fn until the returned cancel is called.
func (a *App) Watch(ctx context.Context, fn func(Snapshot)) (docstore.CancelFunc, error) {
	return a.repo.Watch(ctx, fn)
}

// Ensure writes the default record if none exists yet.
func (a *App) Ensure(ctx context.Context, who models.Actor) error {
	return a.mutate(ctx, who, "ensure", func(cur Snapshot) (docstore.Document, error) {
		if cur.Exists {
			return nil, nil
		}
		return docstore.Encode(models.DefaultHUD())
	})
}

// AssignTurn hands the turn to target, or clears it when target is nil.
func (a *App) AssignTurn(ctx context.Context, who models.Actor, target *models.TurnRef) error {
	return a.mutate(ctx, who, "assign_turn", func(Snapshot) (docstore.Document, error) {
		if target == nil {
			return docstore.Document{"turn": nil}, nil
		}
		return docstore.Document{"turn": map[string]any{
			"id":    target.ID,
			"nick":  target.Nick,
			"email": target.Email,
		}}, nil
	})
}

// AdjustXP adds delta to the player's XP, rolling over levels, and mirrors the result into the
// player's character sheet when one exists.
func (a *App) AdjustXP(ctx context.Context, who models.Actor, playerID string, delta int) error {
	var next models.XPEntry
	wrote := false
	err := a.mutate(ctx, who, "adjust_xp", func(cur Snapshot) (docstore.Document, error) {
		if err := a.checkPlayer(ctx, playerID); err != nil {
			return nil, err
		}
		entry := cur.HUD.XPFor(playerID)
		next = NormalizeXP(models.XPEntry{XP: entry.XP + delta, Level: entry.Level})
		wrote = true
		return xpPatch(playerID, next), nil
	})
	if err != nil || !wrote {
		return err
	}
	return a.mirrorSheet(ctx, playerID, next)
}

// SetXPDirect overwrites the player's ledger row, clamping xp to [0,99] and level to >= 1.
func (a *App) SetXPDirect(ctx context.Context, who models.Actor, playerID string, xp, level int) error {
	var next models.XPEntry
	wrote := false
	err := a.mutate(ctx, who, "set_xp", func(Snapshot) (docstore.Document, error) {
		if err := a.checkPlayer(ctx, playerID); err != nil {
			return nil, err
		}
		next = ClampXP(models.XPEntry{XP: xp, Level: level})
		wrote = true
		return xpPatch(playerID, next), nil
	})
	if err != nil || !wrote {
		return err
	}
	return a.mirrorSheet(ctx, playerID, next)
}

// SetWorldPhase changes the time of day.
func (a *App) SetWorldPhase(ctx context.Context, who models.Actor, phase models.Phase) error {
	return a.mutate(ctx, who, "set_world_phase", func(Snapshot) (docstore.Document, error) {
		if !phase.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPhase, phase)
		}
		return docstore.Document{"world": map[string]any{"phase": string(phase)}}, nil
	})
}

// SetWorldDate merges the given date fields into the world clock.
func (a *App) SetWorldDate(ctx context.Context, who models.Actor, change DateChange) error {
	return a.mutate(ctx, who, "set_world_date", func(Snapshot) (docstore.Document, error) {
		world := map[string]any{}
		if change.Season != nil {
			if !change.Season.Valid() {
				return nil, fmt.Errorf("%w: season %q", ErrInvalidDate, *change.Season)
			}
			world["season"] = string(*change.Season)
		}
		if change.Day != nil {
			if *change.Day < 1 {
				return nil, fmt.Errorf("%w: day %d", ErrInvalidDate, *change.Day)
			}
			world["day"] = *change.Day
		}
		if change.Year != nil {
			if *change.Year < 1 {
				return nil, fmt.Errorf("%w: year %d", ErrInvalidDate, *change.Year)
			}
			world["year"] = *change.Year
		}
		if len(world) == 0 {
			return nil, nil
		}
		return docstore.Document{"world": world}, nil
	})
}

// StartTimer starts a countdown of seconds from now.
func (a *App) StartTimer(ctx context.Context, who models.Actor, seconds int) error {
	return a.mutate(ctx, who, "start_timer", func(Snapshot) (docstore.Document, error) {
		if seconds <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidDuration, seconds)
		}
		return timerPatch(true, seconds, seconds, a.clock.Now().UTC()), nil
	})
}

// StopTimer freezes the countdown at its current remaining value.
func (a *App) StopTimer(ctx context.Context, who models.Actor) error {
	return a.mutate(ctx, who, "stop_timer", func(cur Snapshot) (docstore.Document, error) {
		t := cur.HUD.Timer
		return timerPatch(false, t.Duration, t.RemainingAt(a.clock.Now()), nil), nil
	})
}

// ResetTimer stops the countdown and sets it back to seconds.
func (a *App) ResetTimer(ctx context.Context, who models.Actor, seconds int) error {
	return a.mutate(ctx, who, "reset_timer", func(Snapshot) (docstore.Document, error) {
		if seconds < 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidDuration, seconds)
		}
		return timerPatch(false, seconds, seconds, nil), nil
	})
}

// PublishSharedPanelPosition sets the panel position every client falls back to.
func (a *App) PublishSharedPanelPosition(ctx context.Context, who models.Actor, pos models.PanelPosition) error {
	return a.mutate(ctx, who, "publish_panel", func(Snapshot) (docstore.Document, error) {
		return docstore.Document{"floatingPos": map[string]any{"x": pos.X, "y": pos.Y}}, nil
	})
}

// mutate is the single entry point for writes. build receives the current record and returns
// the patch to merge; a nil patch writes nothing.
func (a *App) mutate(
	ctx context.Context,
	who models.Actor,
	op string,
	build func(Snapshot) (docstore.Document, error),
) error {
	if !a.auth.IsPrivileged(who) {
		log.Debug().
			Str("op", op).
			Str("user_id", who.ID).
			Msg("ignoring hud mutation from non-privileged actor")
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cur, err := a.repo.Load(ctx)
	if err != nil {
		log.Error().Err(err).Str("op", op).Msg("failed to read hud before write")
		return err
	}
	patch, err := build(cur)
	if err != nil {
		return err
	}
	if patch == nil {
		return nil
	}
	if err := a.repo.Merge(ctx, patch); err != nil {
		log.Error().Err(err).Str("op", op).Msg("hud write failed")
		return err
	}

	log.Info().
		Str("op", op).
		Str("user_id", who.ID).
		Msg("hud updated")
	return nil
}

func (a *App) checkPlayer(ctx context.Context, playerID string) error {
	if strings.TrimSpace(playerID) == "" || strings.Contains(playerID, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPlayer, playerID)
	}
	if a.mode != Strict || a.sheets == nil {
		return nil
	}
	ok, err := a.sheets.Exists(ctx, playerID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	return nil
}

func (a *App) mirrorSheet(ctx context.Context, playerID string, entry models.XPEntry) error {
	if a.sheets == nil {
		return nil
	}
	if _, err := a.sheets.MirrorXP(ctx, playerID, entry); err != nil {
		log.Error().Err(err).Str("player_id", playerID).Msg("failed to mirror xp into sheet")
		return err
	}
	return nil
}

func xpPatch(playerID string, e models.XPEntry) docstore.Document {
	return docstore.Document{"xpMap": map[string]any{
		playerID: map[string]any{"xp": e.XP, "level": e.Level},
	}}
}

func timerPatch(running bool, duration, remaining int, startedAt any) docstore.Document {
	return docstore.Document{"timer": map[string]any{
		"running":   running,
		"duration":  duration,
		"remaining": remaining,
		"startedAt": startedAt,
	}}
}
