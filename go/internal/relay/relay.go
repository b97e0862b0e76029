package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/gateway"
	"github.com/mcdev12/tavern/go/internal/models"
)

// ErrInvalidMapID is returned for map ids that cannot be used as a path or subject segment.
var ErrInvalidMapID = errors.New("invalid map id")

var mapIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// TokenStore defines what the relay needs from persistence
type TokenStore interface {
	LoadTokens(ctx context.Context, mapID string) ([]models.Token, error)
	SaveTokens(ctx context.Context, mapID string, tokens []models.Token) error
}

// Authorizer decides who may mutate the board
type Authorizer interface {
	IsPrivileged(who models.Actor) bool
}

// Broadcaster delivers payloads to the websocket connections of a room
type Broadcaster interface {
	Broadcast(room string, payload any)
}

// Relay keeps one Board per map, accepts mutations from the master and fans accepted
// changes out through the bus to every connected client, the sender included.
type Relay struct {
	store TokenStore
	bus   Bus
	out   Broadcaster
	auth  Authorizer
	clock clockwork.Clock

	mu     sync.Mutex
	boards map[string]*Board
}

// NewRelay creates a new battle map relay
func NewRelay(store TokenStore, bus Bus, out Broadcaster, auth Authorizer, clock clockwork.Clock) *Relay {
	return &Relay{
		store:  store,
		bus:    bus,
		out:    out,
		auth:   auth,
		clock:  clock,
		boards: make(map[string]*Board),
	}
}

// Room returns the gateway room of mapID.
func Room(mapID string) string {
	return "map:" + mapID
}

// ValidateMapID checks mapID is usable as a document path and bus subject segment.
func ValidateMapID(mapID string) error {
	if !mapIDPattern.MatchString(mapID) {
		return fmt.Errorf("%w: %q", ErrInvalidMapID, mapID)
	}
	return nil
}

// Listen subscribes the relay to the bus and returns the matching unsubscribe.
func (r *Relay) Listen() (func(), error) {
	return r.bus.Subscribe(r.onBusEvent)
}

// Start consumes the bus until ctx is done
func (r *Relay) Start(ctx context.Context) error {
	unsubscribe, err := r.Listen()
	if err != nil {
		return err
	}
	defer unsubscribe()

	log.Info().Msg("battle map relay started")
	<-ctx.Done()
	log.Info().Msg("battle map relay shutting down")
	return nil
}

// Board returns the board of mapID, loading it from the store on first use. The load runs
// outside the relay lock so one slow map does not stall the others.
func (r *Relay) Board(ctx context.Context, mapID string) (*Board, error) {
	if err := ValidateMapID(mapID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	b, ok := r.boards[mapID]
	r.mu.Unlock()
	if ok {
		return b, nil
	}

	tokens, err := r.store.LoadTokens(ctx, mapID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.boards[mapID]; ok {
		// a concurrent caller installed it first
		return b, nil
	}
	b = NewBoard(mapID, tokens)
	r.boards[mapID] = b

	log.Debug().Str("map_id", mapID).Int("tokens", len(tokens)).Msg("board loaded")
	return b, nil
}

// SendInit hands deliver the full-list snapshot a newly connected client receives. The board
// is held while deliver runs, so a change accepted afterwards is queued behind the snapshot.
func (r *Relay) SendInit(ctx context.Context, mapID string, deliver func(Event)) error {
	b, err := r.Board(ctx, mapID)
	if err != nil {
		return err
	}
	b.opMu.Lock()
	defer b.opMu.Unlock()

	event, err := NewEvent(EventTypeInit, mapID, "", InitPayload{Tokens: b.Tokens()}, r.clock.Now())
	if err != nil {
		return err
	}
	deliver(event)
	return nil
}

// Submit applies a mutation from who. Non-master submissions are ignored.
func (r *Relay) Submit(ctx context.Context, who models.Actor, event Event) error {
	if !r.auth.IsPrivileged(who) {
		log.Debug().
			Str("user_id", who.ID).
			Str("event_type", string(event.Type)).
			Msg("ignoring map mutation from non-privileged actor")
		return nil
	}

	b, err := r.Board(ctx, event.MapID)
	if err != nil {
		return err
	}

	event, persist, err := r.prepare(event)
	if err != nil {
		return err
	}
	event.Origin = who.ID
	event.Timestamp = r.clock.Now().UTC()

	b.opMu.Lock()
	defer b.opMu.Unlock()

	changed, err := b.Apply(event)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if persist {
		if err := r.store.SaveTokens(ctx, event.MapID, b.Tokens()); err != nil {
			log.Error().Err(err).Str("map_id", event.MapID).Msg("failed to persist tokens")
			return err
		}
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("map_id", event.MapID).Msg("failed to publish map event")
		return err
	}

	log.Debug().
		Str("map_id", event.MapID).
		Str("event_type", string(event.Type)).
		Str("origin", who.ID).
		Msg("map event accepted")
	return nil
}

// prepare validates a client event, filling a missing token id, and reports whether the
// result should be persisted.
func (r *Relay) prepare(event Event) (Event, bool, error) {
	payload, err := ParsePayload(event)
	if err != nil {
		return event, false, fmt.Errorf("parse %s: %w", event.Type, err)
	}
	switch p := payload.(type) {
	case models.Token:
		if p.ID == "" {
			p.ID = uuid.New().String()
			data, err := json.Marshal(p)
			if err != nil {
				return event, false, err
			}
			event.Data = data
		}
		return event, true, nil
	case UpdateTokenPayload:
		return event, !p.Dragging, nil
	case DeleteTokenPayload, ReorderPayload:
		return event, true, nil
	default:
		return event, false, fmt.Errorf("clients cannot send %s", event.Type)
	}
}

// onBusEvent applies remote changes and broadcasts every change to local clients. Remote
// changes are applied and broadcast under the board lock, the same lock SendInit holds, so a
// new client never gets an init older than a change it was already sent.
func (r *Relay) onBusEvent(event Event, local bool) {
	if local {
		// Submit applied it before publishing; LocalBus calls in while Submit still holds opMu
		r.out.Broadcast(Room(event.MapID), event)
		return
	}

	r.mu.Lock()
	b, ok := r.boards[event.MapID]
	r.mu.Unlock()
	if !ok {
		r.out.Broadcast(Room(event.MapID), event)
		return
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()
	if _, err := b.Apply(event); err != nil {
		log.Error().Err(err).Str("map_id", event.MapID).Msg("failed to apply remote map event")
	}
	r.out.Broadcast(Room(event.MapID), event)
}

// HandleClientMessage is the gateway message handler for map connections.
func (r *Relay) HandleClientMessage(mapID string) gateway.MessageHandler {
	return func(c *gateway.Connection, message []byte) {
		var event Event
		if err := json.Unmarshal(message, &event); err != nil {
			log.Warn().Err(err).Str("connection_id", c.ID).Msg("invalid map message")
			return
		}
		event.MapID = mapID
		if err := r.Submit(context.Background(), c.Actor, event); err != nil {
			log.Warn().
				Err(err).
				Str("connection_id", c.ID).
				Str("event_type", string(event.Type)).
				Msg("map message rejected")
		}
	}
}
