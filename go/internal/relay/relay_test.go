package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/tavern/go/internal/actor"
	"github.com/mcdev12/tavern/go/internal/docstore"
	"github.com/mcdev12/tavern/go/internal/models"
)

var (
	master = models.Actor{ID: "gm", Nick: "Mestre", Email: "gm@example.com"}
	player = models.Actor{ID: "p1", Nick: "Ana", Email: "ana@example.com"}
	t0     = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Broadcast(room string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, payload.(Event))
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type relayFixture struct {
	relay *Relay
	repo  *TokenRepository
	out   *recorder
	bus   *LocalBus
}

func newRelayFixture(t *testing.T) relayFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	store := docstore.NewMemoryWithClock(clock)
	t.Cleanup(func() { store.Close() })

	repo := NewTokenRepository(store)
	bus := NewLocalBus()
	out := &recorder{}
	r := NewRelay(repo, bus, out, actor.NewAuthorizer([]string{"gm@example.com"}), clock)

	stop, err := r.Listen()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(stop)

	return relayFixture{relay: r, repo: repo, out: out, bus: bus}
}

func mustEvent(t *testing.T, eventType EventType, payload any) Event {
	t.Helper()
	event, err := NewEvent(eventType, "m1", "", payload, t0)
	if err != nil {
		t.Fatal(err)
	}
	return event
}

func TestSubmitBroadcastsAndPersists(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	if err := f.relay.Submit(ctx, master, mustEvent(t, EventTypeAddToken, tok("a"))); err != nil {
		t.Fatalf("add: %v", err)
	}

	events := f.out.all()
	if len(events) != 1 || events[0].Type != EventTypeAddToken || events[0].Origin != "gm" {
		t.Fatalf("broadcast = %+v", events)
	}
	stored, err := f.repo.LoadTokens(ctx, "m1")
	if err != nil || !equalIDs(stored, "a") {
		t.Fatalf("stored = %v, %v", ids(stored), err)
	}
}

func TestSubmitIgnoresPlayers(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	if err := f.relay.Submit(ctx, player, mustEvent(t, EventTypeAddToken, tok("a"))); err != nil {
		t.Fatalf("player add returned %v", err)
	}
	if len(f.out.all()) != 0 {
		t.Fatalf("player mutation was broadcast")
	}
	b, _ := f.relay.Board(ctx, "m1")
	if len(b.Tokens()) != 0 {
		t.Fatalf("player mutation applied")
	}
}

func TestSubmitSkipsNoOpChanges(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	f.relay.Submit(ctx, master, mustEvent(t, EventTypeAddToken, tok("a")))
	f.relay.Submit(ctx, master, mustEvent(t, EventTypeAddToken, tok("a")))
	f.relay.Submit(ctx, master, mustEvent(t, EventTypeDeleteToken, DeleteTokenPayload{ID: "missing"}))

	if n := len(f.out.all()); n != 1 {
		t.Fatalf("broadcasts = %d, want 1", n)
	}
}

func TestSubmitAssignsMissingTokenID(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	if err := f.relay.Submit(ctx, master, mustEvent(t, EventTypeAddToken, models.Token{ImageRef: "orc.png"})); err != nil {
		t.Fatalf("add: %v", err)
	}
	b, _ := f.relay.Board(ctx, "m1")
	tokens := b.Tokens()
	if len(tokens) != 1 || tokens[0].ID == "" {
		t.Fatalf("tokens = %+v", tokens)
	}
	var sent models.Token
	if err := json.Unmarshal(f.out.all()[0].Data, &sent); err != nil || sent.ID != tokens[0].ID {
		t.Fatalf("broadcast token = %+v, %v", sent, err)
	}
}

func TestDragUpdatesAreRelayedButNotPersisted(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	f.relay.Submit(ctx, master, mustEvent(t, EventTypeAddToken, tok("a")))
	f.relay.Submit(ctx, master, mustEvent(t, EventTypeUpdateToken, UpdateTokenPayload{ID: "a", X: 40, Y: 40, Dragging: true}))

	if n := len(f.out.all()); n != 2 {
		t.Fatalf("broadcasts = %d, want 2", n)
	}
	stored, _ := f.repo.LoadTokens(ctx, "m1")
	if stored[0].X != 0 {
		t.Fatalf("drag position persisted: %+v", stored[0])
	}

	f.relay.Submit(ctx, master, mustEvent(t, EventTypeUpdateToken, UpdateTokenPayload{ID: "a", X: 50, Y: 60}))
	stored, _ = f.repo.LoadTokens(ctx, "m1")
	if stored[0].X != 50 || stored[0].Y != 60 {
		t.Fatalf("final position not persisted: %+v", stored[0])
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	bad := mustEvent(t, EventTypeAddToken, tok("a"))
	bad.MapID = "../etc"
	if err := f.relay.Submit(ctx, master, bad); !errors.Is(err, ErrInvalidMapID) {
		t.Fatalf("bad map id: %v", err)
	}
	if err := f.relay.Submit(ctx, master, mustEvent(t, EventTypeInit, InitPayload{})); err == nil {
		t.Fatal("client init accepted")
	}
	garbled := Event{Type: EventTypeUpdateToken, MapID: "m1", Data: json.RawMessage(`[1,2]`)}
	if err := f.relay.Submit(ctx, master, garbled); err == nil {
		t.Fatal("garbled payload accepted")
	}
}

func TestRemoteEventsUpdateLoadedBoard(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	b, _ := f.relay.Board(ctx, "m1")
	// another instance accepted this change and already persisted it
	f.relay.onBusEvent(mustEvent(t, EventTypeAddToken, tok("remote")), false)

	if !equalIDs(b.Tokens(), "remote") {
		t.Fatalf("tokens = %v", ids(b.Tokens()))
	}
	if n := len(f.out.all()); n != 1 {
		t.Fatalf("broadcasts = %d, want 1", n)
	}
}

func TestSendInitUsesStoredTokens(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	if err := f.repo.SaveTokens(ctx, "m2", []models.Token{tok("x"), tok("y")}); err != nil {
		t.Fatal(err)
	}
	var got Event
	if err := f.relay.SendInit(ctx, "m2", func(e Event) { got = e }); err != nil {
		t.Fatalf("init: %v", err)
	}
	var payload InitPayload
	if err := json.Unmarshal(got.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if got.Type != EventTypeInit || !equalIDs(payload.Tokens, "x", "y") {
		t.Fatalf("init = %+v", got)
	}
}

func TestRemoteEventWaitsForInit(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()
	if _, err := f.relay.Board(ctx, "m1"); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	remote := mustEvent(t, EventTypeAddToken, tok("remote"))
	applied := make(chan struct{})
	err := f.relay.SendInit(ctx, "m1", func(e Event) {
		go func() {
			f.relay.onBusEvent(remote, false)
			record("event")
			close(applied)
		}()
		// the remote change must not reach the board or the room while init is in flight
		time.Sleep(30 * time.Millisecond)
		var payload InitPayload
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			t.Errorf("decode init: %v", err)
		}
		if len(payload.Tokens) != 0 || len(f.out.all()) != 0 {
			t.Errorf("remote change leaked into init: tokens %v broadcasts %d", ids(payload.Tokens), len(f.out.all()))
		}
		record("init")
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("remote event never applied")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "init" || order[1] != "event" {
		t.Fatalf("order = %v", order)
	}
	b, _ := f.relay.Board(ctx, "m1")
	if !equalIDs(b.Tokens(), "remote") {
		t.Fatalf("tokens = %v", ids(b.Tokens()))
	}
}

// slowStore blocks LoadTokens for one map until released.
type slowStore struct {
	TokenStore
	slowMap string
	release chan struct{}
}

func (s *slowStore) LoadTokens(ctx context.Context, mapID string) ([]models.Token, error) {
	if mapID == s.slowMap {
		<-s.release
	}
	return s.TokenStore.LoadTokens(ctx, mapID)
}

func TestSlowBoardLoadDoesNotBlockOtherMaps(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	store := docstore.NewMemoryWithClock(clock)
	defer store.Close()
	slow := &slowStore{TokenStore: NewTokenRepository(store), slowMap: "slow", release: make(chan struct{})}
	r := NewRelay(slow, NewLocalBus(), &recorder{}, actor.NewAuthorizer(nil), clock)
	ctx := context.Background()

	loaded := make(chan *Board, 2)
	go func() {
		b, _ := r.Board(ctx, "slow")
		loaded <- b
	}()
	time.Sleep(10 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := r.Board(ctx, "fast")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("fast board: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("fast map blocked behind slow load")
	}

	go func() {
		b, _ := r.Board(ctx, "slow")
		loaded <- b
	}()
	close(slow.release)
	first, second := <-loaded, <-loaded
	if first == nil || first != second {
		t.Fatalf("concurrent loads installed different boards")
	}
}
