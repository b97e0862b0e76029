package hud

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/tavern/go/internal/actor"
	"github.com/mcdev12/tavern/go/internal/docstore"
	"github.com/mcdev12/tavern/go/internal/models"
)

type fakeMirrorApp struct {
	privileged bool

	mu      sync.Mutex
	resets  []int
	ensures int
}

func (f *fakeMirrorApp) IsPrivileged(models.Actor) bool { return f.privileged }

func (f *fakeMirrorApp) Ensure(ctx context.Context, who models.Actor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	return nil
}

func (f *fakeMirrorApp) ResetTimer(ctx context.Context, who models.Actor, seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, seconds)
	return nil
}

func (f *fakeMirrorApp) Watch(ctx context.Context, fn func(Snapshot)) (docstore.CancelFunc, error) {
	return func() {}, nil
}

func (f *fakeMirrorApp) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resets)
}

func runningHUD(duration int, startedAt time.Time) models.HUD {
	h := models.DefaultHUD()
	h.Timer = models.TimerState{Running: true, Duration: duration, Remaining: duration, StartedAt: &startedAt}
	return h
}

func TestMirrorCountsDownAndResetsOnce(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)
	app := &fakeMirrorApp{privileged: true}
	m := NewMirror(app, MirrorConfig{Actor: master, Clock: clock})

	snap := Snapshot{HUD: runningHUD(10, t0), Exists: true}
	m.Apply(ctx, snap)
	if v := m.View(); v.Remaining != 10 || !v.Running {
		t.Fatalf("at start view = %+v", v)
	}

	clock.Advance(3500 * time.Millisecond)
	m.Tick(ctx)
	if v := m.View(); v.Remaining != 7 || !v.Running {
		t.Fatalf("at 3.5s view = %+v", v)
	}

	clock.Advance(6500 * time.Millisecond)
	m.Tick(ctx)
	if v := m.View(); v.Remaining != 0 || v.Running {
		t.Fatalf("at expiry view = %+v", v)
	}
	if got := app.resetCount(); got != 1 {
		t.Fatalf("resets = %d, want 1", got)
	}

	// further ticks and echoes of the same run do not reset again
	clock.Advance(time.Second)
	m.Tick(ctx)
	m.Apply(ctx, snap)
	if got := app.resetCount(); got != 1 {
		t.Fatalf("resets = %d, want 1", got)
	}
	if app.resets[0] != 10 {
		t.Fatalf("reset duration = %d, want 10", app.resets[0])
	}

	// a new run counts down afresh
	m.Apply(ctx, Snapshot{HUD: runningHUD(5, clock.Now()), Exists: true})
	if v := m.View(); v.Remaining != 5 || !v.Running {
		t.Fatalf("new run view = %+v", v)
	}
}

func TestMirrorJoinsRunningTimer(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	m := NewMirror(&fakeMirrorApp{}, MirrorConfig{Actor: player, Clock: clock})

	m.Apply(context.Background(), Snapshot{HUD: runningHUD(60, t0.Add(-25*time.Second)), Exists: true})
	if v := m.View(); v.Remaining != 35 {
		t.Fatalf("remaining = %d, want 35", v.Remaining)
	}
}

func TestNonPrivilegedMirrorNeverResets(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)
	app := &fakeMirrorApp{}
	m := NewMirror(app, MirrorConfig{Actor: player, Clock: clock})

	m.Apply(ctx, Snapshot{HUD: runningHUD(2, t0), Exists: true})
	clock.Advance(5 * time.Second)
	m.Tick(ctx)

	if v := m.View(); v.Running || v.Remaining != 0 {
		t.Fatalf("view = %+v", v)
	}
	if app.resetCount() != 0 {
		t.Fatalf("non-privileged mirror issued a reset")
	}
}

func TestStoppedTimerShowsStoredRemaining(t *testing.T) {
	m := NewMirror(&fakeMirrorApp{}, MirrorConfig{Actor: player, Clock: clockwork.NewFakeClockAt(t0)})
	h := models.DefaultHUD()
	h.Timer = models.TimerState{Running: false, Duration: 60, Remaining: 42}
	m.Apply(context.Background(), Snapshot{HUD: h, Exists: true})

	if v := m.View(); v.Running || v.Remaining != 42 {
		t.Fatalf("view = %+v", v)
	}
}

func TestPrivilegedMirrorEnsuresMissingRecordOnce(t *testing.T) {
	ctx := context.Background()
	app := &fakeMirrorApp{privileged: true}
	m := NewMirror(app, MirrorConfig{Actor: master, Clock: clockwork.NewFakeClockAt(t0)})

	m.Apply(ctx, Snapshot{HUD: models.DefaultHUD()})
	m.Apply(ctx, Snapshot{HUD: models.DefaultHUD()})
	if app.ensures != 1 {
		t.Fatalf("ensures = %d, want 1", app.ensures)
	}

	other := &fakeMirrorApp{}
	NewMirror(other, MirrorConfig{Actor: player}).Apply(ctx, Snapshot{HUD: models.DefaultHUD()})
	if other.ensures != 0 {
		t.Fatalf("player mirror created the record")
	}
}

func TestPanelOverride(t *testing.T) {
	ctx := context.Background()
	panels := NewFilePanelStore(filepath.Join(t.TempDir(), "local.json"))
	m := NewMirror(&fakeMirrorApp{}, MirrorConfig{Actor: player, Panels: panels})

	if m.Panel() != nil {
		t.Fatalf("panel should start unset")
	}

	h := models.DefaultHUD()
	h.FloatingPos = &models.PanelPosition{X: 10, Y: 20}
	m.Apply(ctx, Snapshot{HUD: h, Exists: true})
	if p := m.Panel(); p == nil || *p != (models.PanelPosition{X: 10, Y: 20}) {
		t.Fatalf("shared panel = %+v", p)
	}

	if err := m.SetLocalPanelPosition(models.PanelPosition{X: 1, Y: 2}); err != nil {
		t.Fatalf("set local: %v", err)
	}
	if p := m.Panel(); *p != (models.PanelPosition{X: 1, Y: 2}) {
		t.Fatalf("local panel = %+v", p)
	}

	reloaded := NewMirror(&fakeMirrorApp{}, MirrorConfig{Actor: player, Panels: panels})
	if p := reloaded.Panel(); p == nil || *p != (models.PanelPosition{X: 1, Y: 2}) {
		t.Fatalf("override not persisted: %+v", p)
	}
}

func TestTimerWatcherConvergesStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(t0)
	store := docstore.NewMemoryWithClock(clock)
	defer store.Close()
	app := NewApp(NewRepository(store), nil, actor.NewAuthorizer(nil), clock, Permissive)

	if err := app.StartTimer(ctx, actor.System, 5); err != nil {
		t.Fatalf("start: %v", err)
	}

	m := NewMirror(app, MirrorConfig{Actor: actor.System, Clock: clock})
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for ticker: %v", err)
	}
	waitFor(t, func() bool { return m.View().Running })

	clock.Advance(5 * time.Second)
	waitFor(t, func() bool {
		state, err := app.State(ctx)
		return err == nil && !state.Timer.Running && state.Timer.Remaining == 5
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
