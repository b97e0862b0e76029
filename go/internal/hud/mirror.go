package hud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/docstore"
	"github.com/mcdev12/tavern/go/internal/models"
)

// MirrorApp is what a mirror needs from the HUD app
type MirrorApp interface {
	IsPrivileged(who models.Actor) bool
	Ensure(ctx context.Context, who models.Actor) error
	ResetTimer(ctx context.Context, who models.Actor, seconds int) error
	Watch(ctx context.Context, fn func(Snapshot)) (docstore.CancelFunc, error)
}

// View is what a client renders: the record plus the locally derived countdown and panel.
type View struct {
	HUD       models.HUD            `json:"hud"`
	Remaining int                   `json:"remaining"`
	Running   bool                  `json:"running"`
	Panel     *models.PanelPosition `json:"panel"`
}

type MirrorConfig struct {
	Actor    models.Actor
	Clock    clockwork.Clock
	Panels   PanelStore // optional
	OnChange func(View) // optional, called outside the mirror's lock
}

// Mirror keeps one client's copy of the record and counts the timer down locally between
// updates. A privileged mirror also resets an expired timer so every client converges.
type Mirror struct {
	app        MirrorApp
	actor      models.Actor
	privileged bool
	clock      clockwork.Clock
	panels     PanelStore
	onChange   func(View)

	mu          sync.Mutex
	hud         models.HUD
	ensureTried bool
	run         *time.Time // startedAt of the run the anchor belongs to
	anchor      time.Time
	remaining   int
	running     bool
	resetFor    *time.Time
	local       *models.PanelPosition
}

func NewMirror(app MirrorApp, cfg MirrorConfig) *Mirror {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Mirror{
		app:        app,
		actor:      cfg.Actor,
		privileged: app.IsPrivileged(cfg.Actor),
		clock:      clock,
		panels:     cfg.Panels,
		onChange:   cfg.OnChange,
		hud:        models.DefaultHUD(),
	}
	if m.panels != nil {
		pos, err := m.panels.Load()
		if err != nil {
			log.Warn().Err(err).Msg("failed to load local panel position")
		}
		m.local = pos
	}
	return m
}

// Run follows the record and recomputes the countdown every second until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	cancel, err := m.app.Watch(ctx, func(s Snapshot) { m.Apply(ctx, s) })
	if err != nil {
		return fmt.Errorf("failed to watch hud: %w", err)
	}
	defer cancel()

	ticker := m.clock.NewTicker(time.Second)
	defer ticker.Stop()

	log.Info().
		Str("user_id", m.actor.ID).
		Bool("privileged", m.privileged).
		Msg("hud mirror started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("user_id", m.actor.ID).Msg("hud mirror stopped")
			return nil
		case <-ticker.Chan():
			m.Tick(ctx)
		}
	}
}

// Apply takes in a newly observed version of the record.
func (m *Mirror) Apply(ctx context.Context, s Snapshot) {
	m.mu.Lock()
	m.hud = s.HUD

	t := s.HUD.Timer
	if t.Running && t.StartedAt != nil {
		if m.run == nil || !m.run.Equal(*t.StartedAt) {
			// re-express startedAt on this clock so later reads measure monotonic elapsed time
			now := m.clock.Now()
			m.anchor = now.Add(-now.Sub(*t.StartedAt))
			started := *t.StartedAt
			m.run = &started
		}
	} else {
		m.run = nil
	}

	ensure := !s.Exists && m.privileged && !m.ensureTried
	if ensure {
		m.ensureTried = true
	}
	resetTo, reset := m.recomputeLocked()
	view := m.viewLocked()
	m.mu.Unlock()

	if ensure {
		if err := m.app.Ensure(ctx, m.actor); err != nil {
			log.Error().Err(err).Msg("failed to create hud record")
		}
	}
	m.after(ctx, resetTo, reset, view)
}

// Tick recomputes the countdown from the anchor.
func (m *Mirror) Tick(ctx context.Context) {
	m.mu.Lock()
	resetTo, reset := m.recomputeLocked()
	view := m.viewLocked()
	m.mu.Unlock()

	m.after(ctx, resetTo, reset, view)
}

// View returns the current derived state.
func (m *Mirror) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// Panel returns the local override when set, else the shared position.
func (m *Mirror) Panel() *models.PanelPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.panelLocked()
}

// SetLocalPanelPosition stores an override on this machine only; it is never broadcast.
func (m *Mirror) SetLocalPanelPosition(pos models.PanelPosition) error {
	if m.panels != nil {
		if err := m.panels.Save(pos); err != nil {
			return fmt.Errorf("failed to save local panel position: %w", err)
		}
	}
	m.mu.Lock()
	m.local = &pos
	view := m.viewLocked()
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(view)
	}
	return nil
}

// recomputeLocked refreshes remaining/running and reports whether this mirror should issue
// the reset for an expired run, and to what duration.
func (m *Mirror) recomputeLocked() (int, bool) {
	t := m.hud.Timer
	if m.run == nil {
		m.running = false
		m.remaining = t.Remaining
		return 0, false
	}

	m.remaining = models.RemainingFromElapsed(t.Duration, m.clock.Since(m.anchor))
	m.running = m.remaining > 0
	if m.running || !m.privileged {
		return 0, false
	}
	if m.resetFor != nil && m.resetFor.Equal(*m.run) {
		return 0, false
	}
	run := *m.run
	m.resetFor = &run
	return t.Duration, true
}

func (m *Mirror) viewLocked() View {
	return View{
		HUD:       m.hud,
		Remaining: m.remaining,
		Running:   m.running,
		Panel:     m.panelLocked(),
	}
}

func (m *Mirror) panelLocked() *models.PanelPosition {
	if m.local != nil {
		pos := *m.local
		return &pos
	}
	if m.hud.FloatingPos != nil {
		pos := *m.hud.FloatingPos
		return &pos
	}
	return nil
}

func (m *Mirror) after(ctx context.Context, resetTo int, reset bool, view View) {
	if reset {
		log.Info().Int("duration", resetTo).Msg("timer expired, resetting")
		if err := m.app.ResetTimer(ctx, m.actor, resetTo); err != nil {
			log.Error().Err(err).Msg("failed to reset expired timer")
		}
	}
	if m.onChange != nil {
		m.onChange(view)
	}
}
