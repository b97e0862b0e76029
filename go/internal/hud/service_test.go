package hud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/tavern/go/internal/actor"
	"github.com/mcdev12/tavern/go/internal/gateway"
	"github.com/mcdev12/tavern/go/internal/models"
)

func newTestRouter(app *App, clock clockwork.Clock) (*chi.Mux, *gateway.ConnectionManager) {
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	svc := NewService(app, cm, clock)
	r := chi.NewRouter()
	r.Use(actor.Middleware)
	r.Route("/api/hud", svc.Routes)
	r.Get("/ws/hud", svc.HandleStream)
	return r, cm
}

func do(t *testing.T, h http.Handler, method, path, email, body string) (*httptest.ResponseRecorder, models.HUD) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if email != "" {
		req.Header.Set("X-User-Email", email)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var state models.HUD
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
			t.Fatalf("decode %s: %v", rec.Body.String(), err)
		}
	}
	return rec, state
}

func TestServiceTimerEndpoints(t *testing.T) {
	f := newFixture(t, Permissive)
	r, _ := newTestRouter(f.app, f.clock)

	rec, state := do(t, r, http.MethodPost, "/api/hud/timer/start", "ana@example.com", `{"seconds":60}`)
	if rec.Code != http.StatusOK || state.Timer.Running {
		t.Fatalf("player start: code %d timer %+v", rec.Code, state.Timer)
	}

	rec, state = do(t, r, http.MethodPost, "/api/hud/timer/start", "gm@example.com", `{"seconds":60}`)
	if rec.Code != http.StatusOK || !state.Timer.Running || state.Timer.Remaining != 60 {
		t.Fatalf("master start: code %d timer %+v", rec.Code, state.Timer)
	}

	f.clock.Advance(15 * time.Second)
	_, state = do(t, r, http.MethodGet, "/api/hud/", "", "")
	if state.Timer.Remaining != 45 {
		t.Fatalf("derived remaining = %d, want 45", state.Timer.Remaining)
	}

	_, state = do(t, r, http.MethodPost, "/api/hud/timer/stop", "gm@example.com", `{}`)
	if state.Timer.Running || state.Timer.Remaining != 45 {
		t.Fatalf("stopped timer = %+v", state.Timer)
	}
}

func TestServiceValidationAndBodyErrors(t *testing.T) {
	f := newFixture(t, Permissive)
	r, _ := newTestRouter(f.app, f.clock)

	tests := []struct {
		path, body string
	}{
		{"/api/hud/world/phase", `{"phase":"dusk"}`},
		{"/api/hud/world/date", `{"day":0}`},
		{"/api/hud/timer/start", `{"seconds":-1}`},
		{"/api/hud/xp/adjust", `{"playerId":"","delta":5}`},
		{"/api/hud/turn", `not json`},
	}
	for _, tt := range tests {
		rec, _ := do(t, r, http.MethodPost, tt.path, "gm@example.com", tt.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s: code %d, want 400", tt.path, tt.body, rec.Code)
		}
	}
}

func TestServiceXPAndTurn(t *testing.T) {
	f := newFixture(t, Permissive)
	r, _ := newTestRouter(f.app, f.clock)

	do(t, r, http.MethodPost, "/api/hud/xp/set", "gm@example.com", `{"playerId":"p1","xp":95,"level":1}`)
	_, state := do(t, r, http.MethodPost, "/api/hud/xp/adjust", "gm@example.com", `{"playerId":"p1","delta":10}`)
	if got := state.XPFor("p1"); got != (models.XPEntry{XP: 5, Level: 2}) {
		t.Fatalf("xp = %+v", got)
	}

	_, state = do(t, r, http.MethodPost, "/api/hud/turn", "gm@example.com", `{"turn":{"id":"p1","nick":"Ana","email":"ana@example.com"}}`)
	if state.Turn == nil || state.Turn.Nick != "Ana" {
		t.Fatalf("turn = %+v", state.Turn)
	}
}

func TestServiceWriteFailureIsBadGateway(t *testing.T) {
	app := NewApp(failingRepo{}, nil, actor.NewAuthorizer([]string{"gm@example.com"}), clockwork.NewFakeClockAt(t0), Permissive)
	r, _ := newTestRouter(app, clockwork.NewFakeClockAt(t0))

	rec, _ := do(t, r, http.MethodPost, "/api/hud/world/phase", "gm@example.com", `{"phase":"night"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("code = %d, want 502", rec.Code)
	}
}

func TestStreamSendsStateAndChanges(t *testing.T) {
	f := newFixture(t, Permissive)
	r, cm := newTestRouter(f.app, f.clock)
	svc := NewService(f.app, cm, f.clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)
	go svc.Start(ctx)

	srv := httptest.NewServer(r)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/hud?nick=Ana", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	var first StreamMessage
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Type != "hud" {
		t.Fatalf("first message = %+v", first)
	}

	if err := f.app.SetWorldPhase(ctx, master, models.PhaseNight); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	for {
		var msg StreamMessage
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for change: %v", err)
		}
		if msg.HUD.World.Phase == models.PhaseNight {
			return
		}
	}
}

func TestServiceReportsExpiredTimerAsStopped(t *testing.T) {
	f := newFixture(t, Permissive)
	r, _ := newTestRouter(f.app, f.clock)

	rec, _ := do(t, r, http.MethodPost, "/api/hud/timer/start", "gm@example.com", `{"seconds":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: code %d", rec.Code)
	}

	f.clock.Advance(12 * time.Second)
	_, state := do(t, r, http.MethodGet, "/api/hud/", "", "")
	if state.Timer.Running || state.Timer.Remaining != 0 {
		t.Fatalf("expired timer = %+v", state.Timer)
	}
}
