package hud

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/actor"
	"github.com/mcdev12/tavern/go/internal/gateway"
	"github.com/mcdev12/tavern/go/internal/models"
)

// StreamRoom is the gateway room every HUD websocket joins.
const StreamRoom = "hud"

// Service exposes the HUD over HTTP and streams every change to websocket clients
type Service struct {
	app   *App
	cm    *gateway.ConnectionManager
	clock clockwork.Clock
}

// StreamMessage is what /ws/hud sends on connect and after every change.
type StreamMessage struct {
	Type      string     `json:"type"`
	HUD       models.HUD `json:"hud"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewService creates a new HUD service
func NewService(app *App, cm *gateway.ConnectionManager, clock clockwork.Clock) *Service {
	return &Service{app: app, cm: cm, clock: clock}
}

// Start forwards record changes to the stream room until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	cancel, err := s.app.Watch(ctx, func(snap Snapshot) {
		s.cm.Broadcast(StreamRoom, s.message(snap.HUD))
	})
	if err != nil {
		return err
	}
	defer cancel()

	log.Info().Msg("hud stream started")
	<-ctx.Done()
	log.Info().Msg("hud stream stopped")
	return nil
}

// Routes mounts the REST endpoints under the caller's prefix.
func (s *Service) Routes(r chi.Router) {
	r.Get("/", s.handleState)
	r.Post("/turn", s.handleTurn)
	r.Post("/xp/adjust", s.handleAdjustXP)
	r.Post("/xp/set", s.handleSetXP)
	r.Post("/world/phase", s.handlePhase)
	r.Post("/world/date", s.handleDate)
	r.Post("/timer/start", s.handleStartTimer)
	r.Post("/timer/stop", s.handleStopTimer)
	r.Post("/timer/reset", s.handleResetTimer)
	r.Post("/panel", s.handlePanel)
}

// HandleStream upgrades to a websocket that receives the record on connect and on every change.
func (s *Service) HandleStream(w http.ResponseWriter, r *http.Request) {
	who := actor.FromContext(r.Context())
	conn, err := s.cm.UpgradeConnection(w, r, StreamRoom, who, nil)
	if err != nil {
		log.Error().Err(err).Str("user_id", who.ID).Msg("failed to upgrade hud stream")
		return
	}
	state, err := s.app.State(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load hud for new stream")
		return
	}
	s.cm.SendToConnection(conn, s.message(state))
}

func (s *Service) message(h models.HUD) StreamMessage {
	now := s.clock.Now()
	return StreamMessage{Type: "hud", HUD: derive(h, now), Timestamp: now.UTC()}
}

// derive fills in the live remaining seconds of a running timer. A timer that ran out reads
// as stopped even before the reset lands in the store.
func derive(h models.HUD, now time.Time) models.HUD {
	h.Timer.Remaining = h.Timer.RemainingAt(now)
	if h.Timer.Expired(now) {
		h.Timer.Running = false
	}
	return h
}

type turnRequest struct {
	Turn *models.TurnRef `json:"turn"`
}

type adjustXPRequest struct {
	PlayerID string `json:"playerId"`
	Delta    int    `json:"delta"`
}

type setXPRequest struct {
	PlayerID string `json:"playerId"`
	XP       int    `json:"xp"`
	Level    int    `json:"level"`
}

type phaseRequest struct {
	Phase models.Phase `json:"phase"`
}

type timerRequest struct {
	Seconds int `json:"seconds"`
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, nil)
}

func (s *Service) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.respond(w, r, s.app.AssignTurn(r.Context(), actor.FromContext(r.Context()), req.Turn))
}

func (s *Service) handleAdjustXP(w http.ResponseWriter, r *http.Request) {
	var req adjustXPRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.respond(w, r, s.app.AdjustXP(r.Context(), actor.FromContext(r.Context()), req.PlayerID, req.Delta))
}

func (s *Service) handleSetXP(w http.ResponseWriter, r *http.Request) {
	var req setXPRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.respond(w, r, s.app.SetXPDirect(r.Context(), actor.FromContext(r.Context()), req.PlayerID, req.XP, req.Level))
}

func (s *Service) handlePhase(w http.ResponseWriter, r *http.Request) {
	var req phaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.respond(w, r, s.app.SetWorldPhase(r.Context(), actor.FromContext(r.Context()), req.Phase))
}

func (s *Service) handleDate(w http.ResponseWriter, r *http.Request) {
	var req DateChange
	if !decodeBody(w, r, &req) {
		return
	}
	s.respond(w, r, s.app.SetWorldDate(r.Context(), actor.FromContext(r.Context()), req))
}

func (s *Service) handleStartTimer(w http.ResponseWriter, r *http.Request) {
	var req timerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.respond(w, r, s.app.StartTimer(r.Context(), actor.FromContext(r.Context()), req.Seconds))
}

func (s *Service) handleStopTimer(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.app.StopTimer(r.Context(), actor.FromContext(r.Context())))
}

func (s *Service) handleResetTimer(w http.ResponseWriter, r *http.Request) {
	var req timerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.respond(w, r, s.app.ResetTimer(r.Context(), actor.FromContext(r.Context()), req.Seconds))
}

func (s *Service) handlePanel(w http.ResponseWriter, r *http.Request) {
	var req models.PanelPosition
	if !decodeBody(w, r, &req) {
		return
	}
	s.respond(w, r, s.app.PublishSharedPanelPosition(r.Context(), actor.FromContext(r.Context()), req))
}

// respond maps an operation error to a status and otherwise answers with the current record.
func (s *Service) respond(w http.ResponseWriter, r *http.Request, opErr error) {
	if opErr != nil {
		if IsValidation(opErr) {
			http.Error(w, opErr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "hud store write failed", http.StatusBadGateway)
		return
	}

	state, err := s.app.State(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load hud")
		http.Error(w, "hud store read failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(derive(state, s.clock.Now())); err != nil {
		log.Error().Err(err).Msg("failed to encode hud response")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
