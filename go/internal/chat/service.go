package chat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/actor"
	"github.com/mcdev12/tavern/go/internal/gateway"
	"github.com/mcdev12/tavern/go/internal/models"
)

// StreamRoom is the gateway room chat websockets join.
const StreamRoom = "chat"

// StreamMessage is sent on /ws/chat: the history once, then every new message.
type StreamMessage struct {
	Type     string               `json:"type"` // "history" or "message"
	Messages []models.ChatMessage `json:"messages,omitempty"`
	Message  *models.ChatMessage  `json:"message,omitempty"`
}

// Service handles chat HTTP requests
type Service struct {
	app *App
	cm  *gateway.ConnectionManager
}

// NewService creates a new chat service
func NewService(app *App, cm *gateway.ConnectionManager) *Service {
	return &Service{app: app, cm: cm}
}

func (s *Service) Routes(r chi.Router) {
	r.Get("/messages", s.handleList)
	r.Post("/messages", s.handlePost)
}

type postRequest struct {
	Text string `json:"text"`
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	msgs, err := s.app.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list chat messages")
		http.Error(w, "chat store read failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Service) handlePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := s.app.Post(r.Context(), actor.FromContext(r.Context()), req.Text)
	if err != nil {
		if IsValidation(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("failed to post chat message")
		http.Error(w, "chat store write failed", http.StatusBadGateway)
		return
	}

	if s.cm != nil {
		s.cm.Broadcast(StreamRoom, StreamMessage{Type: "message", Message: &msg})
	}
	writeJSON(w, http.StatusCreated, msg)
}

// HandleStream upgrades to a websocket that receives the recent history, then new messages.
func (s *Service) HandleStream(w http.ResponseWriter, r *http.Request) {
	who := actor.FromContext(r.Context())
	conn, err := s.cm.UpgradeConnection(w, r, StreamRoom, who, nil)
	if err != nil {
		log.Error().Err(err).Str("user_id", who.ID).Msg("failed to upgrade chat stream")
		return
	}
	msgs, err := s.app.Recent(r.Context(), 0)
	if err != nil {
		log.Error().Err(err).Msg("failed to load chat history for stream")
		return
	}
	s.cm.SendToConnection(conn, StreamMessage{Type: "history", Messages: msgs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
