package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/actor"
	"github.com/mcdev12/tavern/go/internal/gateway"
)

// Service exposes the relay over websocket and a read-only REST view
type Service struct {
	relay *Relay
	cm    *gateway.ConnectionManager
}

// NewService creates a new battle map service
func NewService(relay *Relay, cm *gateway.ConnectionManager) *Service {
	return &Service{relay: relay, cm: cm}
}

// Routes mounts the map endpoints under the caller's prefix.
func (s *Service) Routes(r chi.Router) {
	r.Get("/{mapID}/tokens", s.HandleTokens)
}

// HandleConnect upgrades /ws/maps/{mapID}. The client receives init first, then every
// accepted change to the map including its own.
func (s *Service) HandleConnect(w http.ResponseWriter, r *http.Request) {
	mapID := chi.URLParam(r, "mapID")
	if err := ValidateMapID(mapID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// load before upgrading so a store failure is still an HTTP error
	if _, err := s.relay.Board(r.Context(), mapID); err != nil {
		log.Error().Err(err).Str("map_id", mapID).Msg("failed to load board")
		http.Error(w, "map store read failed", http.StatusBadGateway)
		return
	}

	who := actor.FromContext(r.Context())
	conn, err := s.cm.UpgradeConnection(w, r, Room(mapID), who, s.relay.HandleClientMessage(mapID))
	if err != nil {
		log.Error().Err(err).Str("user_id", who.ID).Str("map_id", mapID).Msg("failed to upgrade map connection")
		return
	}

	err = s.relay.SendInit(r.Context(), mapID, func(event Event) {
		s.cm.SendToConnection(conn, event)
	})
	if err != nil {
		log.Error().Err(err).Str("map_id", mapID).Msg("failed to send init")
	}
}

// HandleTokens returns the current token list of a map.
func (s *Service) HandleTokens(w http.ResponseWriter, r *http.Request) {
	mapID := chi.URLParam(r, "mapID")
	b, err := s.relay.Board(r.Context(), mapID)
	if errors.Is(err, ErrInvalidMapID) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("map_id", mapID).Msg("failed to load board")
		http.Error(w, "map store read failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(InitPayload{Tokens: b.Tokens()}); err != nil {
		log.Error().Err(err).Msg("failed to encode tokens response")
	}
}
