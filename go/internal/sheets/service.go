package sheets

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/actor"
	"github.com/mcdev12/tavern/go/internal/docstore"
)

// Service exposes character sheets over HTTP. Writes are limited to the master.
type Service struct {
	repo *Repository
	auth *actor.Authorizer
}

// NewService creates a new sheets service
func NewService(repo *Repository, auth *actor.Authorizer) *Service {
	return &Service{repo: repo, auth: auth}
}

// Routes mounts GET and PUT /{playerID}.
func (s *Service) Routes(r chi.Router) {
	r.Get("/{playerID}", s.handleGet)
	r.Put("/{playerID}", s.handlePut)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "playerID")
	sheet, err := s.repo.Get(r.Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, docstore.ErrInvalidPath):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		log.Error().Err(err).Str("player_id", id).Msg("failed to read sheet")
		http.Error(w, "failed to read sheet", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

func (s *Service) handlePut(w http.ResponseWriter, r *http.Request) {
	if !s.auth.IsPrivileged(actor.FromContext(r.Context())) {
		http.Error(w, "only the master can edit sheets", http.StatusForbidden)
		return
	}
	id := chi.URLParam(r, "playerID")
	var sheet docstore.Document
	if err := json.NewDecoder(r.Body).Decode(&sheet); err != nil {
		http.Error(w, "invalid sheet body", http.StatusBadRequest)
		return
	}
	err := s.repo.Put(r.Context(), id, sheet)
	switch {
	case errors.Is(err, docstore.ErrInvalidPath):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		log.Error().Err(err).Str("player_id", id).Msg("failed to write sheet")
		http.Error(w, "failed to write sheet", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
