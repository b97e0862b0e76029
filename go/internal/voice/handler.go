package voice

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/actor"
)

type tokenRequest struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Name     string `json:"name"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// HandleToken serves POST /livekit/token. Identity and name default to the caller.
func (i *Issuer) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	who := actor.FromContext(r.Context())
	if req.Identity == "" {
		req.Identity = who.ID
	}
	if req.Name == "" {
		req.Name = who.Nick
	}

	token, err := i.Issue(req.Room, req.Identity, req.Name)
	switch {
	case errors.Is(err, ErrMissingRoom), errors.Is(err, ErrMissingIdentity):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrNotConfigured):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		log.Error().Err(err).Str("room", req.Room).Msg("failed to issue voice token")
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	log.Debug().Str("room", req.Room).Str("identity", req.Identity).Msg("voice token issued")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(tokenResponse{Token: token}); err != nil {
		log.Error().Err(err).Msg("failed to encode token response")
	}
}
