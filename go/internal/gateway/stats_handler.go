package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// HandleConnectionStats returns statistics about active connections
func (cm *ConnectionManager) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(cm.ConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}
