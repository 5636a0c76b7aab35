package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/robdel12/orbitdock/internal/hooks"
)

// handleHook decodes a hook payload and hands it to the ingestor, returning
// 204 immediately; the CLI's hook must never block on the
// daemon actually processing the message.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	var p hooks.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		log.Warn().Err(err).Msg("hook: malformed payload")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.hooks.Ingest(p)
	w.WriteHeader(http.StatusNoContent)
}
