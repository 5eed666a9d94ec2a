package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleDeviceAction runs turn_on, turn_off, toggle, siren_on or siren_off
// against a device. The provider call is synchronous; the response carries
// the device state after the update.
func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	action := chi.URLParam(r, "action")

	if err := s.engine.Do(r.Context(), id, action); err != nil {
		writeDomainError(w, err, "failed to run action")
		return
	}

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"action": action,
		"device": dev,
	})
}
