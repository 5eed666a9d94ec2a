package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// loginRequest is the optional body of POST /provider/login.
type loginRequest struct {
	Force *bool `json:"force"`
}

// handleAvailableDevices lists provider devices not yet registered.
func (s *Server) handleAvailableDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.engine.AvailableDevices(r.Context())
	if err != nil {
		writeDomainError(w, err, "failed to list provider devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleProviderLogin re-authenticates with the provider. The login is
// forced unless the body says otherwise.
func (s *Server) handleProviderLogin(w http.ResponseWriter, r *http.Request) {
	force := true
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Force != nil {
		force = *req.Force
	}

	if err := s.engine.Login(r.Context(), force); err != nil {
		writeDomainError(w, err, "provider login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "force": force})
}
