package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// maxQueryParamLen limits path and query parameter length.
const maxQueryParamLen = 100

// registerRequest is the body of POST /devices.
type registerRequest struct {
	ProviderID string `json:"provider_id"`
	Name       string `json:"name"`
}

// updateRequest is the body of PATCH /devices/{id}. Absent fields are
// left unchanged.
type updateRequest struct {
	Name     *string `json:"name"`
	Enabled  *bool   `json:"enabled"`
	Position *int    `json:"position"`
}

// handleListDevices returns all devices in reconcile order.
//
// Query parameters:
//   - enabled: "true" or "false" to filter by enabled flag
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListDevices(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	if raw := r.URL.Query().Get("enabled"); raw != "" {
		want, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "enabled must be true or false")
			return
		}
		filtered := devices[:0]
		for _, d := range devices {
			if d.Enabled == want {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.registry.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleRegisterDevice registers a provider device.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ProviderID == "" {
		writeBadRequest(w, "provider_id is required")
		return
	}

	dev, err := s.engine.RegisterDevice(r.Context(), req.ProviderID, req.Name)
	if err != nil {
		writeDomainError(w, err, "failed to register device")
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice renames, enables/disables or reorders a device.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get device")
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name != nil {
		existing.Name = *req.Name
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}
	if req.Position != nil {
		existing.Position = *req.Position
	}

	if err := s.registry.UpdateDevice(r.Context(), existing); err != nil {
		writeDomainError(w, err, "failed to update device")
		return
	}

	updated, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteDevice removes a device by ID.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err, "failed to delete device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceStats returns device registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}
