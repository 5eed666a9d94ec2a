package api

import "net/http"

// handleScheduler returns the poll scheduler state.
func (s *Server) handleScheduler(w http.ResponseWriter, _ *http.Request) {
	if s.scheduler == nil {
		writeServiceUnavailable(w, "scheduler not running")
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Stats())
}
