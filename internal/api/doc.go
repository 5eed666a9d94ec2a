// Package api provides the HTTP REST API and WebSocket stream for
// doorbell-sync.
//
// It exposes the device registry, device actions, provider login and
// registration, and scheduler state to operators and dashboards.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
