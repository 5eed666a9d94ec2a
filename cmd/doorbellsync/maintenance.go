package main

import (
	"context"
	"time"

	"github.com/nerrad567/doorbell-sync/internal/device"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/logging"
)

// maintenanceInterval is how often state history is pruned.
const maintenanceInterval = time.Hour

// runMaintenance prunes state history once at startup and then hourly
// until ctx is cancelled.
func runMaintenance(ctx context.Context, history device.StateHistoryRepository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	pruneHistory(ctx, history, retention, log)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneHistory(ctx, history, retention, log)
		}
	}
}

func pruneHistory(ctx context.Context, history device.StateHistoryRepository, retention time.Duration, log *logging.Logger) {
	removed, err := history.PruneHistory(ctx, retention)
	if err != nil {
		log.Warn("state history prune failed", "error", err)
		return
	}
	if removed > 0 {
		log.Info("state history pruned", "removed", removed, "retention", retention)
	}
}
