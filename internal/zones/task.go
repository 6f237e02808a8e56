package zones

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskRefresh is the asynq task type that reloads the zone cache.
const TaskRefresh = "zones:refresh"

// NewRefreshTask builds the periodic refresh task.
func NewRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskRefresh, nil)
}

// Refresher reloads a snapshot into its backing cache.
type Refresher interface {
	Refresh(ctx context.Context) (Snapshot, error)
}

// RefreshHandler handles TaskRefresh.
type RefreshHandler struct {
	Cache  Refresher
	Logger zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h RefreshHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	if h.Cache == nil {
		return fmt.Errorf("zones: refresh cache not configured: %w", asynq.SkipRetry)
	}
	snap, err := h.Cache.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh zones: %w", err)
	}
	h.Logger.Info().Int("zones", len(snap.Zones)).Int("default_methods", len(snap.Default.Methods)).Msg("zones_refreshed")
	return nil
}
