package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lendflow/lendflow/internal/observability"
)

// DefaultIdempotencyRetention is used when a cleanup task carries no retention.
const DefaultIdempotencyRetention = 72 * time.Hour

// IdempotencyPruner removes idempotency keys older than a retention window.
type IdempotencyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob prunes idempotency keys on a schedule.
type CleanupJob struct {
	store   IdempotencyPruner
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewCleanupJob wires the cleanup handler.
func NewCleanupJob(store IdempotencyPruner, metrics *observability.Metrics, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{store: store, metrics: metrics, logger: logger}
}

// Handle executes one cleanup run.
func (j *CleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	tracker := j.metrics.Track(TaskIdempotencyCleanup)
	var payload CleanupPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return tracker.End(fmt.Errorf("decode cleanup payload: %v: %w", err, asynq.SkipRetry))
		}
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	removed, err := j.store.Cleanup(ctx, retention)
	if err != nil {
		j.logger.Error("idempotency cleanup", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("idempotency cleanup done", slog.Duration("retention", retention), slog.Int64("removed", removed))
	return tracker.End(nil)
}
