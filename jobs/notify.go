package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/lendflow/lendflow/internal/observability"
)

// NotifyJob delivers pending action mail.
type NotifyJob struct {
	mailer  Mailer
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewNotifyJob wires the notify handler.
func NewNotifyJob(mailer Mailer, metrics *observability.Metrics, logger *slog.Logger) *NotifyJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyJob{mailer: mailer, metrics: metrics, logger: logger}
}

// Handle processes a notify task. Malformed payloads are not retried.
func (j *NotifyJob) Handle(ctx context.Context, task *asynq.Task) error {
	tracker := j.metrics.Track(TaskPendingActionNotify)
	var payload NotifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		j.logger.Error("notify: decode payload", slog.Any("error", err))
		return tracker.End(fmt.Errorf("decode notify payload: %v: %w", err, asynq.SkipRetry))
	}
	if len(payload.Recipients) == 0 {
		return tracker.End(nil)
	}
	if err := j.mailer.Send(ctx, payload.Recipients, payload.Subject, payload.Body); err != nil {
		j.logger.Warn("notify: send", slog.String("event", payload.Event), slog.String("pending_action_id", payload.PendingActionID.String()), slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("notify: sent", slog.String("event", payload.Event), slog.String("pending_action_id", payload.PendingActionID.String()), slog.Int("recipients", len(payload.Recipients)))
	return tracker.End(nil)
}

// HandleNotifyTask adapts Handle to asynq.HandlerFunc.
func (j *NotifyJob) HandleNotifyTask(ctx context.Context, task *asynq.Task) error {
	return j.Handle(ctx, task)
}
