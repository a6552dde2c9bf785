package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueCritical carries notifications people are waiting on.
	QueueCritical = "critical"
	// QueueDefault carries maintenance work.
	QueueDefault = "default"
	// TaskPendingActionNotify mails people about a pending action.
	TaskPendingActionNotify = "pending_action:notify"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var queueOrder = []string{QueueCritical, QueueDefault}

// QueueWeights returns the worker's queue priorities. Critical tasks are
// picked three times as often as default ones.
func QueueWeights() map[string]int {
	return map[string]int{QueueCritical: 6, QueueDefault: 2}
}

// NotifyPayload is one mail about a pending action. Recipients are resolved
// when the task is enqueued.
type NotifyPayload struct {
	Event           string    `json:"event"`
	PendingActionID uuid.UUID `json:"pending_action_id"`
	TenantID        int64     `json:"tenant_id"`
	Recipients      []string  `json:"recipients"`
	Subject         string    `json:"subject"`
	Body            string    `json:"body"`
}

// NewNotifyTask constructs a notify task.
func NewNotifyTask(payload NotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPendingActionNotify, data, asynq.Queue(QueueCritical), asynq.MaxRetry(5), asynq.Timeout(time.Minute)), nil
}

// CleanupPayload configures an idempotency cleanup run.
type CleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}
