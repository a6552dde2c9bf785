package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Client puts lendflow tasks on the queue.
type Client struct {
	queue *asynq.Client
}

// NewClient opens a queue client. The connection is made lazily.
func NewClient(opts asynq.RedisClientOpt) *Client {
	return &Client{queue: asynq.NewClient(opts)}
}

// EnqueueNotify queues one notification mail.
func (c *Client) EnqueueNotify(ctx context.Context, payload NotifyPayload) error {
	task, err := NewNotifyTask(payload)
	if err != nil {
		return fmt.Errorf("jobs: build notify task: %w", err)
	}
	if _, err := c.queue.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("jobs: enqueue notify %s: %w", payload.PendingActionID, err)
	}
	return nil
}

// EnqueueCleanup queues an idempotency cleanup run outside the cron schedule.
func (c *Client) EnqueueCleanup(ctx context.Context, retention time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewIdempotencyCleanupTask(retention)
	if err != nil {
		return nil, fmt.Errorf("jobs: build cleanup task: %w", err)
	}
	info, err := c.queue.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("jobs: enqueue cleanup: %w", err)
	}
	return info, nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.queue.Close()
}
