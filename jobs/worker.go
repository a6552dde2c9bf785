package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const defaultConcurrency = 5

// Route binds a task type to the function that processes it.
type Route struct {
	TaskType string
	Handle   asynq.HandlerFunc
}

// Schedule enqueues Task on every tick of the Cron expression (UTC).
type Schedule struct {
	Cron string
	Task *asynq.Task
	Opts []asynq.Option
}

// WorkerConfig collects what the worker process needs.
type WorkerConfig struct {
	Redis       asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Routes      []Route
	Schedules   []Schedule
}

// Worker consumes the lendflow queues and runs the cron schedules.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// NewWorker validates the routes and schedules and prepares the server.
// Nothing connects to Redis until Run.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	mux := asynq.NewServeMux()
	for _, route := range cfg.Routes {
		if route.TaskType == "" || route.Handle == nil {
			return nil, fmt.Errorf("worker: incomplete route %q", route.TaskType)
		}
		mux.HandleFunc(route.TaskType, route.Handle)
	}
	for _, s := range cfg.Schedules {
		if s.Cron == "" || s.Task == nil {
			return nil, errors.New("worker: schedule needs a cron spec and a task")
		}
	}

	w := &Worker{mux: mux, logger: logger}
	w.server = asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency:  concurrency,
		Queues:       QueueWeights(),
		ErrorHandler: asynq.ErrorHandlerFunc(w.reportFailure),
	})
	if len(cfg.Schedules) == 0 {
		return w, nil
	}
	w.scheduler = asynq.NewScheduler(cfg.Redis, &asynq.SchedulerOpts{Location: time.UTC})
	for _, s := range cfg.Schedules {
		if _, err := w.scheduler.Register(s.Cron, s.Task, s.Opts...); err != nil {
			return nil, fmt.Errorf("worker: schedule %s: %w", s.Task.Type(), err)
		}
	}
	return w, nil
}

func (w *Worker) reportFailure(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	w.logger.Warn("job failed",
		slog.String("type", task.Type()),
		slog.Int("retried", retried),
		slog.Int("max_retry", maxRetry),
		slog.Any("error", err))
}

// Run processes tasks until ctx is cancelled. Signals are left to the
// caller's context; the scheduler stops before the server drains.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return errors.New("worker: not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("worker: start server: %w", err)
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return fmt.Errorf("worker: start scheduler: %w", err)
		}
	}
	w.logger.Info("worker started")

	<-ctx.Done()
	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
	w.logger.Info("worker stopped")
	return ctx.Err()
}
