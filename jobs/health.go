package jobs

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/lendflow/lendflow/internal/platform/httpx"
)

// QueueInspector is the part of asynq.Inspector the health endpoint reads.
type QueueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler serves queue statistics.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler builds the jobs handler. Without an inspector every queue
// reports empty.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

// QueueHealth is the counter snapshot of one queue.
type QueueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Scheduled int    `json:"scheduled"`
}

// QueueStats reads the counters of every lendflow queue. A queue that has
// never received a task counts as empty.
func QueueStats(inspector QueueInspector) ([]QueueHealth, error) {
	known := map[string]bool{}
	if inspector != nil {
		names, err := inspector.Queues()
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			known[name] = true
		}
	}
	stats := make([]QueueHealth, 0, len(queueOrder))
	for _, name := range queueOrder {
		entry := QueueHealth{Queue: name}
		if !known[name] {
			stats = append(stats, entry)
			continue
		}
		info, err := inspector.GetQueueInfo(name)
		switch {
		case err != nil:
			return nil, err
		case info != nil:
			entry.Pending = info.Pending
			entry.Active = info.Active
			entry.Retry = info.Retry
			entry.Archived = info.Archived
			entry.Scheduled = info.Scheduled
		}
		stats = append(stats, entry)
	}
	return stats, nil
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	stats, err := QueueStats(h.inspector)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Fail(w, http.StatusServiceUnavailable, "job queue unavailable", nil)
		return
	}
	httpx.OK(w, http.StatusOK, stats)
}
