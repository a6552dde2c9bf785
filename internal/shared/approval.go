package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lendflow/lendflow/internal/platform/db"
)

// ApprovalAction names one step in a maker-checker trail.
type ApprovalAction string

const (
	ApprovalSubmit          ApprovalAction = "SUBMIT"
	ApprovalApprove         ApprovalAction = "APPROVE"
	ApprovalReject          ApprovalAction = "REJECT"
	ApprovalCancel          ApprovalAction = "CANCEL"
	ApprovalExecutionFailed ApprovalAction = "EXECUTION_FAILED"
)

// Valid reports whether a is one of the known actions.
func (a ApprovalAction) Valid() bool {
	switch a {
	case ApprovalSubmit, ApprovalApprove, ApprovalReject, ApprovalCancel, ApprovalExecutionFailed:
		return true
	}
	return false
}

// ApprovalLog is one row of the trail. A zero At is stamped by the database.
type ApprovalLog struct {
	ID      int64          `json:"id"`
	Module  string         `json:"module"`
	RefID   uuid.UUID      `json:"ref_id"`
	ActorID int64          `json:"actor_id"`
	Action  ApprovalAction `json:"action"`
	Note    string         `json:"note,omitempty"`
	At      time.Time      `json:"at"`
}

// Validate reports every missing or unknown field at once.
func (l ApprovalLog) Validate() error {
	var errs []error
	if l.Module == "" {
		errs = append(errs, errors.New("approval module required"))
	}
	if l.RefID == uuid.Nil {
		errs = append(errs, errors.New("approval ref id required"))
	}
	if l.ActorID == 0 {
		errs = append(errs, errors.New("approval actor required"))
	}
	if !l.Action.Valid() {
		errs = append(errs, fmt.Errorf("approval action %q unknown", l.Action))
	}
	return errors.Join(errs...)
}

// ApprovalRecorder appends to and reads the approvals table.
type ApprovalRecorder struct {
	q      db.Querier
	logger *slog.Logger
}

// NewApprovalRecorder builds a recorder over a pool or a transaction.
func NewApprovalRecorder(q db.Querier, logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{q: q, logger: logger}
}

// Record appends one entry to the trail.
func (r *ApprovalRecorder) Record(ctx context.Context, entry ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW())) RETURNING id`,
		entry.Module, entry.RefID, entry.ActorID, string(entry.Action), entry.Note, at).Scan(&id)
	if err != nil {
		r.logger.Error("record approval",
			slog.String("module", entry.Module),
			slog.String("ref_id", entry.RefID.String()),
			slog.String("action", string(entry.Action)),
			slog.Any("error", err))
		return fmt.Errorf("shared: record approval: %w", err)
	}
	r.logger.Debug("approval recorded", slog.Int64("id", id), slog.String("action", string(entry.Action)))
	return nil
}

// List returns the trail of one reference, oldest first.
func (r *ApprovalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.q.Query(ctx, `SELECT id, module, ref_id, actor_id, action, note, at
FROM approvals WHERE module = $1 AND ref_id = $2 ORDER BY at, id`, module, ref)
	if err != nil {
		return nil, fmt.Errorf("shared: list approvals: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ApprovalLog, error) {
		var entry ApprovalLog
		err := row.Scan(&entry.ID, &entry.Module, &entry.RefID, &entry.ActorID, &entry.Action, &entry.Note, &entry.At)
		return entry, err
	})
}
