package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lendflow/lendflow/internal/platform/db"
)

// AuditLog is one lifecycle event on a user or role assignment.
type AuditLog struct {
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// AuditLogger appends to audit_logs.
type AuditLogger struct {
	q db.Querier
}

// NewAuditLogger builds a logger over a pool or a transaction.
func NewAuditLogger(q db.Querier) *AuditLogger {
	return &AuditLogger{q: q}
}

// Record stores entry. Meta is kept as JSONB and left NULL when empty.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	switch {
	case entry.Action == "":
		return errors.New("audit action required")
	case entry.Entity == "" || entry.EntityID == "":
		return errors.New("audit entity required")
	}
	var meta []byte
	if len(entry.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(entry.Meta); err != nil {
			return fmt.Errorf("shared: encode audit meta: %w", err)
		}
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	if _, err := l.q.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, meta, at); err != nil {
		return fmt.Errorf("shared: record audit %s: %w", entry.Action, err)
	}
	return nil
}
