package pendingaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendflow/lendflow/internal/platform/db"
	"github.com/lendflow/lendflow/internal/tenancy"
	"github.com/lendflow/lendflow/internal/users"
)

const columns = `id, action_type, tenant_id, payload, dedupe_key, requester_id, status, reviewer_id,
review_remarks, requested_at, reviewed_at, target_record_id, attempts, last_error, claimed_at, updated_at`

// Repository persists pending actions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	q    db.Querier
}

// NewRepository constructs a repository on the pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// Insert stores a new pending action. The partial unique index on open
// actions turns a concurrent duplicate into ErrDuplicateRequest.
func (r *Repository) Insert(ctx context.Context, pa PendingAction) (PendingAction, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO pending_actions
(id, action_type, tenant_id, payload, dedupe_key, requester_id, status, requested_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING `+columns,
		pa.ID, string(pa.ActionType), pa.TenantID, []byte(pa.Payload), pa.DedupeKey, pa.RequesterID, string(pa.Status), pa.RequestedAt, pa.UpdatedAt)
	out, err := scan(row)
	switch {
	case db.IsUniqueViolation(err, "pending_actions_open_target_idx"):
		return PendingAction{}, ErrDuplicateRequest
	case db.IsForeignKeyViolation(err, "pending_actions_tenant_id_fkey"):
		return PendingAction{}, tenancy.ErrTenantNotFound
	}
	return out, err
}

// Get fetches one pending action.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (PendingAction, error) {
	out, err := scan(r.q.QueryRow(ctx, `SELECT `+columns+` FROM pending_actions WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingAction{}, ErrNotFound
	}
	return out, err
}

// FindOpen looks for a PENDING or EXECUTING action with the same target.
func (r *Repository) FindOpen(ctx context.Context, tenantID int64, t ActionType, dedupeKey string) (PendingAction, bool, error) {
	out, err := scan(r.q.QueryRow(ctx, `SELECT `+columns+` FROM pending_actions
WHERE tenant_id=$1 AND action_type=$2 AND dedupe_key=$3 AND status IN ('PENDING', 'EXECUTING')`,
		tenantID, string(t), dedupeKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingAction{}, false, nil
	}
	if err != nil {
		return PendingAction{}, false, err
	}
	return out, true, nil
}

// List returns one page of a tenant's pending actions, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]PendingAction, int, error) {
	where := []string{"tenant_id=$1"}
	args := []any{f.TenantID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.ActionType != "" {
		args = append(args, string(f.ActionType))
		where = append(where, fmt.Sprintf("action_type=$%d", len(args)))
	}
	if f.RequesterID != 0 {
		args = append(args, f.RequesterID)
		where = append(where, fmt.Sprintf("requester_id=$%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM pending_actions WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := len(args)
	args = append(args, f.PerPage, (f.Page-1)*f.PerPage)
	rows, err := r.q.Query(ctx, fmt.Sprintf(`SELECT %s FROM pending_actions WHERE %s
ORDER BY requested_at DESC, id LIMIT $%d OFFSET $%d`, columns, cond, page+1, page+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PendingAction
	for rows.Next() {
		pa, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, pa)
	}
	return out, total, rows.Err()
}

// Claim takes the execution claim on a PENDING action, or on an EXECUTING
// one whose claim is older than staleBefore.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, at, staleBefore time.Time) (PendingAction, bool, error) {
	out, err := scan(r.q.QueryRow(ctx, `UPDATE pending_actions SET status='EXECUTING', claimed_at=$2, updated_at=$2
WHERE id=$1 AND (status='PENDING' OR (status='EXECUTING' AND claimed_at < $3))
RETURNING `+columns, id, at, staleBefore))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingAction{}, false, nil
	}
	if err != nil {
		return PendingAction{}, false, err
	}
	return out, true, nil
}

// Apply updates the action only while it is still in from.
func (r *Repository) Apply(ctx context.Context, id uuid.UUID, from Status, ch Change) (PendingAction, bool, error) {
	return apply(ctx, r.q, id, from, ch)
}

// WithTx runs fn in a repeatable-read transaction whose store writes users
// and role assignments alongside the pending action.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			tx:      tx,
			users:   users.WithQuerier(tx),
			tenancy: tenancy.WithQuerier(tx),
		})
	})
}

type txRepo struct {
	tx      pgx.Tx
	users   *users.Repository
	tenancy *tenancy.Repository
}

func (t *txRepo) Apply(ctx context.Context, id uuid.UUID, from Status, ch Change) (PendingAction, bool, error) {
	return apply(ctx, t.tx, id, from, ch)
}

func (t *txRepo) FindActiveUserByEmail(ctx context.Context, email string) (users.User, bool, error) {
	return t.users.FindActiveByEmail(ctx, email)
}

func (t *txRepo) CreateUser(ctx context.Context, u users.User) (users.User, error) {
	return t.users.Create(ctx, u)
}

func (t *txRepo) GetUser(ctx context.Context, id int64) (users.User, error) {
	return t.users.Get(ctx, id)
}

func (t *txRepo) EnsureAssignment(ctx context.Context, a tenancy.Assignment) (tenancy.Assignment, error) {
	existing, ok, err := t.tenancy.FindActiveAssignment(ctx, a.ActorID, a.Role, a.TenantID)
	if err != nil {
		return tenancy.Assignment{}, err
	}
	if ok {
		return existing, nil
	}
	return t.tenancy.InsertAssignment(ctx, a)
}

func apply(ctx context.Context, q db.Querier, id uuid.UUID, from Status, ch Change) (PendingAction, bool, error) {
	attempted := 0
	if ch.Attempted {
		attempted = 1
	}
	out, err := scan(q.QueryRow(ctx, `UPDATE pending_actions SET
	status=$3,
	reviewer_id=COALESCE($4, reviewer_id),
	review_remarks=COALESCE($5, review_remarks),
	reviewed_at=COALESCE($6, reviewed_at),
	target_record_id=COALESCE($7, target_record_id),
	last_error=CASE WHEN $12::boolean THEN NULL ELSE COALESCE($8, last_error) END,
	attempts=attempts+$9,
	claimed_at=CASE WHEN $3='EXECUTING' THEN claimed_at ELSE NULL END,
	updated_at=$10
WHERE id=$1 AND status=$2 AND ($11::timestamptz IS NULL OR claimed_at=$11)
RETURNING `+columns,
		id, string(from), string(ch.To), ch.ReviewerID, ch.Remarks, ch.ReviewedAt, ch.TargetRecordID, ch.LastError, attempted, ch.At, ch.ClaimedAt, ch.ClearError))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingAction{}, false, nil
	}
	if err != nil {
		return PendingAction{}, false, err
	}
	return out, true, nil
}

func scan(row pgx.Row) (PendingAction, error) {
	var (
		pa         PendingAction
		actionType string
		status     string
		payload    []byte
	)
	err := row.Scan(&pa.ID, &actionType, &pa.TenantID, &payload, &pa.DedupeKey, &pa.RequesterID, &status, &pa.ReviewerID,
		&pa.ReviewRemarks, &pa.RequestedAt, &pa.ReviewedAt, &pa.TargetRecordID, &pa.Attempts, &pa.LastError, &pa.ClaimedAt, &pa.UpdatedAt)
	if err != nil {
		return PendingAction{}, err
	}
	pa.ActionType = ActionType(actionType)
	pa.Status = Status(status)
	pa.Payload = payload
	return pa, nil
}
