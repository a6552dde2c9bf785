package tenancy

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendflow/lendflow/internal/platform/db"
)

const assignmentColumns = `id, actor_id, role, tenant_id, assigned_by, assigned_at, revoked_at`

// Repository provides PostgreSQL backed persistence for tenants and role
// assignments.
type Repository struct {
	q db.Querier
}

// NewRepository constructs a repository on the pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool}
}

// WithQuerier binds the repository to q, typically an open transaction.
func WithQuerier(q db.Querier) *Repository {
	return &Repository{q: q}
}

// ListActiveAssignments returns the unrevoked assignments held by actorID.
// Deleted or deactivated actors hold none.
func (r *Repository) ListActiveAssignments(ctx context.Context, actorID int64) ([]Assignment, error) {
	rows, err := r.q.Query(ctx, `SELECT ra.id, ra.actor_id, ra.role, ra.tenant_id, ra.assigned_by, ra.assigned_at, ra.revoked_at
FROM role_assignments ra JOIN users u ON u.id = ra.actor_id AND u.deleted_at IS NULL AND u.is_active
WHERE ra.actor_id=$1 AND ra.revoked_at IS NULL ORDER BY ra.id`, actorID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

// ListTenantAssignments returns the unrevoked assignments scoped to tenantID.
func (r *Repository) ListTenantAssignments(ctx context.Context, tenantID int64) ([]Assignment, error) {
	rows, err := r.q.Query(ctx, `SELECT `+assignmentColumns+` FROM role_assignments
WHERE tenant_id=$1 AND revoked_at IS NULL ORDER BY actor_id, id`, tenantID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

// GetAssignment fetches one assignment, revoked or not.
func (r *Repository) GetAssignment(ctx context.Context, id int64) (Assignment, error) {
	row := r.q.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM role_assignments WHERE id=$1`, id)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, ErrAssignmentNotFound
	}
	return a, err
}

// InsertAssignment stores a new active assignment.
func (r *Repository) InsertAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO role_assignments (actor_id, role, tenant_id, assigned_by, assigned_at)
VALUES ($1, $2, $3, $4, $5) RETURNING `+assignmentColumns,
		a.ActorID, string(a.Role), a.TenantID, a.AssignedBy, a.AssignedAt)
	out, err := scanAssignment(row)
	if db.IsUniqueViolation(err, "role_assignments_active_idx") {
		return Assignment{}, ErrDuplicateAssignment
	}
	return out, err
}

// FindActiveAssignment returns the live assignment matching the
// (actor, role, tenant) triple.
func (r *Repository) FindActiveAssignment(ctx context.Context, actorID int64, role RoleType, tenantID *int64) (Assignment, bool, error) {
	row := r.q.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM role_assignments
WHERE actor_id=$1 AND role=$2 AND COALESCE(tenant_id, 0)=COALESCE($3::bigint, 0) AND revoked_at IS NULL`,
		actorID, string(role), tenantID)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, false, nil
	}
	if err != nil {
		return Assignment{}, false, err
	}
	return a, true, nil
}

// RevokeAssignment stamps revoked_at on an active assignment.
func (r *Repository) RevokeAssignment(ctx context.Context, id int64, at time.Time) (Assignment, error) {
	row := r.q.QueryRow(ctx, `UPDATE role_assignments SET revoked_at=$2
WHERE id=$1 AND revoked_at IS NULL RETURNING `+assignmentColumns, id, at)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetAssignment(ctx, id); getErr != nil {
			return Assignment{}, getErr
		}
		return Assignment{}, ErrAlreadyRevoked
	}
	return a, err
}

// GetTenant fetches one tenant.
func (r *Repository) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	var t Tenant
	err := r.q.QueryRow(ctx, `SELECT id, code, name, created_at FROM tenants WHERE id=$1`, id).
		Scan(&t.ID, &t.Code, &t.Name, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrTenantNotFound
	}
	return t, err
}

// ListTenants returns every tenant ordered by code.
func (r *Repository) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := r.q.Query(ctx, `SELECT id, code, name, created_at FROM tenants ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTenant inserts a tenant.
func (r *Repository) CreateTenant(ctx context.Context, t Tenant) (Tenant, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO tenants (code, name) VALUES ($1, $2) RETURNING id, code, name, created_at`,
		t.Code, t.Name).Scan(&t.ID, &t.Code, &t.Name, &t.CreatedAt)
	if db.IsUniqueViolation(err, "tenants_code_key") {
		return Tenant{}, ErrDuplicateTenant
	}
	return t, err
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	var role string
	if err := row.Scan(&a.ID, &a.ActorID, &role, &a.TenantID, &a.AssignedBy, &a.AssignedAt, &a.RevokedAt); err != nil {
		return Assignment{}, err
	}
	a.Role = RoleType(role)
	return a, nil
}

func collectAssignments(rows pgx.Rows) ([]Assignment, error) {
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
