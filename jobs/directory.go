package jobs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendflow/lendflow/internal/tenancy"
)

// Directory resolves mail recipients.
type Directory interface {
	// ReviewerEmails lists active tenant admins of tenantID, minus exclude.
	ReviewerEmails(ctx context.Context, tenantID, exclude int64) ([]string, error)
	// ActorEmail returns the address of an active user, or "" when unknown.
	ActorEmail(ctx context.Context, actorID int64) (string, error)
}

// PGDirectory reads recipients from PostgreSQL.
type PGDirectory struct {
	pool *pgxpool.Pool
}

// NewPGDirectory constructs a PGDirectory.
func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

// ReviewerEmails implements Directory.
func (d *PGDirectory) ReviewerEmails(ctx context.Context, tenantID, exclude int64) ([]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT DISTINCT u.email
FROM role_assignments ra
JOIN users u ON u.id = ra.actor_id
WHERE ra.tenant_id = $1 AND ra.role = $2 AND ra.revoked_at IS NULL
  AND u.deleted_at IS NULL AND u.is_active AND u.id <> $3
ORDER BY u.email`, tenantID, string(tenancy.RoleTenantAdmin), exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// ActorEmail implements Directory.
func (d *PGDirectory) ActorEmail(ctx context.Context, actorID int64) (string, error) {
	var email string
	err := d.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1 AND deleted_at IS NULL AND is_active`, actorID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return email, err
}
