package users

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendflow/lendflow/internal/platform/db"
	"github.com/lendflow/lendflow/internal/shared"
)

const userColumns = `u.id, u.email, u.name, u.external_id, u.is_active, u.created_at, u.updated_at, u.deleted_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	q db.Querier
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool}
}

// WithQuerier binds the repository to q, typically an open transaction.
func WithQuerier(q db.Querier) *Repository {
	return &Repository{q: q}
}

// Get returns a live actor.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	row := r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id=$1 AND u.deleted_at IS NULL`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

// FindActiveByEmail looks a live actor up by normalised email.
func (r *Repository) FindActiveByEmail(ctx context.Context, email string) (User, bool, error) {
	row := r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE lower(u.email)=$1 AND u.deleted_at IS NULL`, NormalizeEmail(email))
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

// Create inserts an actor. Email is stored normalised.
func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO users AS u (email, name, external_id, is_active)
VALUES ($1, $2, $3, $4) RETURNING `+userColumns, NormalizeEmail(u.Email), u.Name, u.ExternalID, u.IsActive)
	created, err := scanUser(row)
	if db.IsUniqueViolation(err, "users_email_live_idx") {
		return User{}, ErrEmailTaken
	}
	return created, err
}

// SoftDelete marks the actor deleted and inactive.
func (r *Repository) SoftDelete(ctx context.Context, id int64, at time.Time) (User, error) {
	row := r.q.QueryRow(ctx, `UPDATE users AS u SET deleted_at=$2, is_active=FALSE, updated_at=$2
WHERE u.id=$1 AND u.deleted_at IS NULL RETURNING `+userColumns, id, at)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

// ListByTenant returns live actors holding an active role at tenantID.
func (r *Repository) ListByTenant(ctx context.Context, tenantID int64, page, perPage int) ([]User, int, error) {
	page, perPage = shared.NormalizePage(page, perPage)
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(DISTINCT u.id) FROM users u
JOIN role_assignments ra ON ra.actor_id = u.id AND ra.revoked_at IS NULL
WHERE ra.tenant_id=$1 AND u.deleted_at IS NULL`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.q.Query(ctx, `SELECT DISTINCT `+userColumns+` FROM users u
JOIN role_assignments ra ON ra.actor_id = u.id AND ra.revoked_at IS NULL
WHERE ra.tenant_id=$1 AND u.deleted_at IS NULL
ORDER BY u.id LIMIT $2 OFFSET $3`, tenantID, perPage, shared.Offset(page, perPage))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.ExternalID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	return u, err
}
