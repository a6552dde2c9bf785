package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendflow/lendflow/internal/platform/db"
	"github.com/lendflow/lendflow/internal/shared"
	"github.com/lendflow/lendflow/internal/tenancy"
	"github.com/lendflow/lendflow/internal/users"
)

// Credentials are what Authenticate needs to know about an actor.
type Credentials struct {
	ActorID      int64
	Email        string
	PasswordHash string
	IsActive     bool
}

// Activation is an invited identity waiting for its owner to set a password.
type Activation struct {
	ExternalID string
	TokenHash  string
}

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindCredentials(ctx context.Context, email string) (Credentials, error)
	FindActivation(ctx context.Context, email string) (Activation, error)
	CompleteActivation(ctx context.Context, externalID, passwordHash string, at time.Time) error
	CreatePlatformAdmin(ctx context.Context, email, name, passwordHash string) (int64, error)
}

// ErrAlreadyBootstrapped indicates a platform administrator already exists.
var ErrAlreadyBootstrapped = errors.New("auth: a platform administrator already exists")

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindCredentials fetches the password hash of a live, activated actor.
func (r *PGRepository) FindCredentials(ctx context.Context, email string) (Credentials, error) {
	var c Credentials
	err := r.pool.QueryRow(ctx, `SELECT u.id, u.email, i.password_hash, u.is_active
FROM users u JOIN identities i ON i.external_id = u.external_id
WHERE lower(u.email)=$1 AND u.deleted_at IS NULL AND i.password_hash IS NOT NULL AND i.activated_at IS NOT NULL`,
		users.NormalizeEmail(email)).Scan(&c.ActorID, &c.Email, &c.PasswordHash, &c.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credentials{}, shared.ErrNotFound
	}
	return c, err
}

// FindActivation fetches the pending activation of an invited actor.
func (r *PGRepository) FindActivation(ctx context.Context, email string) (Activation, error) {
	var a Activation
	err := r.pool.QueryRow(ctx, `SELECT i.external_id, i.activation_token_hash
FROM users u JOIN identities i ON i.external_id = u.external_id
WHERE lower(u.email)=$1 AND u.deleted_at IS NULL AND i.activated_at IS NULL AND i.activation_token_hash IS NOT NULL`,
		users.NormalizeEmail(email)).Scan(&a.ExternalID, &a.TokenHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Activation{}, shared.ErrNotFound
	}
	return a, err
}

// CompleteActivation stores the password and burns the activation token.
func (r *PGRepository) CompleteActivation(ctx context.Context, externalID, passwordHash string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE identities SET password_hash=$2, activated_at=$3, activation_token_hash=NULL
WHERE external_id=$1 AND activated_at IS NULL`, externalID, passwordHash, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CreatePlatformAdmin creates the first administrator with an activated
// local identity. It refuses when an active platform admin exists.
func (r *PGRepository) CreatePlatformAdmin(ctx context.Context, email, name, passwordHash string) (int64, error) {
	var actorID int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM role_assignments WHERE role=$1 AND revoked_at IS NULL)`,
			string(tenancy.RolePlatformAdmin)).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrAlreadyBootstrapped
		}
		externalID := uuid.NewString()
		normalized := users.NormalizeEmail(email)
		if _, err := tx.Exec(ctx, `INSERT INTO identities (external_id, idempotency_key, email, password_hash, activated_at)
VALUES ($1, $2, $3, $4, NOW())`, externalID, "bootstrap:"+normalized, normalized, passwordHash); err != nil {
			return fmt.Errorf("insert identity: %w", err)
		}
		created, err := users.WithQuerier(tx).Create(ctx, users.User{Email: normalized, Name: name, ExternalID: &externalID, IsActive: true})
		if err != nil {
			return err
		}
		if _, err := tenancy.WithQuerier(tx).InsertAssignment(ctx, tenancy.Assignment{
			ActorID:    created.ID,
			Role:       tenancy.RolePlatformAdmin,
			AssignedBy: created.ID,
			AssignedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
		actorID = created.ID
		return nil
	})
	return actorID, err
}

var _ Repository = (*PGRepository)(nil)
