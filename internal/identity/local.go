package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// LocalProvider keeps identities in the application database. New identities
// get a one-time activation token whose bcrypt hash is stored; the plain
// token is returned once so it can be mailed to the invitee.
type LocalProvider struct {
	pool *pgxpool.Pool
}

// NewLocalProvider constructs a LocalProvider.
func NewLocalProvider(pool *pgxpool.Pool) *LocalProvider {
	return &LocalProvider{pool: pool}
}

// CreateIdentity inserts an identity keyed by req.IdempotencyKey. A retry
// with the same key returns the existing identity without a token.
func (p *LocalProvider) CreateIdentity(ctx context.Context, req Request) (Identity, error) {
	if req.IdempotencyKey == "" || req.Email == "" {
		return Identity{}, &Failure{Code: CodeInvalid, Detail: "email and idempotency key are required"}
	}
	token, err := newActivationToken()
	if err != nil {
		return Identity{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, err
	}
	externalID := uuid.NewString()
	var stored string
	err = p.pool.QueryRow(ctx, `INSERT INTO identities (external_id, idempotency_key, email, activation_token_hash)
VALUES ($1, $2, $3, $4)
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING external_id`, externalID, req.IdempotencyKey, req.Email, string(hash)).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := p.pool.QueryRow(ctx, `SELECT external_id FROM identities WHERE idempotency_key=$1`, req.IdempotencyKey).Scan(&stored); err != nil {
			return Identity{}, unavailable("identity store unavailable", err)
		}
		return Identity{ExternalID: stored}, nil
	}
	if err != nil {
		return Identity{}, unavailable("identity store unavailable", err)
	}
	return Identity{ExternalID: stored, ActivationToken: token}, nil
}

func newActivationToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
