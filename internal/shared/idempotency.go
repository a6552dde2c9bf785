package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lendflow/lendflow/internal/platform/db"
	"github.com/lendflow/lendflow/internal/platform/httpx"
)

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = NewError(httpx.ErrConflict, "request with this idempotency key was already processed")

// IdempotencyStore remembers request keys per module so a retried write is
// refused instead of applied twice.
type IdempotencyStore struct {
	q   db.Querier
	now func() time.Time
}

// NewIdempotencyStore constructs the store over a pool or a transaction.
func NewIdempotencyStore(q db.Querier) *IdempotencyStore {
	return &IdempotencyStore{q: q, now: time.Now}
}

func idempotencyKey(module, key string) (string, error) {
	switch {
	case key == "":
		return "", errors.New("idempotency key required")
	case module == "":
		return "", errors.New("idempotency module required")
	}
	return module + ":" + key, nil
}

// CheckAndInsert claims key within module. A key seen before yields
// ErrIdempotencyConflict.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	scoped, err := idempotencyKey(module, key)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO NOTHING`, scoped, module, s.now().UTC())
	if err != nil {
		return fmt.Errorf("shared: claim idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Delete releases a key so a request that failed before doing any work can
// be retried with it.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil {
		return nil
	}
	scoped, err := idempotencyKey(module, key)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, scoped)
	return err
}

// Cleanup drops keys older than olderThan and reports how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	tag, err := s.q.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("shared: prune idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
