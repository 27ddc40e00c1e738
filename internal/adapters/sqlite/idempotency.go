package sqlite

import (
	"context"
	"time"
)

// CheckAndStore claims key for ttl. An expired claim is removed and the key
// claimed again inside the same transaction.
func (r *IdempotencyStore) CheckAndStore(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	op := "IdempotencyStore.CheckAndStore"
	now := r.now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, queryFailed(op, err)
	}
	defer tx.Rollback()

	const expire = `DELETE FROM idempotency_keys WHERE key = ? AND expires_ms <= ?`
	if _, err := tx.ExecContext(ctx, expire, key, toMillis(now)); err != nil {
		return false, updateFailed(op, err)
	}

	const claim = `INSERT OR IGNORE INTO idempotency_keys (key, expires_ms) VALUES (?, ?)`
	res, err := tx.ExecContext(ctx, claim, key, toMillis(now.Add(ttl)))
	if err != nil {
		return false, updateFailed(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, updateFailed(op, err)
	}
	if err := tx.Commit(); err != nil {
		return false, updateFailed(op, err)
	}
	return n == 1, nil
}

// Prune deletes every expired key.
func (r *IdempotencyStore) Prune(ctx context.Context) (int, error) {
	op := "IdempotencyStore.Prune"
	const query = `DELETE FROM idempotency_keys WHERE expires_ms <= ?`

	res, err := r.db.ExecContext(ctx, query, toMillis(r.now()))
	if err != nil {
		return 0, updateFailed(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, updateFailed(op, err)
	}
	return int(n), nil
}
