package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Acquire takes the lease name for owner until ttl from now. An expired lease
// is taken over; a live one held by owner is extended. It reports false when
// another owner holds a live lease.
func (r *LockStore) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	op := "LockStore.Acquire"
	now := r.now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, queryFailed(op, err)
	}
	defer tx.Rollback()

	const expire = `DELETE FROM app_locks WHERE name = ? AND expires_ms <= ?`
	if _, err := tx.ExecContext(ctx, expire, name, toMillis(now)); err != nil {
		return false, updateFailed(op, err)
	}

	const claim = `INSERT OR IGNORE INTO app_locks (name, owner, expires_ms) VALUES (?, ?, ?)`
	res, err := tx.ExecContext(ctx, claim, name, owner, toMillis(now.Add(ttl)))
	if err != nil {
		return false, updateFailed(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, updateFailed(op, err)
	}
	if n == 0 {
		const extend = `UPDATE app_locks SET expires_ms = ? WHERE name = ? AND owner = ?`
		res, err := tx.ExecContext(ctx, extend, toMillis(now.Add(ttl)), name, owner)
		if err != nil {
			return false, updateFailed(op, err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return false, updateFailed(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, updateFailed(op, err)
	}

	held := n == 1
	r.logger.Debug(ctx, op+": lease attempt", map[string]interface{}{
		"name":  name,
		"owner": owner,
		"held":  held,
	})
	return held, nil
}

// Release drops the lease if owner still holds it.
func (r *LockStore) Release(ctx context.Context, name, owner string) error {
	op := "LockStore.Release"
	const query = `DELETE FROM app_locks WHERE name = ? AND owner = ?`
	if _, err := r.db.ExecContext(ctx, query, name, owner); err != nil {
		return updateFailed(op, err)
	}
	return nil
}

// Owner returns the holder of a live lease, or "" when the lease is free.
func (r *LockStore) Owner(ctx context.Context, name string) (string, error) {
	op := "LockStore.Owner"
	const query = `SELECT owner FROM app_locks WHERE name = ? AND expires_ms > ?`

	var owner string
	err := r.db.QueryRowContext(ctx, query, name, toMillis(r.now())).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", queryFailed(op, err)
	}
	return owner, nil
}
