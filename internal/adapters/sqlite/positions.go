package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"cryptoSentinelBot/internal/domain"
)

const positionColumns = `symbol, base_qty, avg_entry_price, realized_pnl, unrealized_pnl, updated_ms, version`

// Get returns the stored position, or a version-0 empty position.
func (r *PositionStore) Get(ctx context.Context, symbol string) (*domain.Position, error) {
	op := "PositionStore.Get"
	const query = `SELECT ` + positionColumns + ` FROM positions WHERE symbol = ?`

	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, symbol))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EmptyPosition(symbol), nil
		}
		return nil, queryFailed(op, err)
	}
	return pos, nil
}

// ListOpen returns every position holding inventory.
func (r *PositionStore) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	op := "PositionStore.ListOpen"
	const query = `SELECT ` + positionColumns + ` FROM positions ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, queryFailed(op, err)
	}
	defer rows.Close()

	open := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, queryFailed(op, err)
		}
		// base_qty is TEXT, so the filter runs here rather than in SQL.
		if pos.IsOpen() {
			open = append(open, pos)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed(op, err)
	}
	return open, nil
}

// SaveIfVersion writes pos only when the stored version equals expected.
// Version 0 means no row may exist yet.
func (r *PositionStore) SaveIfVersion(ctx context.Context, pos *domain.Position, expected int64) (bool, error) {
	op := "PositionStore.SaveIfVersion"
	next := expected + 1
	updated := r.now()
	if !pos.UpdatedAt.IsZero() {
		updated = pos.UpdatedAt
	}

	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		const insert = `
		INSERT OR IGNORE INTO positions (` + positionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
		res, err = r.db.ExecContext(ctx, insert,
			pos.Symbol, pos.BaseQty, pos.AvgEntryPrice, pos.RealizedPnL, pos.UnrealizedPnL,
			toMillis(updated), next)
	} else {
		const update = `
		UPDATE positions
		SET base_qty = ?, avg_entry_price = ?, realized_pnl = ?, unrealized_pnl = ?, updated_ms = ?, version = ?
		WHERE symbol = ? AND version = ?`
		res, err = r.db.ExecContext(ctx, update,
			pos.BaseQty, pos.AvgEntryPrice, pos.RealizedPnL, pos.UnrealizedPnL, toMillis(updated), next,
			pos.Symbol, expected)
	}
	if err != nil {
		return false, updateFailed(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, updateFailed(op, err)
	}
	if n == 0 {
		r.logger.Debug(ctx, op+": version conflict", map[string]interface{}{
			"symbol":   pos.Symbol,
			"expected": expected,
		})
		return false, nil
	}
	pos.Version = next
	return true, nil
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var updated int64
	err := s.Scan(&p.Symbol, &p.BaseQty, &p.AvgEntryPrice, &p.RealizedPnL, &p.UnrealizedPnL, &updated, &p.Version)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}
