package sqlite

import (
	"context"
	"fmt"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/ports"
)

// Record appends an audit entry.
func (r *AuditStore) Record(ctx context.Context, entry *domain.AuditEntry) error {
	op := "AuditStore.Record"
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("%s failed: %w: entry id is required", op, ports.ErrInvalidRequest)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	detail := entry.Detail
	if detail == "" {
		detail = "{}"
	}

	const query = `
	INSERT INTO audit_log (id, kind, symbol, side, client_order_id, detail, created_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, string(entry.Kind), entry.Symbol, string(entry.Side), entry.ClientOrderID, detail, toMillis(created))
	if err != nil {
		return updateFailed(op, err)
	}
	return nil
}

// ListByClientOrderID returns the audit trail of one order, oldest first.
func (r *AuditStore) ListByClientOrderID(ctx context.Context, clientOrderID string) ([]*domain.AuditEntry, error) {
	op := "AuditStore.ListByClientOrderID"
	const query = `
	SELECT id, kind, symbol, side, client_order_id, detail, created_ms
	FROM audit_log WHERE client_order_id = ? ORDER BY created_ms, id`

	rows, err := r.db.QueryContext(ctx, query, clientOrderID)
	if err != nil {
		return nil, queryFailed(op, err)
	}
	defer rows.Close()

	entries := make([]*domain.AuditEntry, 0)
	for rows.Next() {
		e := &domain.AuditEntry{}
		var kind, side string
		var created int64
		if err := rows.Scan(&e.ID, &kind, &e.Symbol, &side, &e.ClientOrderID, &e.Detail, &created); err != nil {
			return nil, queryFailed(op, err)
		}
		e.Kind = domain.AuditKind(kind)
		e.Side = domain.OrderSide(side)
		e.CreatedAt = fromMillis(created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed(op, err)
	}
	return entries, nil
}
