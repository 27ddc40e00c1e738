package sqlite

import (
	"context"
	"fmt"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/ports"
)

const orderColumns = `client_order_id, broker_order_id, symbol, side, status, amount, filled, price, cost, fee, fee_currency, created_ms`

// UpsertOpen starts tracking order, or refreshes it if already tracked.
// The creation time of a tracked order is never moved.
func (r *OrderStore) UpsertOpen(ctx context.Context, order *domain.Order) error {
	op := "OrderStore.UpsertOpen"
	if order == nil || order.ClientOrderID == "" {
		return fmt.Errorf("%s failed: %w: client order id is required", op, ports.ErrInvalidRequest)
	}
	created := order.Timestamp
	if created.IsZero() {
		created = r.now()
	}

	const query = `
	INSERT INTO orders (` + orderColumns + `, updated_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(client_order_id) DO UPDATE SET
		broker_order_id = excluded.broker_order_id,
		status = excluded.status,
		amount = excluded.amount,
		filled = excluded.filled,
		price = excluded.price,
		cost = excluded.cost,
		fee = excluded.fee,
		fee_currency = excluded.fee_currency,
		updated_ms = excluded.updated_ms`

	_, err := r.db.ExecContext(ctx, query,
		order.ClientOrderID, order.BrokerOrderID, order.Symbol, string(order.Side), string(order.Status),
		order.Amount, order.Filled, order.Price, order.Cost, order.Fee, order.FeeCurrency,
		toMillis(created), toMillis(r.now()))
	if err != nil {
		return updateFailed(op, err)
	}
	return nil
}

// ListOpen returns the tracked orders of symbol that are not yet terminal, oldest first.
func (r *OrderStore) ListOpen(ctx context.Context, symbol string) ([]*domain.Order, error) {
	op := "OrderStore.ListOpen"
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE symbol = ? AND status = ? ORDER BY created_ms`

	rows, err := r.db.QueryContext(ctx, query, symbol, string(domain.OrderOpen))
	if err != nil {
		return nil, queryFailed(op, err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, queryFailed(op, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed(op, err)
	}
	return orders, nil
}

// UpdateProgress stores the latest fill figures of a tracked order.
func (r *OrderStore) UpdateProgress(ctx context.Context, order *domain.Order) error {
	op := "OrderStore.UpdateProgress"
	const query = `
	UPDATE orders
	SET filled = ?, price = ?, cost = ?, fee = ?, fee_currency = ?, updated_ms = ?
	WHERE client_order_id = ?`

	res, err := r.db.ExecContext(ctx, query,
		order.Filled, order.Price, order.Cost, order.Fee, order.FeeCurrency, toMillis(r.now()),
		order.ClientOrderID)
	if err != nil {
		return updateFailed(op, err)
	}
	return requireRow(op, res, order.ClientOrderID)
}

// MarkClosed moves a tracked order to a terminal status.
func (r *OrderStore) MarkClosed(ctx context.Context, clientOrderID string, status domain.OrderStatus) error {
	op := "OrderStore.MarkClosed"
	const query = `UPDATE orders SET status = ?, updated_ms = ? WHERE client_order_id = ?`

	res, err := r.db.ExecContext(ctx, query, string(status), toMillis(r.now()), clientOrderID)
	if err != nil {
		return updateFailed(op, err)
	}
	return requireRow(op, res, clientOrderID)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireRow(op string, res rowsAffecter, clientOrderID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return updateFailed(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s failed: order %s: %w", op, clientOrderID, ports.ErrNotFound)
	}
	return nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var side, status string
	var created int64
	err := s.Scan(&o.ClientOrderID, &o.BrokerOrderID, &o.Symbol, &side, &status,
		&o.Amount, &o.Filled, &o.Price, &o.Cost, &o.Fee, &o.FeeCurrency, &created)
	if err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	o.Timestamp = fromMillis(created)
	return o, nil
}
