package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/ports"
)

const tradeColumns = `id, symbol, side, amount, price, cost, fee, broker_order_id, client_order_id, status, ts_ms`

// AddFromOrder records the fill of order. A second call for the same client
// order id inserts nothing; it only promotes a settling row to settled.
func (r *TradeStore) AddFromOrder(ctx context.Context, order *domain.Order) (bool, error) {
	op := "TradeStore.AddFromOrder"
	if order == nil || order.ClientOrderID == "" {
		return false, fmt.Errorf("%s failed: %w: client order id is required", op, ports.ErrInvalidRequest)
	}
	t := domain.TradeFromOrder(order)

	const query = `
	INSERT OR IGNORE INTO trades (symbol, side, amount, price, cost, fee, broker_order_id, client_order_id, status, ts_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		t.Symbol, string(t.Side), t.Amount, t.Price, t.Cost, t.Fee,
		t.BrokerOrderID, t.ClientOrderID, string(t.Status), toMillis(t.Timestamp))
	if err != nil {
		return false, updateFailed(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, updateFailed(op, err)
	}
	if n == 1 {
		r.logger.Debug(ctx, op+": trade recorded", map[string]interface{}{
			"symbol":        t.Symbol,
			"side":          string(t.Side),
			"clientOrderID": t.ClientOrderID,
		})
		return true, nil
	}

	if t.Status == domain.TradeSettled {
		const promote = `UPDATE trades SET status = ? WHERE client_order_id = ? AND status = ?`
		if _, err := r.db.ExecContext(ctx, promote, string(domain.TradeSettled), t.ClientOrderID, string(domain.TradeSettling)); err != nil {
			return false, updateFailed(op, err)
		}
	}
	return false, nil
}

func (r *TradeStore) ListBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	const query = `SELECT ` + tradeColumns + ` FROM trades WHERE symbol = ? ORDER BY ts_ms, id`
	return r.queryTrades(ctx, "TradeStore.ListBySymbol", query, symbol)
}

// ListSince returns trades of every symbol at or after since.
func (r *TradeStore) ListSince(ctx context.Context, since time.Time) ([]*domain.Trade, error) {
	const query = `SELECT ` + tradeColumns + ` FROM trades WHERE ts_ms >= ? ORDER BY ts_ms, id`
	return r.queryTrades(ctx, "TradeStore.ListSince", query, toMillis(since))
}

func (r *TradeStore) CountOrdersLastMinutes(ctx context.Context, symbol string, minutes int) (int, error) {
	op := "TradeStore.CountOrdersLastMinutes"
	const query = `SELECT COUNT(*) FROM trades WHERE symbol = ? AND ts_ms >= ?`

	since := r.now().Add(-time.Duration(minutes) * time.Minute)
	var count int
	if err := r.db.QueryRowContext(ctx, query, symbol, toMillis(since)).Scan(&count); err != nil {
		return 0, queryFailed(op, err)
	}
	return count, nil
}

// DailyTurnoverQuote sums the quote cost of the trailing 24 hours. The sum is
// done in decimal since the column is TEXT.
func (r *TradeStore) DailyTurnoverQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "TradeStore.DailyTurnoverQuote"
	const query = `SELECT cost FROM trades WHERE symbol = ? AND ts_ms >= ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, toMillis(r.now().Add(-24*time.Hour)))
	if err != nil {
		return decimal.Zero, queryFailed(op, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var cost decimal.Decimal
		if err := rows.Scan(&cost); err != nil {
			return decimal.Zero, queryFailed(op, err)
		}
		total = total.Add(cost)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, queryFailed(op, err)
	}
	return total, nil
}

func (r *TradeStore) queryTrades(ctx context.Context, op, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryFailed(op, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, queryFailed(op, err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed(op, err)
	}
	return trades, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, status string
	var ts int64
	err := s.Scan(&t.ID, &t.Symbol, &side, &t.Amount, &t.Price, &t.Cost, &t.Fee,
		&t.BrokerOrderID, &t.ClientOrderID, &status, &ts)
	if err != nil {
		return nil, err
	}
	t.Side = domain.OrderSide(side)
	t.Status = domain.TradeStatus(status)
	t.Timestamp = fromMillis(ts)
	return t, nil
}
