// Package reconcile compares local bookkeeping with the venue. Every
// reconciler is report-only except PositionsReconciler, which refreshes
// unrealized PnL through the ledger.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/ports"
)

// Discrepancy kinds.
const (
	KindMissingOnVenue  = "missing_on_venue"
	KindMissingLocally  = "missing_locally"
	KindAmountMismatch  = "amount_mismatch"
	KindFilledMismatch  = "filled_mismatch"
	KindStatusMismatch  = "status_mismatch"
	KindInvalidBalance  = "invalid_balance"
	KindMissingCurrency = "missing_currency"
)

var allKinds = []string{
	KindMissingOnVenue,
	KindMissingLocally,
	KindAmountMismatch,
	KindFilledMismatch,
	KindStatusMismatch,
	KindInvalidBalance,
	KindMissingCurrency,
}

// OrdersReconciler diffs locally tracked open orders against the venue's.
type OrdersReconciler struct {
	broker ports.Broker
	orders ports.OrderRepository
	logger ports.Logger
}

// NewOrdersReconciler creates a reconciler that matches locally tracked open
// orders against the venue's open orders.
func NewOrdersReconciler(broker ports.Broker, orders ports.OrderRepository, logger ports.Logger) *OrdersReconciler {
	return &OrdersReconciler{broker: broker, orders: orders, logger: logger}
}

// Reconcile matches orders by client id, falling back to venue id.
func (r *OrdersReconciler) Reconcile(ctx context.Context, symbol string) (*domain.ReconciliationReport, error) {
	op := "OrdersReconciler.Reconcile"

	local, err := r.orders.ListOpen(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: list local open orders: %w", op, err)
	}
	venue, err := r.broker.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch venue open orders: %w", op, err)
	}

	byClient := make(map[string]*domain.Order, len(venue))
	byBroker := make(map[string]*domain.Order, len(venue))
	for _, o := range venue {
		if o.ClientOrderID != "" {
			byClient[o.ClientOrderID] = o
		}
		if o.BrokerOrderID != "" {
			byBroker[o.BrokerOrderID] = o
		}
	}

	report := newReport(symbol, "orders")
	matched := make(map[*domain.Order]bool, len(venue))

	for _, l := range local {
		v, ok := byClient[l.ClientOrderID]
		if !ok || l.ClientOrderID == "" {
			v, ok = byBroker[l.BrokerOrderID]
		}
		if !ok || v == nil {
			report.add(domain.Discrepancy{
				Kind:          KindMissingOnVenue,
				ClientOrderID: l.ClientOrderID,
				BrokerOrderID: l.BrokerOrderID,
				Local:         string(l.Status),
			})
			continue
		}
		matched[v] = true

		if l.Amount.IsPositive() && v.Amount.IsPositive() && !l.Amount.Equal(v.Amount) {
			report.add(mismatch(KindAmountMismatch, l, l.Amount.String(), v.Amount.String()))
		}
		if !l.Filled.Equal(v.Filled) {
			report.add(mismatch(KindFilledMismatch, l, l.Filled.String(), v.Filled.String()))
		}
		if l.Status != v.Status {
			report.add(mismatch(KindStatusMismatch, l, string(l.Status), string(v.Status)))
		}
	}

	for _, v := range venue {
		if !matched[v] {
			report.add(domain.Discrepancy{
				Kind:          KindMissingLocally,
				ClientOrderID: v.ClientOrderID,
				BrokerOrderID: v.BrokerOrderID,
				Venue:         string(v.Status),
			})
		}
	}
	report.Counts["local"] = len(local)
	report.Counts["venue"] = len(venue)

	if !report.OK() {
		r.logger.Warn(ctx, op+": open orders differ from venue", map[string]interface{}{
			"symbol":        symbol,
			"discrepancies": len(report.Discrepancies),
		})
	}
	return report.ReconciliationReport, nil
}

func mismatch(kind string, l *domain.Order, local, venue string) domain.Discrepancy {
	return domain.Discrepancy{
		Kind:          kind,
		ClientOrderID: l.ClientOrderID,
		BrokerOrderID: l.BrokerOrderID,
		Local:         local,
		Venue:         venue,
	}
}

type report struct {
	*domain.ReconciliationReport
}

func newReport(symbol, kind string) report {
	return report{&domain.ReconciliationReport{
		Symbol:    symbol,
		Kind:      kind,
		Counts:    map[string]int{},
		CreatedAt: time.Now().UTC(),
	}}
}

func (r report) add(d domain.Discrepancy) {
	r.Discrepancies = append(r.Discrepancies, d)
	r.Counts[d.Kind]++
}
