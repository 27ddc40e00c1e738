package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/eventbus"
	"cryptoSentinelBot/internal/ports"
)

var balanceTolerance = decimal.New(1, -8)

// BalancesReconciler validates the venue balances of a symbol's currencies
// and publishes them.
type BalancesReconciler struct {
	broker ports.Broker
	events ports.EventPublisher
	logger ports.Logger
}

// NewBalancesReconciler creates a reconciler that validates and publishes the
// venue balances of a symbol's base and quote currencies.
func NewBalancesReconciler(broker ports.Broker, events ports.EventPublisher, logger ports.Logger) *BalancesReconciler {
	return &BalancesReconciler{broker: broker, events: events, logger: logger}
}

// Reconcile publishes balances.updated even when validation fails; failures
// are reported as discrepancies.
func (r *BalancesReconciler) Reconcile(ctx context.Context, symbol string) (*domain.ReconciliationReport, error) {
	op := "BalancesReconciler.Reconcile"

	base, quote, err := domain.SplitSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrInvalidRequest, err)
	}
	balances, err := r.broker.FetchBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch balance: %w", op, err)
	}

	rep := newReport(symbol, "balances")
	payload := map[string]string{"symbol": symbol, "base": base, "quote": quote}

	for _, cur := range []string{base, quote} {
		bal, ok := balances[cur]
		if !ok {
			rep.add(domain.Discrepancy{Kind: KindMissingCurrency, Local: cur})
			bal = domain.Balance{Currency: cur}
		} else if err := ValidateBalance(bal); err != nil {
			rep.add(domain.Discrepancy{Kind: KindInvalidBalance, Local: cur, Venue: err.Error()})
			r.logger.Warn(ctx, op+": balance failed validation", map[string]interface{}{
				"currency": cur,
				"error":    err.Error(),
			})
		}
		prefix := "base_"
		if cur == quote {
			prefix = "quote_"
		}
		payload[prefix+"free"] = bal.Free.String()
		payload[prefix+"used"] = bal.Used.String()
		payload[prefix+"total"] = bal.Total.String()
	}

	r.events.Publish(ctx, eventbus.TopicBalancesUpdated, payload, "")
	return rep.ReconciliationReport, nil
}

// ValidateBalance checks that no component is negative and free+used equals total.
func ValidateBalance(b domain.Balance) error {
	if b.Free.IsNegative() || b.Used.IsNegative() || b.Total.IsNegative() {
		return fmt.Errorf("%w: %s has a negative component", ports.ErrInvalidBalance, b.Currency)
	}
	if b.Free.Add(b.Used).Sub(b.Total).Abs().GreaterThan(balanceTolerance) {
		return fmt.Errorf("%w: %s free %s + used %s != total %s",
			ports.ErrInvalidBalance, b.Currency, b.Free, b.Used, b.Total)
	}
	return nil
}
