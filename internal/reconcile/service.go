package reconcile

import (
	"context"
	"errors"
	"strconv"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/eventbus"
	"cryptoSentinelBot/internal/metrics"
	"cryptoSentinelBot/internal/ports"
)

// Reconciler is one reconciliation pass over a symbol.
type Reconciler interface {
	Reconcile(ctx context.Context, symbol string) (*domain.ReconciliationReport, error)
}

// Service runs the reconcilers in order and publishes a summary.
type Service struct {
	reconcilers []Reconciler
	events      ports.EventPublisher
	logger      ports.Logger
	metrics     *metrics.Metrics
}

// NewService creates a Service over the given reconcilers. m may be nil.
func NewService(events ports.EventPublisher, logger ports.Logger, m *metrics.Metrics, reconcilers ...Reconciler) *Service {
	return &Service{reconcilers: reconcilers, events: events, logger: logger, metrics: m}
}

// Run executes every reconciler even if one fails, then publishes
// reconciliation.completed with per-kind discrepancy counts. The joined
// reconciler errors are returned alongside the successful reports.
func (s *Service) Run(ctx context.Context, symbol string) ([]*domain.ReconciliationReport, error) {
	op := "ReconcileService.Run"
	var (
		reports []*domain.ReconciliationReport
		errs    []error
	)
	payload := map[string]string{"symbol": symbol}
	total := 0
	byKind := make(map[string]int, len(allKinds))

	for _, r := range s.reconcilers {
		rep, err := r.Reconcile(ctx, symbol)
		if err != nil {
			s.logger.Error(ctx, err, op+": reconciler failed", map[string]interface{}{"symbol": symbol})
			errs = append(errs, err)
			continue
		}
		reports = append(reports, rep)
		payload[rep.Kind+"_discrepancies"] = strconv.Itoa(len(rep.Discrepancies))
		total += len(rep.Discrepancies)
		for _, d := range rep.Discrepancies {
			byKind[d.Kind]++
		}
	}
	for _, kind := range allKinds {
		s.metrics.Discrepancies(symbol, kind, byKind[kind])
	}

	payload["discrepancies"] = strconv.Itoa(total)
	payload["errors"] = strconv.Itoa(len(errs))
	s.events.Publish(ctx, eventbus.TopicReconciliationCompleted, payload, "")

	return reports, errors.Join(errs...)
}
