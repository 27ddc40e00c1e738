package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/ports"
)

// PositionToucher refreshes unrealized PnL without changing quantity.
type PositionToucher interface {
	Touch(ctx context.Context, symbol string, markPrice decimal.Decimal) (*domain.Position, error)
}

// PositionsReconciler marks the open position to the venue's last price.
type PositionsReconciler struct {
	broker    ports.MarketData
	positions ports.PositionRepository
	ledger    PositionToucher
}

// NewPositionsReconciler creates a reconciler that re-marks open positions at
// the current venue price through the ledger.
func NewPositionsReconciler(broker ports.MarketData, positions ports.PositionRepository, ledger PositionToucher) *PositionsReconciler {
	return &PositionsReconciler{broker: broker, positions: positions, ledger: ledger}
}

func (r *PositionsReconciler) Reconcile(ctx context.Context, symbol string) (*domain.ReconciliationReport, error) {
	op := "PositionsReconciler.Reconcile"
	rep := newReport(symbol, "positions")

	pos, err := r.positions.Get(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: read position: %w", op, err)
	}
	if !pos.IsOpen() {
		rep.Counts["open"] = 0
		return rep.ReconciliationReport, nil
	}
	rep.Counts["open"] = 1

	ticker, err := r.broker.FetchTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch ticker: %w", op, err)
	}
	if _, err := r.ledger.Touch(ctx, symbol, ticker.Last); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rep.Counts["touched"] = 1
	return rep.ReconciliationReport, nil
}
