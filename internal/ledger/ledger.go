// Package ledger owns every write to the position table.
//
// Positions are derived from the trade history through FIFO and written with
// a version compare-and-swap, so concurrent writers for one symbol never
// overwrite each other's newer row.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/accounting"
	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/ports"
)

const maxCASAttempts = 2

// Ledger recomputes and persists positions.
type Ledger struct {
	trades    ports.TradeRepository
	positions ports.PositionRepository
	logger    ports.Logger
	now       func() time.Time
}

// New creates a ledger over the given repositories.
func New(trades ports.TradeRepository, positions ports.PositionRepository, logger ports.Logger) *Ledger {
	return &Ledger{
		trades:    trades,
		positions: positions,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ApplyTrade rebuilds the symbol's position from its trades and stores it.
//
// After maxCASAttempts version conflicts the stored row is re-read and
// returned unchanged; another writer has already produced a newer version.
func (l *Ledger) ApplyTrade(ctx context.Context, symbol string, markPrice decimal.Decimal) (*domain.Position, error) {
	op := "Ledger.ApplyTrade"
	return l.casLoop(ctx, op, symbol, func(current *domain.Position) (*domain.Position, error) {
		trades, err := l.trades.ListBySymbol(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("%s: list trades: %w", op, err)
		}
		fifo := accounting.FIFO(trades)
		next := &domain.Position{
			Symbol:        symbol,
			BaseQty:       fifo.RemainingBase,
			AvgEntryPrice: fifo.AvgEntryPrice,
			RealizedPnL:   fifo.RealizedPnL,
			UpdatedAt:     l.now(),
		}
		next.UnrealizedPnL = next.MarkToMarket(markPrice)
		return next, nil
	})
}

// Touch refreshes unrealized PnL at markPrice without changing quantity.
func (l *Ledger) Touch(ctx context.Context, symbol string, markPrice decimal.Decimal) (*domain.Position, error) {
	op := "Ledger.Touch"
	return l.casLoop(ctx, op, symbol, func(current *domain.Position) (*domain.Position, error) {
		next := *current
		next.UnrealizedPnL = current.MarkToMarket(markPrice)
		next.UpdatedAt = l.now()
		return &next, nil
	})
}

func (l *Ledger) casLoop(ctx context.Context, op, symbol string, build func(current *domain.Position) (*domain.Position, error)) (*domain.Position, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		current, err := l.positions.Get(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("%s: read position: %w", op, err)
		}
		if current == nil {
			current = domain.EmptyPosition(symbol)
		}

		next, err := build(current)
		if err != nil {
			return nil, err
		}
		next.Version = current.Version + 1

		ok, err := l.positions.SaveIfVersion(ctx, next, current.Version)
		if err != nil {
			return nil, fmt.Errorf("%s: save position: %w", op, err)
		}
		if ok {
			return next, nil
		}
		l.logger.Debug(ctx, op+": version conflict, retrying", map[string]interface{}{
			"symbol":  symbol,
			"attempt": attempt,
			"version": current.Version,
		})
	}

	stored, err := l.positions.Get(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: re-read after conflict: %w", op, err)
	}
	l.logger.Warn(ctx, op+": giving up after version conflicts, keeping stored row", map[string]interface{}{
		"symbol":  symbol,
		"version": stored.Version,
	})
	return stored, nil
}
