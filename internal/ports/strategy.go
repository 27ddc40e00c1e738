package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
)

// DecisionProvider produces the candidate decision for one evaluate cycle.
type DecisionProvider interface {
	Decide(ctx context.Context, symbol string, position *domain.Position) (*domain.Decision, error)
}

// ATRProvider computes Average True Range over the given bars.
// Implementations return ErrInsufficientHistory when bars are too few.
type ATRProvider interface {
	RequiredDataPoints() int
	Calculate(ctx context.Context, klines []*domain.Kline) (decimal.Decimal, error)
}
