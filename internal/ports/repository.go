package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
)

// TradeRepository stores fills. Inserts are idempotent on client order id.
type TradeRepository interface {
	// AddFromOrder records the fill of an executed order.
	// Returns false without error if the client order id was already recorded.
	AddFromOrder(ctx context.Context, order *domain.Order) (bool, error)
	// ListBySymbol returns all trades of a symbol in chronological order.
	ListBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error)
	// ListSince returns trades across all symbols at or after since, oldest first.
	ListSince(ctx context.Context, since time.Time) ([]*domain.Trade, error)
	// CountOrdersLastMinutes counts trades of a symbol in the trailing window.
	CountOrdersLastMinutes(ctx context.Context, symbol string, minutes int) (int, error)
	// DailyTurnoverQuote sums quote cost of a symbol's trades in the last 24h.
	DailyTurnoverQuote(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PositionRepository persists one position row per symbol.
type PositionRepository interface {
	// Get returns the stored position, or an empty version-0 position if none exists.
	Get(ctx context.Context, symbol string) (*domain.Position, error)
	// ListOpen returns positions with positive base quantity.
	ListOpen(ctx context.Context) ([]*domain.Position, error)
	// SaveIfVersion writes pos only if the stored version equals expectedVersion
	// (0 means "no row yet"). On success the stored version is expectedVersion+1.
	SaveIfVersion(ctx context.Context, pos *domain.Position, expectedVersion int64) (bool, error)
}

// IdempotencyStore is an atomic claim-once key registry with expiry.
type IdempotencyStore interface {
	// CheckAndStore claims key for ttl. It returns true only for the first claim within the window.
	CheckAndStore(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Prune removes expired keys and returns how many were removed.
	Prune(ctx context.Context) (int, error)
}

// AuditRepository records execution audit entries.
type AuditRepository interface {
	Record(ctx context.Context, entry *domain.AuditEntry) error
}

// OrderRepository tracks locally known open orders until they settle.
type OrderRepository interface {
	UpsertOpen(ctx context.Context, order *domain.Order) error
	ListOpen(ctx context.Context, symbol string) ([]*domain.Order, error)
	UpdateProgress(ctx context.Context, order *domain.Order) error
	MarkClosed(ctx context.Context, clientOrderID string, status domain.OrderStatus) error
}
