package accounting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSentinelBot/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(side domain.OrderSide, qty, price, fee string, at time.Duration) *domain.Trade {
	return &domain.Trade{
		Symbol:    "BTC/USDT",
		Side:      side,
		Amount:    d(qty),
		Price:     d(price),
		Cost:      d(qty).Mul(d(price)),
		Fee:       d(fee),
		Timestamp: t0.Add(at),
	}
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

func TestFIFO_Scenarios(t *testing.T) {
	tests := []struct {
		name          string
		trades        []*domain.Trade
		wantRealized  string
		wantBase      string
		wantCost      string
		wantAvg       string
		wantSellCount int
	}{
		{
			name:         "empty",
			trades:       nil,
			wantRealized: "0", wantBase: "0", wantCost: "0", wantAvg: "0",
		},
		{
			name: "buy then sell same qty",
			trades: []*domain.Trade{
				trade(domain.Buy, "2", "100", "0", 0),
				trade(domain.Sell, "2", "130", "0", time.Minute),
			},
			wantRealized: "60", wantBase: "0", wantCost: "0", wantAvg: "0",
			wantSellCount: 1,
		},
		{
			name: "two lots partial sell splits second lot",
			trades: []*domain.Trade{
				trade(domain.Buy, "1", "100", "0", 0),
				trade(domain.Buy, "1", "120", "0", time.Minute),
				trade(domain.Sell, "1.5", "150", "0", 2*time.Minute),
			},
			wantRealized: "55", wantBase: "0.5", wantCost: "60", wantAvg: "120",
			wantSellCount: 1,
		},
		{
			name: "buy fee capitalized, sell fee expensed",
			trades: []*domain.Trade{
				trade(domain.Buy, "2", "100", "2", 0),              // unit cost 101
				trade(domain.Sell, "1", "111", "0.5", time.Minute), // 10 - 0.5
			},
			wantRealized: "9.5", wantBase: "1", wantCost: "101", wantAvg: "101",
			wantSellCount: 1,
		},
		{
			name: "oversell remainder dropped",
			trades: []*domain.Trade{
				trade(domain.Buy, "1", "100", "0", 0),
				trade(domain.Sell, "3", "110", "0", time.Minute),
			},
			wantRealized: "10", wantBase: "0", wantCost: "0", wantAvg: "0",
			wantSellCount: 1,
		},
		{
			name: "sell with no inventory books only the fee",
			trades: []*domain.Trade{
				trade(domain.Sell, "1", "110", "1", 0),
			},
			wantRealized: "-1", wantBase: "0", wantCost: "0", wantAvg: "0",
			wantSellCount: 1,
		},
		{
			name: "unsorted input is replayed chronologically",
			trades: []*domain.Trade{
				trade(domain.Sell, "1", "150", "0", 2*time.Minute),
				trade(domain.Buy, "1", "100", "0", 0),
			},
			wantRealized: "50", wantBase: "0", wantCost: "0", wantAvg: "0",
			wantSellCount: 1,
		},
		{
			name: "zero quantity rows ignored",
			trades: []*domain.Trade{
				trade(domain.Buy, "0", "100", "5", 0),
				trade(domain.Buy, "1", "100", "0", time.Minute),
			},
			wantRealized: "0", wantBase: "1", wantCost: "100", wantAvg: "100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := FIFO(tt.trades)
			assertDec(t, tt.wantRealized, res.RealizedPnL, "realized")
			assertDec(t, tt.wantBase, res.RemainingBase, "remaining base")
			assertDec(t, tt.wantCost, res.RemainingCost, "remaining cost")
			assertDec(t, tt.wantAvg, res.AvgEntryPrice, "avg entry")
			assert.Len(t, RealizedBySell(tt.trades), tt.wantSellCount)
		})
	}
}

func TestFIFO_BuySellPnLProperty(t *testing.T) {
	cases := []struct{ qty, p1, p2 string }{
		{"1", "100", "110"},
		{"0.25", "30000", "29000.5"},
		{"3.3333", "0.1234", "0.2"},
	}
	for _, c := range cases {
		res := FIFO([]*domain.Trade{
			trade(domain.Buy, c.qty, c.p1, "0", 0),
			trade(domain.Sell, c.qty, c.p2, "0", time.Second),
		})
		want := d(c.p2).Sub(d(c.p1)).Mul(d(c.qty))
		assert.True(t, want.Equal(res.RealizedPnL), "qty=%s p1=%s p2=%s", c.qty, c.p1, c.p2)
		assert.True(t, res.RemainingBase.IsZero())
	}
}

func TestFIFO_IsPureAndIdempotent(t *testing.T) {
	trades := []*domain.Trade{
		trade(domain.Sell, "0.5", "140", "0.1", 3*time.Minute),
		trade(domain.Buy, "1", "100", "0.2", 0),
		trade(domain.Buy, "1", "120", "0.3", time.Minute),
	}
	firstOrder := trades[0]

	a := FIFO(trades)
	b := FIFO(trades)

	assert.True(t, a.RealizedPnL.Equal(b.RealizedPnL))
	assert.True(t, a.RemainingBase.Equal(b.RemainingBase))
	assert.True(t, a.RemainingCost.Equal(b.RemainingCost))
	assert.Same(t, firstOrder, trades[0], "input order untouched")
}

func TestSortChronological_StableForEqualTimestamps(t *testing.T) {
	a := trade(domain.Buy, "1", "100", "0", 0)
	b := trade(domain.Buy, "1", "200", "0", 0)
	c := trade(domain.Buy, "1", "300", "0", -time.Minute)

	sorted := SortChronological([]*domain.Trade{a, nil, b, c})
	require.Len(t, sorted, 3)
	assert.Same(t, c, sorted[0])
	assert.Same(t, a, sorted[1])
	assert.Same(t, b, sorted[2])
}
