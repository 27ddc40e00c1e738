package utils

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSentinelBot/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWriteKlinesToCSV(t *testing.T) {
	open := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)
	klines := []*domain.Kline{
		{
			OpenTime: open, CloseTime: open.Add(time.Minute - time.Millisecond),
			Symbol: "BTC/USDT", Interval: "1m",
			Open: d("42000.10"), High: d("42100"), Low: d("41900.5"), Close: d("42050"), Volume: d("12.3456"),
		},
		nil,
	}
	filename := filepath.Join(t.TempDir(), "nested", "klines.csv")

	require.NoError(t, WriteKlinesToCSV(klines, filename))

	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, klineHeader, rows[0])
	assert.Equal(t, []string{
		"2024-01-02T03:04:00Z", "2024-01-02T03:04:59Z", "BTC/USDT", "1m",
		"42000.1", "42100", "41900.5", "42050", "12.3456",
	}, rows[1])
}

func TestWriteTrades_AddsRealizedPnLToSells(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []*domain.Trade{
		{Symbol: "BTC/USDT", Side: domain.Sell, Amount: d("1"), Price: d("120"), Cost: d("120"), Fee: d("0"), ClientOrderID: "s1", Status: domain.TradeSettled, Timestamp: t0.Add(time.Hour)},
		{Symbol: "BTC/USDT", Side: domain.Buy, Amount: d("1"), Price: d("100"), Cost: d("100"), Fee: d("0"), ClientOrderID: "b1", Status: domain.TradeSettled, Timestamp: t0},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTrades(&buf, trades))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "b1", rows[1][7], "rows are chronological")
	assert.Equal(t, "", rows[1][9])
	assert.Equal(t, "s1", rows[2][7])
	assert.Equal(t, "20", rows[2][9])
}
