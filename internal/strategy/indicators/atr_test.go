package indicators

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/ports"
)

func TestATR_ConstantRange(t *testing.T) {
	atr := NewATR(ATRConfig{IndicatorConfig{Period: 14}})
	value, err := atr.Calculate(context.Background(), bars(30, 100, 10))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(value), "got %s", value)
}

func TestATR_GapsUseTrueRange(t *testing.T) {
	d := decimal.RequireFromString
	klines := []*domain.Kline{
		{High: d("101"), Low: d("99"), Close: d("100")},  // TR 2
		{High: d("111"), Low: d("109"), Close: d("110")}, // gap up: |111-100| = 11
		{High: d("106"), Low: d("104"), Close: d("105")}, // gap down: |104-110| = 6
	}
	atr := NewATR(ATRConfig{IndicatorConfig{Period: 2}})
	value, err := atr.Calculate(context.Background(), klines)
	require.NoError(t, err)
	// seed (2+11)/2 = 6.5, then (6.5*1 + 6)/2 = 6.25
	assert.True(t, d("6.25").Equal(value), "got %s", value)
}

func TestATR_InsufficientHistory(t *testing.T) {
	atr := NewATR(ATRConfig{})
	assert.Equal(t, 15, atr.RequiredDataPoints(), "defaults to period 14")

	_, err := atr.Calculate(context.Background(), bars(14, 100, 1))
	assert.ErrorIs(t, err, ports.ErrInsufficientHistory)
	assert.Equal(t, "ATR", atr.Name())
}
