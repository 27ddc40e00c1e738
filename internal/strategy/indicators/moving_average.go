package indicators

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
	// ExponentialMovingAverage represents an exponential moving average
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements both SMA and EMA indicators
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	return string(m.config.Type)
}

// Calculate computes the moving average value based on the configured type
func (m *MovingAverage) Calculate(ctx context.Context, klines []*domain.Kline) (decimal.Decimal, error) {
	switch m.config.Type {
	case SimpleMovingAverage:
		return SMA(klines, m.Config.Period)
	case ExponentialMovingAverage:
		return EMA(klines, m.Config.Period)
	default:
		return decimal.Zero, fmt.Errorf("unsupported moving average type: %s", m.config.Type)
	}
}

// SMA is the mean close of the last period klines.
func SMA(klines []*domain.Kline, period int) (decimal.Decimal, error) {
	if period <= 0 || len(klines) < period {
		return decimal.Zero, insufficient("SMA", period, len(klines))
	}

	total := decimal.Zero
	for i := len(klines) - period; i < len(klines); i++ {
		total = total.Add(klines[i].Close)
	}
	return total.Div(decimal.NewFromInt(int64(period))), nil
}

// EMA seeds with the SMA of the first period closes and smooths over the rest.
func EMA(klines []*domain.Kline, period int) (decimal.Decimal, error) {
	if period <= 0 || len(klines) < period {
		return decimal.Zero, insufficient("EMA", period, len(klines))
	}

	multiplier := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	ema, err := SMA(klines[:period], period)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to calculate initial SMA for EMA: %w", err)
	}
	for i := period; i < len(klines); i++ {
		ema = klines[i].Close.Sub(ema).Mul(multiplier).Add(ema)
	}
	return ema, nil
}
