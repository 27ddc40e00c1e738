package indicators

import (
	"context"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
)

var (
	rsiMax     = decimal.NewFromInt(100)
	rsiNeutral = decimal.NewFromInt(50)
)

// RSIConfig holds configuration for the RSI indicator
type RSIConfig struct {
	IndicatorConfig
	Overbought decimal.Decimal
	Oversold   decimal.Decimal
}

// RSI implements the Relative Strength Index indicator
type RSI struct {
	BaseIndicator
	config RSIConfig
}

// NewRSI creates a new RSI indicator instance
func NewRSI(config RSIConfig) *RSI {
	return &RSI{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (r *RSI) Name() string {
	return "RSI"
}

// RequiredDataPoints is period+1 closes for period changes.
func (r *RSI) RequiredDataPoints() int {
	return r.Config.Period + 1
}

// Calculate computes the RSI value using Wilder's smoothing method
func (r *RSI) Calculate(ctx context.Context, klines []*domain.Kline) (decimal.Decimal, error) {
	period := r.Config.Period
	if period <= 0 || len(klines) <= period {
		return decimal.Zero, insufficient(r.Name(), period+1, len(klines))
	}

	changes := make([]decimal.Decimal, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		changes = append(changes, klines[i].Close.Sub(klines[i-1].Close))
	}

	p := decimal.NewFromInt(int64(period))
	pMinus1 := decimal.NewFromInt(int64(period - 1))

	avgGain, avgLoss := decimal.Zero, decimal.Zero
	for i := 0; i < period; i++ {
		if changes[i].IsPositive() {
			avgGain = avgGain.Add(changes[i])
		} else {
			avgLoss = avgLoss.Sub(changes[i])
		}
	}
	avgGain = avgGain.Div(p)
	avgLoss = avgLoss.Div(p)

	for i := period; i < len(changes); i++ {
		gain, loss := decimal.Zero, decimal.Zero
		if changes[i].IsPositive() {
			gain = changes[i]
		} else {
			loss = changes[i].Neg()
		}
		avgGain = avgGain.Mul(pMinus1).Add(gain).Div(p)
		avgLoss = avgLoss.Mul(pMinus1).Add(loss).Div(p)
	}

	if avgLoss.IsZero() {
		if avgGain.IsZero() {
			return rsiNeutral, nil
		}
		return rsiMax, nil
	}

	rs := avgGain.Div(avgLoss)
	rsi := rsiMax.Sub(rsiMax.Div(rs.Add(decimal.NewFromInt(1))))
	if rsi.GreaterThan(rsiMax) {
		rsi = rsiMax
	} else if rsi.IsNegative() {
		rsi = decimal.Zero
	}
	return rsi, nil
}

// IsOverbought checks if the RSI value indicates an overbought condition
func (r *RSI) IsOverbought(value decimal.Decimal) bool {
	return value.GreaterThanOrEqual(r.config.Overbought)
}

// IsOversold checks if the RSI value indicates an oversold condition
func (r *RSI) IsOversold(value decimal.Decimal) bool {
	return value.LessThanOrEqual(r.config.Oversold)
}
