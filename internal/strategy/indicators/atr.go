package indicators

import (
	"context"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
)

// ATRConfig holds configuration for the Average True Range indicator
type ATRConfig struct {
	IndicatorConfig
}

// ATR implements the Average True Range indicator with Wilder's smoothing.
// It satisfies ports.ATRProvider.
type ATR struct {
	BaseIndicator
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config ATRConfig) *ATR {
	if config.Period <= 0 {
		config.Period = 14
	}
	return &ATR{BaseIndicator: BaseIndicator{Config: config.IndicatorConfig}}
}

// Name returns the name of the indicator
func (a *ATR) Name() string {
	return "ATR"
}

// RequiredDataPoints is period+1: every true range after the first needs the previous close.
func (a *ATR) RequiredDataPoints() int {
	return a.Config.Period + 1
}

// Calculate computes the Average True Range value for the given klines
func (a *ATR) Calculate(ctx context.Context, klines []*domain.Kline) (decimal.Decimal, error) {
	period := a.Config.Period
	if len(klines) < period+1 {
		return decimal.Zero, insufficient(a.Name(), period+1, len(klines))
	}

	trueRanges := make([]decimal.Decimal, len(klines))
	trueRanges[0] = klines[0].High.Sub(klines[0].Low)
	for i := 1; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		trueRanges[i] = decimal.Max(
			high.Sub(low),
			high.Sub(prevClose).Abs(),
			low.Sub(prevClose).Abs(),
		)
	}

	// Seed with the simple average of the first period ranges, then smooth.
	p := decimal.NewFromInt(int64(period))
	pMinus1 := decimal.NewFromInt(int64(period - 1))
	atr := decimal.Zero
	for i := 0; i < period; i++ {
		atr = atr.Add(trueRanges[i])
	}
	atr = atr.Div(p)

	for i := period; i < len(klines); i++ {
		atr = atr.Mul(pMinus1).Add(trueRanges[i]).Div(p)
	}
	return atr, nil
}
