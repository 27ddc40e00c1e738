package indicators

import (
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
)

var baseTime = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

// closes builds hourly klines with the given closes and a zero-width range.
func closes(values ...float64) []*domain.Kline {
	out := make([]*domain.Kline, len(values))
	for i, v := range values {
		c := decimal.NewFromFloat(v)
		out[i] = &domain.Kline{
			OpenTime: baseTime.Add(time.Duration(i) * time.Hour),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
		}
	}
	return out
}

// bars builds klines closing at close with high/low spread symmetrically by width.
func bars(n int, close, width float64) []*domain.Kline {
	out := make([]*domain.Kline, n)
	c := decimal.NewFromFloat(close)
	half := decimal.NewFromFloat(width / 2)
	for i := range out {
		out[i] = &domain.Kline{
			OpenTime: baseTime.Add(time.Duration(i) * time.Minute),
			Open:     c,
			High:     c.Add(half),
			Low:      c.Sub(half),
			Close:    c,
		}
	}
	return out
}
