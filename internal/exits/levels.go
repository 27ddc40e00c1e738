package exits

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Levels are the ATR-derived price levels around an entry price.
type Levels struct {
	TP1 decimal.Decimal
	TP2 decimal.Decimal
	SL  decimal.Decimal
}

// ComputeLevels returns entry+k1*atr, entry+k2*atr and entry-k3*atr.
func ComputeLevels(entry, atr decimal.Decimal, cfg Config) Levels {
	return Levels{
		TP1: entry.Add(cfg.K1.Mul(atr)),
		TP2: entry.Add(cfg.K2.Mul(atr)),
		SL:  entry.Sub(cfg.K3.Mul(atr)),
	}
}

// tp1Reason formats e.g. "TP1_50%@1.0ATR".
func tp1Reason(cfg Config) string {
	return fmt.Sprintf("TP1_%s%%@%sATR", cfg.TP1Pct.String(), cfg.K1.StringFixed(1))
}
