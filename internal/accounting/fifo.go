// Package accounting computes FIFO cost basis and realized PnL from fills.
package accounting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
)

// Result is the FIFO state after replaying a trade list.
type Result struct {
	RealizedPnL   decimal.Decimal
	RemainingBase decimal.Decimal
	RemainingCost decimal.Decimal // quote cost basis of remaining lots, fees included
	AvgEntryPrice decimal.Decimal // RemainingCost / RemainingBase, 0 when flat
}

// SellPnL is the realized PnL booked by one sell.
type SellPnL struct {
	Timestamp time.Time
	Symbol    string
	PnL       decimal.Decimal
}

type lot struct {
	qty      decimal.Decimal
	unitCost decimal.Decimal
}

// FIFO replays trades oldest-first and returns realized PnL and remaining inventory.
//
// Buy fees are capitalized into the lot unit cost; sell fees reduce realized PnL.
// Selling more than the tracked inventory drops the unmatched remainder.
// The input slice is not modified.
func FIFO(trades []*domain.Trade) Result {
	res, _ := replay(trades)
	return res
}

// RealizedBySell returns the realized PnL of every sell, in replay order.
func RealizedBySell(trades []*domain.Trade) []SellPnL {
	_, sells := replay(trades)
	return sells
}

// SortChronological returns a copy ordered by timestamp, keeping the original
// order for equal timestamps.
func SortChronological(trades []*domain.Trade) []*domain.Trade {
	sorted := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t != nil {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

func replay(trades []*domain.Trade) (Result, []SellPnL) {
	var (
		lots     []lot
		realized = decimal.Zero
		sells    []SellPnL
	)

	for _, t := range SortChronological(trades) {
		qty := t.Amount
		if !qty.IsPositive() {
			continue
		}
		switch t.Side {
		case domain.Buy:
			unit := t.Price.Add(t.Fee.Div(qty))
			lots = append(lots, lot{qty: qty, unitCost: unit})

		case domain.Sell:
			pnl := t.Fee.Neg()
			remaining := qty
			for remaining.IsPositive() && len(lots) > 0 {
				front := &lots[0]
				matched := decimal.Min(remaining, front.qty)
				pnl = pnl.Add(t.Price.Sub(front.unitCost).Mul(matched))
				front.qty = front.qty.Sub(matched)
				remaining = remaining.Sub(matched)
				if !front.qty.IsPositive() {
					lots = lots[1:]
				}
			}
			realized = realized.Add(pnl)
			sells = append(sells, SellPnL{Timestamp: t.Timestamp, Symbol: t.Symbol, PnL: pnl})
		}
	}

	base, cost := decimal.Zero, decimal.Zero
	for _, l := range lots {
		base = base.Add(l.qty)
		cost = cost.Add(l.qty.Mul(l.unitCost))
	}
	avg := decimal.Zero
	if base.IsPositive() {
		avg = cost.Div(base)
	}

	return Result{
		RealizedPnL:   realized,
		RemainingBase: base,
		RemainingCost: cost,
		AvgEntryPrice: avg,
	}, sells
}
