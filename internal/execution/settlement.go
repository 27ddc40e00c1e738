package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/eventbus"
	"cryptoSentinelBot/internal/ports"
)

const followupSuffix = "-pf"

var (
	completeRatio = decimal.RequireFromString("0.999")
	followupBelow = decimal.RequireFromString("0.95")
)

// SettlerDeps are the Settler collaborators. Trades and Ledger may be nil.
type SettlerDeps struct {
	Broker ports.Broker
	Orders ports.OrderRepository
	Trades ports.TradeRepository
	Ledger PositionApplier
	Placer OrderPlacer
	Events ports.EventPublisher
	Logger ports.Logger
}

// SettlementReport counts what one Settle pass did.
type SettlementReport struct {
	Checked   int
	Settled   int
	Pending   int
	TimedOut  int
	FollowUps int
	Errors    int
}

// Settler follows open orders until the venue closes them.
type Settler struct {
	timeout time.Duration
	deps    SettlerDeps
	now     func() time.Time
}

// NewSettler creates a Settler. timeout defaults to 300s.
func NewSettler(timeout time.Duration, deps SettlerDeps) *Settler {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Settler{
		timeout: timeout,
		deps:    deps,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Settle polls every locally tracked open order of symbol once.
//
// Closed orders are booked and published as trade.settled. Orders still open
// past the timeout with less than 99.9% filled are published as
// trade.settlement_timeout, booked for what did fill, and, when between 0 and
// 95% filled, completed by one follow-up order for the remainder.
func (s *Settler) Settle(ctx context.Context, symbol string) (SettlementReport, error) {
	op := "Settler.Settle"
	var report SettlementReport

	open, err := s.deps.Orders.ListOpen(ctx, symbol)
	if err != nil {
		return report, fmt.Errorf("%s: list open orders: %w", op, err)
	}

	for _, local := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		fields := map[string]interface{}{
			"symbol":          symbol,
			"client_order_id": local.ClientOrderID,
			"order_id":        local.BrokerOrderID,
		}

		remote, err := s.deps.Broker.FetchOrder(ctx, symbol, local.BrokerOrderID)
		if err != nil {
			report.Errors++
			s.deps.Logger.Warn(ctx, op+": failed to fetch order", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
			continue
		}
		remote.ClientOrderID = local.ClientOrderID
		remote.Symbol = symbol
		if remote.Side == "" {
			remote.Side = local.Side
		}
		if remote.Timestamp.IsZero() {
			remote.Timestamp = local.Timestamp
		}

		if remote.Status.IsTerminal() {
			s.settle(ctx, remote, fields)
			report.Settled++
			continue
		}

		if err := s.deps.Orders.UpdateProgress(ctx, remote); err != nil {
			s.deps.Logger.Warn(ctx, op+": failed to update order progress", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
		}

		ratio := remote.FillRatio()
		age := s.now().Sub(local.Timestamp)
		if age < s.timeout || ratio.GreaterThanOrEqual(completeRatio) {
			report.Pending++
			continue
		}

		report.TimedOut++
		s.timeoutOrder(ctx, remote, ratio, age, fields)
		if ratio.IsPositive() && ratio.LessThan(followupBelow) {
			if s.followup(ctx, remote, fields) {
				report.FollowUps++
			}
		}
	}
	return report, nil
}

func (s *Settler) settle(ctx context.Context, order *domain.Order, fields map[string]interface{}) {
	op := "Settler.settle"
	if err := s.deps.Orders.MarkClosed(ctx, order.ClientOrderID, order.Status); err != nil {
		s.deps.Logger.Warn(ctx, op+": failed to mark order closed", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
	}
	recordFill(ctx, op, order, s.deps.Trades, s.deps.Ledger, s.deps.Logger)

	s.deps.Events.Publish(ctx, eventbus.TopicTradeSettled, map[string]string{
		"symbol":          order.Symbol,
		"side":            string(order.Side),
		"client_order_id": order.ClientOrderID,
		"order_id":        order.BrokerOrderID,
		"status":          string(order.Status),
		"filled":          order.Filled.String(),
		"price":           order.Price.String(),
	}, "settled:"+order.ClientOrderID)
	s.deps.Logger.Info(ctx, op+": order settled", mergeFields(fields, map[string]interface{}{"status": string(order.Status)}))
}

func (s *Settler) timeoutOrder(ctx context.Context, order *domain.Order, ratio decimal.Decimal, age time.Duration, fields map[string]interface{}) {
	op := "Settler.timeoutOrder"
	s.deps.Events.Publish(ctx, eventbus.TopicTradeSettlementTimeout, map[string]string{
		"symbol":          order.Symbol,
		"side":            string(order.Side),
		"client_order_id": order.ClientOrderID,
		"order_id":        order.BrokerOrderID,
		"fill_ratio":      ratio.StringFixed(4),
		"age_seconds":     fmt.Sprintf("%d", int64(age.Seconds())),
	}, "timeout:"+order.ClientOrderID)
	s.deps.Logger.Warn(ctx, op+": order not settled in time", mergeFields(fields, map[string]interface{}{
		"fill_ratio": ratio.StringFixed(4),
		"age":        age.String(),
	}))

	if err := s.deps.Orders.MarkClosed(ctx, order.ClientOrderID, domain.OrderExpired); err != nil {
		s.deps.Logger.Warn(ctx, op+": failed to stop tracking order", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
	}
	recordFill(ctx, op, order, s.deps.Trades, s.deps.Ledger, s.deps.Logger)
}

func (s *Settler) followup(ctx context.Context, order *domain.Order, fields map[string]interface{}) bool {
	op := "Settler.followup"
	if s.deps.Placer == nil {
		return false
	}
	remaining := order.Remaining()
	req := OrderRequest{
		Symbol:        order.Symbol,
		Side:          order.Side,
		ClientOrderID: order.ClientOrderID + followupSuffix,
		Reason:        "partial_fill_followup",
	}
	if order.Side == domain.Buy {
		if !order.Price.IsPositive() {
			s.deps.Logger.Warn(ctx, op+": no fill price to size buy remainder", fields)
			return false
		}
		req.QuoteAmount = remaining.Mul(order.Price)
	} else {
		req.BaseAmount = remaining
	}

	res, err := s.deps.Placer.PlaceOrder(ctx, req)
	status := StatusFailed
	if res != nil {
		status = res.Status
	}
	if err != nil {
		s.deps.Logger.Error(ctx, err, op+": follow-up order failed", fields)
	}

	s.deps.Events.Publish(ctx, eventbus.TopicTradePartialFollowup, map[string]string{
		"symbol":                 order.Symbol,
		"side":                   string(order.Side),
		"client_order_id":        req.ClientOrderID,
		"parent_client_order_id": order.ClientOrderID,
		"remaining":              remaining.String(),
		"status":                 string(status),
	}, "followup:"+req.ClientOrderID)
	return status == StatusExecuted
}
