// Package execution places orders exactly once and keeps local bookkeeping in
// step with the venue.
package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/eventbus"
	"cryptoSentinelBot/internal/ids"
	"cryptoSentinelBot/internal/metrics"
	"cryptoSentinelBot/internal/ports"
)

// Status is the outcome of PlaceOrder.
type Status string

const (
	StatusExecuted  Status = "executed"
	StatusDuplicate Status = "duplicate"
	StatusBlocked   Status = "blocked"
	StatusFailed    Status = "failed"
)

// Rejection and failure reasons.
const (
	ReasonDuplicate              = "duplicate"
	ReasonSlippagePrefix         = "slippage_exceeds:"
	ReasonIdempotencyUnavailable = "idempotency_unavailable"
	ReasonInvalidSide            = "invalid_side"
	ReasonInvalidAmount          = "invalid_amount"
	ReasonBrokerError            = "broker_error"
	ReasonNotFilled              = "not_filled"
)

const derivedIDPrefix = "sb-"

// OrderRequest is one market order intent. Buys are sized by QuoteAmount,
// sells by BaseAmount.
type OrderRequest struct {
	Symbol        string
	Side          domain.OrderSide
	QuoteAmount   decimal.Decimal
	BaseAmount    decimal.Decimal
	ClientOrderID string // optional; derived from the request when empty
	Reason        string
}

// Result describes what PlaceOrder did.
type Result struct {
	Status        Status
	Reason        string
	ClientOrderID string
	Order         *domain.Order
}

// OrderPlacer is the entry point other components sell and buy through.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*Result, error)
}

// PositionApplier rebuilds a position after a fill.
type PositionApplier interface {
	ApplyTrade(ctx context.Context, symbol string, markPrice decimal.Decimal) (*domain.Position, error)
}

// PipelineConfig tunes the pipeline.
type PipelineConfig struct {
	SessionID      string
	IdempotencyTTL time.Duration   // default 60s
	MaxSlippagePct decimal.Decimal // 0 disables the spread gate
}

// Deps are the pipeline collaborators. Trades, Orders, Ledger, Audit and
// Metrics may be nil.
type Deps struct {
	Broker      ports.Broker
	Idempotency ports.IdempotencyStore
	Trades      ports.TradeRepository
	Orders      ports.OrderRepository
	Ledger      PositionApplier
	Audit       ports.AuditRepository
	Events      ports.EventPublisher
	Logger      ports.Logger
	Metrics     *metrics.Metrics
}

// Pipeline implements OrderPlacer.
type Pipeline struct {
	cfg  PipelineConfig
	deps Deps
	now  func() time.Time
}

// NewPipeline validates the dependencies and creates a pipeline.
func NewPipeline(cfg PipelineConfig, deps Deps) (*Pipeline, error) {
	if deps.Broker == nil || deps.Idempotency == nil || deps.Events == nil || deps.Logger == nil {
		return nil, fmt.Errorf("execution pipeline: broker, idempotency store, events and logger are required: %w", ports.ErrConfigurationError)
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 60 * time.Second
	}
	return &Pipeline{
		cfg:  cfg,
		deps: deps,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// PlaceOrder runs the request through idempotency, audit, the spread gate and
// a single venue call, then books the fill.
func (p *Pipeline) PlaceOrder(ctx context.Context, req OrderRequest) (*Result, error) {
	op := "Pipeline.PlaceOrder"

	if reason, ok := validate(req); !ok {
		err := &OrderError{Symbol: req.Symbol, Side: req.Side, ClientOrderID: req.ClientOrderID, Reason: reason, Err: ports.ErrInvalidRequest}
		p.deps.Metrics.Order(string(req.Side), string(StatusFailed))
		return &Result{Status: StatusFailed, Reason: reason, ClientOrderID: req.ClientOrderID}, err
	}

	key, clientID := p.idempotencyKey(req)
	fields := map[string]interface{}{
		"symbol":          req.Symbol,
		"side":            string(req.Side),
		"client_order_id": clientID,
	}

	// 1. Idempotency
	claimed, err := p.deps.Idempotency.CheckAndStore(ctx, key, p.cfg.IdempotencyTTL)
	if err != nil {
		p.deps.Logger.Error(ctx, err, op+": idempotency store unavailable, refusing order", fields)
		p.publishFailed(ctx, req, clientID, ReasonIdempotencyUnavailable, err)
		return p.fail(req, clientID, ReasonIdempotencyUnavailable, err)
	}
	if !claimed {
		p.deps.Logger.Info(ctx, op+": duplicate order suppressed", fields)
		p.publishBlocked(ctx, req, clientID, ReasonDuplicate)
		p.deps.Metrics.Order(string(req.Side), string(StatusDuplicate))
		return &Result{Status: StatusDuplicate, Reason: ReasonDuplicate, ClientOrderID: clientID}, nil
	}

	// 2. Audit
	p.audit(ctx, domain.AuditRequest, req, clientID, map[string]string{
		"quote_amount": req.QuoteAmount.String(),
		"base_amount":  req.BaseAmount.String(),
		"reason":       req.Reason,
		"session_id":   p.cfg.SessionID,
	})

	// 3. Spread gate
	if p.cfg.MaxSlippagePct.IsPositive() {
		ticker, err := p.deps.Broker.FetchTicker(ctx, req.Symbol)
		if err != nil {
			p.deps.Logger.Warn(ctx, op+": ticker unavailable, skipping spread check", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
		} else if spread, ok := ticker.SpreadPct(); ok && spread.GreaterThan(p.cfg.MaxSlippagePct) {
			reason := ReasonSlippagePrefix + spread.StringFixed(4)
			p.deps.Logger.Warn(ctx, op+": spread above ceiling, order blocked", mergeFields(fields, map[string]interface{}{"spread_pct": spread.StringFixed(4)}))
			p.publishBlocked(ctx, req, clientID, reason)
			p.deps.Metrics.Order(string(req.Side), string(StatusBlocked))
			return &Result{Status: StatusBlocked, Reason: reason, ClientOrderID: clientID}, nil
		}
	}

	// 4. Execute
	order, err := p.submit(ctx, req, clientID)
	if err != nil {
		p.deps.Logger.Error(ctx, err, op+": venue rejected order", fields)
		p.audit(ctx, domain.AuditError, req, clientID, map[string]string{"error": err.Error()})
		p.publishFailed(ctx, req, clientID, ReasonBrokerError, err)
		return p.fail(req, clientID, ReasonBrokerError, err)
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = clientID
	}
	if order.Symbol == "" {
		order.Symbol = req.Symbol
	}
	if order.Side == "" {
		order.Side = req.Side
	}
	if order.Status.IsTerminal() && order.Status != domain.OrderClosed && !order.Filled.IsPositive() {
		reason := ReasonNotFilled + ":" + string(order.Status)
		cause := fmt.Errorf("venue reported %s with no fill", order.Status)
		p.deps.Logger.Warn(ctx, op+": order ended without a fill", mergeFields(fields, map[string]interface{}{"status": string(order.Status)}))
		p.audit(ctx, domain.AuditError, req, clientID, map[string]string{"error": cause.Error(), "order_id": order.BrokerOrderID})
		p.publishFailed(ctx, req, clientID, reason, cause)
		return p.fail(req, clientID, reason, cause)
	}

	// 5. Book the fill. The venue has already acted, so the caller's
	// cancellation no longer applies.
	bookCtx := context.WithoutCancel(ctx)
	p.book(bookCtx, order)

	p.deps.Events.Publish(bookCtx, eventbus.TopicTradeCompleted, map[string]string{
		"symbol":          order.Symbol,
		"side":            string(order.Side),
		"amount":          order.Filled.String(),
		"price":           order.Price.String(),
		"cost":            order.Cost.String(),
		"fee":             order.Fee.String(),
		"client_order_id": order.ClientOrderID,
		"order_id":        order.BrokerOrderID,
		"status":          string(order.Status),
		"reason":          req.Reason,
	}, "completed:"+order.ClientOrderID)

	p.audit(bookCtx, domain.AuditSuccess, req, clientID, map[string]string{
		"order_id": order.BrokerOrderID,
		"status":   string(order.Status),
		"filled":   order.Filled.String(),
		"price":    order.Price.String(),
		"cost":     order.Cost.String(),
		"fee":      order.Fee.String(),
	})
	p.deps.Metrics.Order(string(req.Side), string(StatusExecuted))
	p.deps.Logger.Info(ctx, op+": order executed", mergeFields(fields, map[string]interface{}{
		"order_id": order.BrokerOrderID,
		"filled":   order.Filled.String(),
		"price":    order.Price.String(),
	}))

	return &Result{Status: StatusExecuted, ClientOrderID: clientID, Order: order}, nil
}

func validate(req OrderRequest) (string, bool) {
	switch req.Side {
	case domain.Buy:
		if !req.QuoteAmount.IsPositive() {
			return ReasonInvalidAmount, false
		}
	case domain.Sell:
		if !req.BaseAmount.IsPositive() {
			return ReasonInvalidAmount, false
		}
	default:
		return ReasonInvalidSide, false
	}
	return "", true
}

func (p *Pipeline) submit(ctx context.Context, req OrderRequest, clientID string) (*domain.Order, error) {
	var (
		order *domain.Order
		err   error
	)
	if req.Side == domain.Buy {
		order, err = p.deps.Broker.CreateMarketBuyQuote(ctx, req.Symbol, req.QuoteAmount, clientID)
	} else {
		order, err = p.deps.Broker.CreateMarketSellBase(ctx, req.Symbol, req.BaseAmount, clientID)
	}
	if err == nil && order == nil {
		err = errors.New("venue returned no order")
	}
	return order, err
}

// book records a closed order as a trade and rebuilds the position. Orders
// still open on the venue are tracked and booked later by the Settler.
func (p *Pipeline) book(ctx context.Context, order *domain.Order) {
	op := "Pipeline.book"
	fields := map[string]interface{}{"symbol": order.Symbol, "client_order_id": order.ClientOrderID}

	if !order.Status.IsTerminal() {
		if p.deps.Orders != nil {
			if err := p.deps.Orders.UpsertOpen(ctx, order); err != nil {
				p.deps.Logger.Error(ctx, err, op+": failed to track open order", fields)
			}
		}
		return
	}
	recordFill(ctx, op, order, p.deps.Trades, p.deps.Ledger, p.deps.Logger)
}

func recordFill(ctx context.Context, op string, order *domain.Order, trades ports.TradeRepository, ledger PositionApplier, logger ports.Logger) {
	if !order.Filled.IsPositive() {
		return
	}
	fields := map[string]interface{}{"symbol": order.Symbol, "client_order_id": order.ClientOrderID}
	if trades != nil {
		inserted, err := trades.AddFromOrder(ctx, order)
		if err != nil {
			logger.Error(ctx, err, op+": failed to record trade", fields)
			return
		}
		if !inserted {
			logger.Debug(ctx, op+": trade already recorded", fields)
		}
	}
	if ledger != nil {
		if _, err := ledger.ApplyTrade(ctx, order.Symbol, order.Price); err != nil {
			logger.Error(ctx, err, op+": failed to apply trade to position", fields)
		}
	}
}

func (p *Pipeline) idempotencyKey(req OrderRequest) (key, clientID string) {
	if req.ClientOrderID != "" {
		return "co:" + req.ClientOrderID, req.ClientOrderID
	}
	raw := strings.Join([]string{
		req.Symbol,
		string(req.Side),
		req.QuoteAmount.String(),
		req.BaseAmount.String(),
		p.cfg.SessionID,
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	h := hex.EncodeToString(sum[:])
	return "h:" + h, derivedIDPrefix + h[:24]
}

func (p *Pipeline) fail(req OrderRequest, clientID, reason string, cause error) (*Result, error) {
	p.deps.Metrics.Order(string(req.Side), string(StatusFailed))
	return &Result{Status: StatusFailed, Reason: reason, ClientOrderID: clientID},
		&OrderError{Symbol: req.Symbol, Side: req.Side, ClientOrderID: clientID, Reason: reason, Err: cause}
}

func (p *Pipeline) publishBlocked(ctx context.Context, req OrderRequest, clientID, reason string) {
	p.deps.Events.Publish(ctx, eventbus.TopicTradeBlocked, map[string]string{
		"symbol":          req.Symbol,
		"side":            string(req.Side),
		"client_order_id": clientID,
		"reason":          reason,
	}, "")
}

func (p *Pipeline) publishFailed(ctx context.Context, req OrderRequest, clientID, reason string, cause error) {
	payload := map[string]string{
		"symbol":          req.Symbol,
		"side":            string(req.Side),
		"client_order_id": clientID,
		"reason":          reason,
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	p.deps.Events.Publish(ctx, eventbus.TopicTradeFailed, payload, "")
}

func (p *Pipeline) audit(ctx context.Context, kind domain.AuditKind, req OrderRequest, clientID string, detail map[string]string) {
	if p.deps.Audit == nil {
		return
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		raw = []byte("{}")
	}
	entry := &domain.AuditEntry{
		ID:            ids.NewULID(),
		Kind:          kind,
		Symbol:        req.Symbol,
		Side:          req.Side,
		ClientOrderID: clientID,
		Detail:        string(raw),
		CreatedAt:     p.now(),
	}
	if err := p.deps.Audit.Record(ctx, entry); err != nil {
		p.deps.Logger.Warn(ctx, "Pipeline.audit: failed to write audit entry", map[string]interface{}{
			"kind":            string(kind),
			"client_order_id": clientID,
			"error":           err.Error(),
		})
	}
}

func mergeFields(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
