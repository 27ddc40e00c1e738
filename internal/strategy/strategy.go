package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/ports"
	"cryptoSentinelBot/internal/strategy/indicators"
)

// Config holds parameters for the trading strategy.
type Config struct {
	Timeframe         string          // e.g., "15m"
	ShortTermMAPeriod int             // e.g., 20
	LongTermMAPeriod  int             // e.g., 50
	EMAPeriod         int             // e.g., 20
	RSIPeriod         int             // e.g., 14
	RSIOverbought     decimal.Decimal // e.g., 70
	QuoteAmount       decimal.Decimal // buy size in quote currency
}

// Strategy is the MA/EMA/RSI trend filter. It implements ports.DecisionProvider.
type Strategy struct {
	cfg    Config
	market ports.MarketData
	rsi    *indicators.RSI
	logger ports.Logger
}

// Snapshot holds the indicator values of one evaluation.
type Snapshot struct {
	Price   decimal.Decimal
	ShortMA decimal.Decimal
	LongMA  decimal.Decimal
	EMA     decimal.Decimal
	RSI     decimal.Decimal
}

// New creates a new Strategy instance.
func New(cfg Config, market ports.MarketData, logger ports.Logger) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if market == nil {
		return nil, fmt.Errorf("market data is required for strategy")
	}
	if cfg.ShortTermMAPeriod <= 0 || cfg.LongTermMAPeriod <= 0 || cfg.EMAPeriod <= 0 || cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("strategy periods must be positive")
	}
	if cfg.ShortTermMAPeriod >= cfg.LongTermMAPeriod {
		return nil, fmt.Errorf("short term MA period must be less than long term MA period")
	}
	if !cfg.QuoteAmount.IsPositive() {
		return nil, fmt.Errorf("strategy quote amount must be positive")
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "15m"
	}
	return &Strategy{
		cfg:    cfg,
		market: market,
		rsi:    indicators.NewRSI(indicators.RSIConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod}, Overbought: cfg.RSIOverbought}),
		logger: logger,
	}, nil
}

// RequiredDataPoints returns the minimum number of klines needed for the strategy calculations.
// It's the max of all indicator periods + 1 (for RSI lookback).
func (s *Strategy) RequiredDataPoints() int {
	maxPeriod := s.cfg.LongTermMAPeriod
	if s.cfg.EMAPeriod > maxPeriod {
		maxPeriod = s.cfg.EMAPeriod
	}
	if s.cfg.RSIPeriod > maxPeriod {
		maxPeriod = s.cfg.RSIPeriod
	}
	return maxPeriod + 1
}

// Decide fetches bars and returns buy, sell or hold for the symbol.
func (s *Strategy) Decide(ctx context.Context, symbol string, position *domain.Position) (*domain.Decision, error) {
	op := "Strategy.Decide"
	required := s.RequiredDataPoints()

	klines, err := s.market.FetchOHLCV(ctx, symbol, s.cfg.Timeframe, required)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch klines: %w", op, err)
	}
	if len(klines) < required {
		s.logger.Debug(ctx, op+": not enough kline data for strategy evaluation",
			map[string]interface{}{"available": len(klines), "required": required})
		return &domain.Decision{Action: domain.ActionHold, Reason: "insufficient_history"}, nil
	}

	snap, err := s.Evaluate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	score := trendScore(snap)

	switch {
	case position.IsOpen() && snap.ShortMA.LessThan(snap.LongMA):
		s.logger.Info(ctx, op+": trend reversal, exiting position", snap.fields())
		return &domain.Decision{
			Action:     domain.ActionSell,
			BaseAmount: position.BaseQty,
			Score:      score,
			Reason:     "ma_cross_down",
		}, nil

	case !position.IsOpen() && s.ShouldEnterTrade(snap):
		s.logger.Info(ctx, op+": trade entry conditions met", snap.fields())
		return &domain.Decision{
			Action:      domain.ActionBuy,
			QuoteAmount: s.cfg.QuoteAmount,
			Score:       score,
			Reason:      "trend_up",
		}, nil
	}

	s.logger.Debug(ctx, op+": holding", snap.fields())
	return &domain.Decision{Action: domain.ActionHold, Score: score, Reason: "no_signal"}, nil
}

// Evaluate computes every indicator over klines. The price is the last close.
func (s *Strategy) Evaluate(ctx context.Context, klines []*domain.Kline) (Snapshot, error) {
	var snap Snapshot
	var err error
	if len(klines) == 0 {
		return snap, fmt.Errorf("no klines: %w", ports.ErrInsufficientHistory)
	}
	snap.Price = klines[len(klines)-1].Close

	if snap.ShortMA, err = indicators.SMA(klines, s.cfg.ShortTermMAPeriod); err != nil {
		return snap, fmt.Errorf("short term MA: %w", err)
	}
	if snap.LongMA, err = indicators.SMA(klines, s.cfg.LongTermMAPeriod); err != nil {
		return snap, fmt.Errorf("long term MA: %w", err)
	}
	if snap.EMA, err = indicators.EMA(klines, s.cfg.EMAPeriod); err != nil {
		return snap, fmt.Errorf("EMA: %w", err)
	}
	if snap.RSI, err = s.rsi.Calculate(ctx, klines); err != nil {
		return snap, fmt.Errorf("RSI: %w", err)
	}
	return snap, nil
}

// ShouldEnterTrade is true in an uptrend above the EMA that is not overbought.
func (s *Strategy) ShouldEnterTrade(snap Snapshot) bool {
	isTrendingUp := snap.Price.GreaterThan(snap.ShortMA) && snap.ShortMA.GreaterThan(snap.LongMA)
	isAboveEMA := snap.Price.GreaterThan(snap.EMA)
	return isTrendingUp && isAboveEMA && !s.rsi.IsOverbought(snap.RSI)
}

// trendScore is the short/long MA spread in percent.
func trendScore(snap Snapshot) float64 {
	if !snap.LongMA.IsPositive() {
		return 0
	}
	return snap.ShortMA.Sub(snap.LongMA).Div(snap.LongMA).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

func (snap Snapshot) fields() map[string]interface{} {
	return map[string]interface{}{
		"price":   snap.Price.String(),
		"shortMA": snap.ShortMA.StringFixed(4),
		"longMA":  snap.LongMA.StringFixed(4),
		"ema":     snap.EMA.StringFixed(4),
		"rsi":     snap.RSI.StringFixed(2),
	}
}
