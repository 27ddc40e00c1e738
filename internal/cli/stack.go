package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cryptoSentinelBot/config"
	"cryptoSentinelBot/internal/adapters/binanceclient"
	"cryptoSentinelBot/internal/adapters/logger"
	"cryptoSentinelBot/internal/adapters/paper"
	"cryptoSentinelBot/internal/adapters/sqlite"
	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/eventbus"
	"cryptoSentinelBot/internal/idempotency"
	"cryptoSentinelBot/internal/ledger"
	"cryptoSentinelBot/internal/metrics"
	"cryptoSentinelBot/internal/ports"
	"cryptoSentinelBot/internal/reconcile"
)

// stack is the shared infrastructure every command builds on.
type stack struct {
	cfg      *config.Config
	logger   ports.Logger
	repo     *sqlite.Repository
	venue    *binanceclient.Client
	broker   ports.Broker
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	bus      *eventbus.Bus
	ledger   *ledger.Ledger

	closers []func()
}

// newLogger builds the text or JSON logger. The returned func flushes it.
func newLogger(cfg *config.Config) (ports.Logger, func(), error) {
	if cfg.LogFormat == "json" {
		z, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("creating zap logger: %w", err)
		}
		return z, func() { _ = z.Sync() }, nil
	}
	return logger.NewStdLogger(cfg.LogLevel), func() {}, nil
}

// openStack wires logger, storage, venue, metrics and bus. Callers must Close it.
func openStack(cfg *config.Config) (*stack, error) {
	ctx := context.Background()
	s := &stack{cfg: cfg}

	// 1. Initialize Logger
	appLogger, flush, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	s.logger = appLogger
	s.closers = append(s.closers, flush)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{
		"level":  cfg.LogLevel.String(),
		"format": cfg.LogFormat,
	})

	// 2. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initializing database repository: %w", err)
	}
	s.repo = repo
	s.closers = append(s.closers, func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	})

	// 3. Initialize Exchange Client (Binance Adapter). Paper mode still reads
	// public market data from it.
	venue, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initializing Binance client: %w", err)
	}
	s.venue = venue
	s.broker = venue

	if !cfg.IsLive() {
		_, quote, _ := domain.SplitSymbol(cfg.Symbol)
		pb, err := paper.New(paper.Config{
			Market:       venue,
			Logger:       appLogger,
			FeeRate:      cfg.PaperFeeRate,
			QuoteBalance: cfg.PaperQuoteBalance,
			QuoteAsset:   quote,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("initializing paper broker: %w", err)
		}
		s.broker = pb
	}
	appLogger.Info(ctx, "Broker initialized", map[string]interface{}{"mode": cfg.Mode, "testnet": cfg.IsTestnet})

	// 4. Initialize Metrics and Event Bus
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = metrics.New(s.registry)

	s.bus = eventbus.New(cfg.Bus, appLogger, s.metrics)
	s.bus.AttachLoggerDLQ()

	// 5. Initialize Position Ledger
	s.ledger = ledger.New(repo.Trades(), repo.Positions(), appLogger)

	return s, nil
}

// idempotencyStore picks the configured backend.
func (s *stack) idempotencyStore() ports.IdempotencyStore {
	if s.cfg.IdempotencyBackend == "memory" {
		return idempotency.NewMemoryStore()
	}
	return s.repo.Idempotency()
}

// reconcileService builds the order, balance and position reconcilers.
func (s *stack) reconcileService() *reconcile.Service {
	return reconcile.NewService(s.bus, s.logger, s.metrics,
		reconcile.NewOrdersReconciler(s.broker, s.repo.Orders(), s.logger),
		reconcile.NewBalancesReconciler(s.broker, s.bus, s.logger),
		reconcile.NewPositionsReconciler(s.broker, s.repo.Positions(), s.ledger),
	)
}

// Close releases resources in reverse order of acquisition.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
