package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"cryptoSentinelBot/internal/app"
	"cryptoSentinelBot/internal/execution"
	"cryptoSentinelBot/internal/exits"
	"cryptoSentinelBot/internal/risk"
	"cryptoSentinelBot/internal/strategy"
	"cryptoSentinelBot/internal/strategy/indicators"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestrator until SIGINT or SIGTERM",
	Long: `Start the evaluate, exits, watchdog and reconcile loops for SYMBOL.

MODE=paper (default) fills orders in memory against live Binance quotes;
MODE=live sends them to Binance. Metrics are served on METRICS_ADDR.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var runOnce bool

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run every loop unit once and exit")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	log := s.logger
	baseCtx := context.Background()

	// 6. Initialize Execution Pipeline
	idem := s.idempotencyStore()
	placer, err := execution.NewPipeline(execution.PipelineConfig{
		SessionID:      cfg.SessionID,
		IdempotencyTTL: cfg.IdempotencyTTL,
		MaxSlippagePct: cfg.MaxSlippagePct,
	}, execution.Deps{
		Broker:      s.broker,
		Idempotency: idem,
		Trades:      s.repo.Trades(),
		Orders:      s.repo.Orders(),
		Ledger:      s.ledger,
		Audit:       s.repo.Audit(),
		Events:      s.bus,
		Logger:      log,
		Metrics:     s.metrics,
	})
	if err != nil {
		return fmt.Errorf("initializing execution pipeline: %w", err)
	}
	settler := execution.NewSettler(cfg.SettlementTimeout, execution.SettlerDeps{
		Broker: s.broker,
		Orders: s.repo.Orders(),
		Trades: s.repo.Trades(),
		Ledger: s.ledger,
		Placer: placer,
		Events: s.bus,
		Logger: log,
	})

	// 7. Initialize Strategy, Risk and Exits
	strat, err := strategy.New(cfg.Strategy, s.broker, log)
	if err != nil {
		return fmt.Errorf("initializing trading strategy: %w", err)
	}
	rules := risk.NewRuleSet(cfg.Risk)
	log.Info(baseCtx, "Risk rules enabled", map[string]interface{}{"rules": rules.Rules()})

	exitManager := exits.NewManager(cfg.Exits, exits.Deps{
		Positions: s.repo.Positions(),
		Market:    s.broker,
		ATR:       indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: 14}}),
		Placer:    placer,
		Logger:    log,
		Metrics:   s.metrics,
	})

	// 8. Initialize Orchestrator
	orch, err := app.NewOrchestrator(app.Config{
		Symbol:            cfg.Symbol,
		EvalInterval:      cfg.EvalInterval,
		ExitsInterval:     cfg.ExitsInterval,
		WatchdogInterval:  cfg.WatchdogInterval,
		ReconcileInterval: cfg.ReconcileInterval,
		DrainTimeout:      cfg.DrainTimeout,
		DeadMansTimeout:   cfg.DeadMansTimeout,
		Lease: app.LeaseConfig{
			Owner: instanceOwner(cfg.SessionID),
			TTL:   cfg.LockTTL,
		},
		Watchdog: app.WatchdogConfig{
			Window:          cfg.WatchdogWindow,
			PauseErrorRate:  cfg.WatchdogPauseErrorRate,
			PauseLatency:    cfg.WatchdogPauseLatency,
			ResumeErrorRate: cfg.WatchdogResumeErrorRate,
			ResumeLatency:   cfg.WatchdogResumeLatency,
		},
	}, app.Deps{
		Events:      s.bus,
		Decider:     strat,
		Risk:        rules,
		Placer:      placer,
		Exits:       exitManager,
		Reconciler:  s.reconcileService(),
		Settler:     settler,
		Idempotency: idem,
		Market:      s.broker,
		Trades:      s.repo.Trades(),
		Positions:   s.repo.Positions(),
		Locks:       s.repo.Locks(),
		Logger:      log,
		Metrics:     s.metrics,
	})
	if err != nil {
		return fmt.Errorf("initializing orchestrator: %w", err)
	}

	if runOnce {
		err := orch.RunOnce(baseCtx)
		exitManager.StopAll()
		return err
	}

	// 9. Serve metrics
	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg.MetricsAddr, s, orch)
		go func() {
			log.Info(baseCtx, "Serving metrics", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(baseCtx, err, "Metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(baseCtx, 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// 10. Start the Orchestrator and wait for a signal
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}
	<-ctx.Done()
	log.Info(baseCtx, "Shutdown signal received")

	stopCtx, cancel := context.WithTimeout(baseCtx, cfg.DrainTimeout+10*time.Second)
	defer cancel()
	if err := orch.Stop(stopCtx); err != nil {
		log.Error(baseCtx, err, "Orchestrator did not stop cleanly")
		return err
	}
	log.Info(baseCtx, "Application finished gracefully.")
	return nil
}

// newMetricsServer exposes /metrics, /healthz and a JSON /status snapshot.
func newMetricsServer(addr string, s *stack, orch *app.Orchestrator) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(orch.Status())
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// instanceOwner identifies this process in the instance lease.
func instanceOwner(sessionID string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), sessionID)
}
