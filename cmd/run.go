package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/drawpulse/drawpulse/internal/analysis"
	"github.com/drawpulse/drawpulse/internal/collector"
	"github.com/drawpulse/drawpulse/internal/config"
	"github.com/drawpulse/drawpulse/internal/logging"
	"github.com/drawpulse/drawpulse/internal/metrics"
	"github.com/drawpulse/drawpulse/internal/ops"
	"github.com/drawpulse/drawpulse/internal/pipeline"
	"github.com/drawpulse/drawpulse/internal/scheduler"
	"github.com/drawpulse/drawpulse/internal/storage/memory"
	"github.com/drawpulse/drawpulse/internal/storage/postgres"
	"github.com/drawpulse/drawpulse/internal/validator"
	"github.com/drawpulse/drawpulse/internal/worker"
)

type runOptions struct {
	iterations       int
	storeBackend     string
	simulateFailures []string
}

// newRunCmd creates and configures the 'run' subcommand.
func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the full pipeline",
		Long: `Starts the collector, validator and worker stages on their
configured intervals, together with the alert monitor and the operator
HTTP server. With --iterations the pipeline runs a fixed number of
ticks per stage and exits; otherwise it runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.iterations, "iterations", 0,
		"ticks to run per stage before exiting (0 = run forever)")
	cmd.Flags().StringVar(&opts.storeBackend, "store", "",
		"store backend: memory or postgres (default: postgres when db.dsn is set)")
	cmd.Flags().StringArrayVar(&opts.simulateFailures, "simulate-failure", nil,
		"force ticks of a component to fail (repeatable: collector, validator, worker)")

	return cmd
}

func runPipeline(parent context.Context, opts *runOptions) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, opts.storeBackend, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	client := collector.NewClient(collector.ClientConfig{
		UserAgent:      cfg.Source.UserAgent,
		Timeout:        cfg.SourceTimeout(),
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: cfg.BackoffInitial(),
		BackoffMax:     cfg.BackoffMax(),
		RateLimitRPS:   cfg.Collector.RateLimitRPS,
		RateBurst:      cfg.Collector.RateBurst,
	}, logger)

	coll := collector.New(store, client, nil, collector.Config{
		SourceName:      cfg.Source.Name,
		HistoryEndpoint: cfg.Source.HistoryEndpoint,
		LatestEndpoint:  cfg.Source.LatestEndpoint,
		BatchSize:       cfg.Collector.BatchSize,
	}, logger)

	valid := validator.New(store, validator.Rules{
		BatchSize:     cfg.Validator.BatchSize,
		DomainMin:     cfg.Validator.DomainMin,
		DomainMax:     cfg.Validator.DomainMax,
		ExpectedCount: cfg.Validator.ExpectedCount,
		BigThreshold:  cfg.Validator.BigThreshold,
	}, logger)

	work := worker.New(store, analysis.Registry(store), worker.Config{
		BatchSize: cfg.Worker.BatchSize,
	}, logger)

	monitor := scheduler.NewMonitor(store, nil, scheduler.MonitorConfig{
		Window:    cfg.Alerts.Window,
		Threshold: cfg.Alerts.Threshold,
		Cooldown:  cfg.AlertCooldown(),
	}, logger)

	stages := []scheduler.Stage{coll, valid, work}
	sched := scheduler.New(stages, store, monitor, scheduler.Config{
		Intervals: map[string]time.Duration{
			pipeline.ComponentCollector: cfg.StageInterval(pipeline.ComponentCollector),
			pipeline.ComponentValidator: cfg.StageInterval(pipeline.ComponentValidator),
			pipeline.ComponentWorker:    cfg.StageInterval(pipeline.ComponentWorker),
		},
	}, logger)
	if len(opts.simulateFailures) > 0 {
		logger.Warn("fault injection enabled", zap.Strings("components", opts.simulateFailures))
		sched = sched.WithInjector(scheduler.NewFaultInjector(opts.simulateFailures...))
	}

	server := ops.NewServer(store, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, cfg.Ops.Port)
	})
	g.Go(func() error {
		defer stop() // a finite scheduler run also stops the ops server
		return sched.Run(ctx, opts.iterations)
	})

	logger.Info("pipeline started",
		zap.Int("iterations", opts.iterations),
		zap.Int("ops_port", cfg.Ops.Port),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("pipeline stopped")
	return nil
}

// openStore selects the durable store backend. An explicit --store flag
// wins; otherwise a configured DSN selects Postgres.
func openStore(ctx context.Context, cfg config.Config, backend string, logger *zap.Logger) (pipeline.Store, func(), error) {
	if backend == "" {
		backend = "memory"
		if cfg.DB.DSN != "" {
			backend = "postgres"
		}
	}

	switch backend {
	case "memory":
		logger.Info("using in-memory store")
		return memory.New(), func() {}, nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		logger.Info("using postgres store")
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
