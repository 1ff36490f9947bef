package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/riverfog7/gmsv-workshop/internal"
)

type engine struct {
	cfg      internal.Config
	host     *internal.TickLoop
	backend  *internal.SteamWebBackend
	driver   internal.SessionDriver
	workshop *internal.Workshop
	logger   *zap.Logger
}

func loadConfig(args *Args) (internal.Config, error) {
	cfg, err := internal.LoadConfig(args.Config)
	if err != nil {
		return cfg, err
	}
	internal.LoadFromEnv(&cfg)

	if args.CacheDir != "" {
		cfg.Cache.Dir = args.CacheDir
	}
	if args.InstallDir != "" {
		cfg.Backend.InstallDir = args.InstallDir
	}
	if args.APIKey != "" {
		cfg.Backend.APIKey = args.APIKey
	}
	if args.Tick > 0 {
		cfg.Host.TickInterval = args.Tick
	}
	if args.Threaded {
		cfg.Worker.Enabled = true
	}
	if args.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg internal.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.Production {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// installLogHandler routes engine log events into zap.
func installLogHandler(logger *zap.Logger) {
	sugar := logger.Sugar()
	internal.LogHandler = func(sender interface{}, log internal.LogStruct) {
		fields := []interface{}{"tag", log.Tag}
		if sender != nil {
			fields = append(fields, "sender", fmt.Sprintf("%T", sender))
		}
		switch log.LogLevel {
		case internal.Debug:
			sugar.Debugw(log.Message, fields...)
		case internal.Warning:
			sugar.Warnw(log.Message, fields...)
		case internal.Error:
			sugar.Errorw(log.Message, fields...)
		default:
			sugar.Infow(log.Message, fields...)
		}
	}
}

func newEngine(args *Args) (*engine, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	installLogHandler(logger)

	registry := prometheus.NewRegistry()
	metrics := internal.NewMetrics(registry)
	if args.MetricsAddr != "" {
		go serveMetrics(logger, args.MetricsAddr, registry)
	}

	backend, err := internal.NewSteamWebBackend(internal.SteamWebBackendOptions{
		BaseURL:    cfg.Backend.BaseURL,
		APIKey:     cfg.Backend.APIKey,
		InstallDir: cfg.Backend.InstallDir,
		Retry: internal.RetryPolicy{
			Attempts: cfg.Backend.RetryAttempts,
			Backoff:  cfg.Backend.RetryBackoff,
		},
		CacheSize: cfg.Backend.QueryCache,
	})
	if err != nil {
		return nil, err
	}

	host := internal.NewTickLoop(cfg.HostMounts()...)
	driver := internal.NewSessionDriver(cfg, host, backend, metrics)

	return &engine{
		cfg:      cfg,
		host:     host,
		backend:  backend,
		driver:   driver,
		workshop: internal.NewWorkshop(host, driver),
		logger:   logger,
	}, nil
}

// logOn connects the cooperative session in the background, the way a game server logs
// itself on. Requests made in the meantime are queued by the orchestrator.
func (e *engine) logOn(ctx context.Context) {
	if e.cfg.Worker.Enabled {
		return
	}
	go func() {
		_, err := internal.WaitForRetry(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.backend.LogOn(ctx)
		}, internal.RetryPolicy{Attempts: -1, Backoff: e.cfg.Backend.RetryBackoff})
		if err != nil && ctx.Err() == nil {
			e.logger.Error("log on failed", zap.Error(err))
		}
	}()
}

// run ticks the host loop until done reports true, the timeout passes or SIGINT arrives.
func (e *engine) run(args *Args, done func() bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), args.Timeout)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	e.logOn(ctx)
	err := e.host.Run(ctx, e.cfg.Host.TickInterval, done)

	if dedicated, ok := e.driver.(*internal.DedicatedDriver); ok {
		dedicated.Stop()
	}
	e.logger.Sync()
	return err
}

func serveMetrics(logger *zap.Logger, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}
