package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	gometrics "github.com/hashicorp/go-metrics"

	"github.com/angeloszaimis/dispatcher/config"
	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/dispatcher/internal/fetch"
	"github.com/angeloszaimis/dispatcher/internal/handler"
	"github.com/angeloszaimis/dispatcher/internal/healthcheck"
	"github.com/angeloszaimis/dispatcher/internal/httpserver"
	"github.com/angeloszaimis/dispatcher/internal/listener"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
	"github.com/angeloszaimis/dispatcher/internal/registry"
	"github.com/angeloszaimis/dispatcher/internal/strategy"
	"github.com/angeloszaimis/dispatcher/pkg/logger"
)

const metricsBufferSize = 1000

func main() {
	configPath := flag.String("config", "", "Path to the config file (default: ./config/config.yaml or ./config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := newDispatcher(cfg, log)
	if err != nil {
		var bindErr *listener.BindError
		if errors.As(err, &bindErr) {
			log.Error("Failed to bind", slog.String("address", bindErr.Addr), slog.Any("err", bindErr.Err))
		} else {
			log.Error("Failed to start dispatcher", slog.Any("err", err))
		}
		os.Exit(1)
	}

	if err := d.run(ctx); err != nil {
		log.Error("Dispatcher stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

type dispatcher struct {
	cfg       *config.Config
	log       *slog.Logger
	backends  []*backend.Backend
	client    *fetch.Client
	collector *metrics.Collector
	listener  *listener.Listener
	metrics   *httpserver.Server
}

// newDispatcher wires every component and binds the endpoints. Nothing keeps
// running when it returns an error.
func newDispatcher(cfg *config.Config, log *slog.Logger) (*dispatcher, error) {
	backends, err := initializeBackends(cfg)
	if err != nil {
		return nil, err
	}

	breakers := circuitbreaker.NewRegistry(cfg.CircuitBreaker.Threshold, cfg.CircuitBreaker.ResetTimeout)

	strat, err := createStrategy(cfg.Strategy, available(breakers))
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(backends, strat)
	if err != nil {
		return nil, err
	}

	client := fetch.NewClient(fetch.Options{
		Timeout:          cfg.Dispatch.FetchTimeout,
		MaxResponseBytes: cfg.Dispatch.MaxResponseBytes,
		ForwardHTTPBody:  cfg.Dispatch.HTTPForwardBody,
	})

	inm := gometrics.NewInmemSink(10*time.Second, time.Minute)
	collector := metrics.NewCollector(metricsBufferSize, log, inm)

	h := handler.New(log, reg, client, handler.Options{
		ReadTimeout:     cfg.Server.RequestReadTimeout,
		WriteTimeout:    cfg.Dispatch.FetchTimeout,
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
		MaxAttempts:     cfg.Dispatch.MaxAttempts,
		Breakers:        breakers,
		Metrics:         collector,
	})

	var metricsSrv *httpserver.Server
	if cfg.Metrics.Address != "" {
		metricsSrv, err = httpserver.New(cfg.Metrics.Address, setupRouter(collector, inm, cfg.Strategy.Type, breakers))
		if err != nil {
			return nil, err
		}
		if err := metricsSrv.Listen(); err != nil {
			return nil, fmt.Errorf("metrics endpoint: %w", err)
		}
	}

	l, err := listener.Listen(cfg.Server.Address, cfg.Server.Backlog, h, listener.Options{
		MaxConnections: cfg.Server.MaxConnections,
		Logger:         log,
	})
	if err != nil {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
		return nil, err
	}

	log.Info("Dispatcher configured",
		slog.String("address", l.Addr().String()),
		slog.String("strategy", cfg.Strategy.Type),
		slog.Bool("health_aware", cfg.Strategy.HealthAware),
		slog.Int("backends", len(backends)))

	return &dispatcher{
		cfg:       cfg,
		log:       log,
		backends:  backends,
		client:    client,
		collector: collector,
		listener:  l,
		metrics:   metricsSrv,
	}, nil
}

// run serves until ctx is done or serving fails, then shuts down: the
// listener closes first and in-flight connections get the configured grace
// period.
func (d *dispatcher) run(ctx context.Context) error {
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	d.collector.Start(bgCtx)
	healthcheck.Start(bgCtx, d.backends, d.client, d.cfg.HealthCheck.Interval, d.collector, d.log)

	errCh := make(chan error, 2)
	go func() {
		errCh <- d.listener.Serve(ctx)
	}()

	if d.metrics != nil {
		d.log.Info("Metrics endpoint listening", slog.String("address", d.metrics.Addr().String()))
		go func() {
			if err := d.metrics.Serve(); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		d.log.Info("Shutting down gracefully...")
	case runErr = <-errCh:
		if runErr == nil {
			d.log.Info("Listener closed, shutting down")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := d.listener.Shutdown(shutdownCtx); err != nil {
		d.log.Error("Error during shutdown", slog.Any("err", err))
	}
	if d.metrics != nil {
		if err := d.metrics.Shutdown(shutdownCtx); err != nil {
			d.log.Error("Error stopping metrics endpoint", slog.Any("err", err))
		}
	}

	return runErr
}

func initializeBackends(cfg *config.Config) ([]*backend.Backend, error) {
	backends := make([]*backend.Backend, 0, len(cfg.Backends))

	for _, bc := range cfg.Backends {
		b, err := backend.Parse(bc.Address, bc.Weight)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", bc.Address, err)
		}
		backends = append(backends, b)
	}

	if len(backends) == 0 {
		return nil, registry.ErrEmptyRegistry
	}

	return backends, nil
}

func createStrategy(cfg config.StrategyConfig, availability strategy.Availability) (strategy.Strategy, error) {
	strat, ok := strategy.New(cfg.Type, cfg.VirtualNodes)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", cfg.Type)
	}

	if cfg.HealthAware {
		return strategy.NewHealthAwareStrategy(strat, availability), nil
	}
	return strat, nil
}

// available admits backends that pass their health checks and whose breaker
// lets traffic through.
func available(breakers *circuitbreaker.Registry) strategy.Availability {
	return func(b *backend.Backend) bool {
		return strategy.Healthy(b) && breakers.Allow(b)
	}
}
