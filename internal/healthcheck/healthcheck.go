package healthcheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
)

type Prober interface {
	Probe(ctx context.Context, b *backend.Backend) error
}

type Emitter interface {
	Emit(event metrics.MetricEvent)
}

// HealthCheck periodically probes a backend and updates its health flag.
// Transitions are logged and, when events is non-nil, reported as
// EventHealthChanged. It returns when ctx is done.
func HealthCheck(
	ctx context.Context,
	b *backend.Backend,
	prober Prober,
	interval time.Duration,
	events Emitter,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if events != nil {
		events.Emit(metrics.MetricEvent{
			Type:    metrics.EventHealthChanged,
			Backend: b.Address(),
			Healthy: b.IsHealthy(),
		})
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Health check stopped",
				slog.String("backend", b.Address()))
			return

		case <-ticker.C:
			check(ctx, b, prober, events, logger)
		}
	}
}

// Start runs one HealthCheck goroutine per backend.
func Start(
	ctx context.Context,
	backends []*backend.Backend,
	prober Prober,
	interval time.Duration,
	events Emitter,
	logger *slog.Logger,
) {
	for _, b := range backends {
		go HealthCheck(ctx, b, prober, interval, events, logger)
	}
}

func check(ctx context.Context, b *backend.Backend, prober Prober, events Emitter, logger *slog.Logger) {
	err := prober.Probe(ctx, b)
	if ctx.Err() != nil {
		return
	}

	healthy := err == nil
	if !b.SetHealthy(healthy) {
		return
	}

	if healthy {
		logger.Info("Backend is back up",
			slog.String("backend", b.Address()))
	} else {
		logger.Warn("Backend is down",
			slog.String("backend", b.Address()),
			slog.String("error", err.Error()))
	}

	if events != nil {
		events.Emit(metrics.MetricEvent{
			Type:    metrics.EventHealthChanged,
			Backend: b.Address(),
			Healthy: healthy,
		})
	}
}
