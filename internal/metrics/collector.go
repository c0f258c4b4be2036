package metrics

import (
	"context"
	"log/slog"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
)

type EventType string

const (
	EventConnectionAccepted EventType = "connection_accepted"
	EventBackendSelected    EventType = "backend_selected"
	EventDispatchCompleted  EventType = "dispatch_completed"
	EventHealthChanged      EventType = "health_changed"
	EventBreakerChanged     EventType = "breaker_changed"
)

type Outcome string

const (
	OutcomeResponded Outcome = "responded"
	OutcomeFailed    Outcome = "failed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Backend   string
	Duration  time.Duration
	Outcome   Outcome
	Cause     string
	Healthy   bool
	// Breaker is the new circuit breaker state of Backend for
	// EventBreakerChanged; BreakerOpen tells whether it stops traffic.
	Breaker     string
	BreakerOpen bool
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	sink    gometrics.MetricSink
	logger  *slog.Logger
}

// NewCollector creates a collector. Events are mirrored into sink, which may
// be nil.
func NewCollector(bufferSize int, logger *slog.Logger, sink gometrics.MetricSink) *Collector {
	if sink == nil {
		sink = &gometrics.BlackholeSink{}
	}

	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		sink:    sink,
		logger:  logger,
	}
}

// Emit queues event without blocking. Events are dropped while the buffer is
// full.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	backend := LabelBackend.M(event.Backend)

	switch event.Type {
	case EventConnectionAccepted:
		c.metrics.IncrementConnections()
		c.sink.IncrCounter(MetricConnectionAcceptedCount, 1)

	case EventBackendSelected:
		c.metrics.RecordBackendSelection(event.Backend)
		c.sink.IncrCounterWithLabels(MetricBackendSelectedCount, 1, []gometrics.Label{backend})

	case EventDispatchCompleted:
		c.metrics.RecordDispatch(event.Backend, event.Duration, event.Outcome, event.Cause)

		labels := []gometrics.Label{backend, LabelOutcome.M(string(event.Outcome))}
		if event.Cause != "" {
			labels = append(labels, LabelCause.M(event.Cause))
		}
		c.sink.IncrCounterWithLabels(MetricDispatchCount, 1, labels)
		if event.Outcome == OutcomeResponded {
			ms := float32(event.Duration) / float32(time.Millisecond)
			c.sink.AddSampleWithLabels(MetricDispatchDurationMs, ms, []gometrics.Label{backend})
		}

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Backend, event.Healthy)

		var v float32
		if event.Healthy {
			v = 1
		}
		c.sink.SetGaugeWithLabels(MetricBackendHealthy, v, []gometrics.Label{backend})

	case EventBreakerChanged:
		c.logger.Debug("Circuit breaker state",
			slog.String("backend", event.Backend),
			slog.String("state", event.Breaker))

		var v float32
		if event.BreakerOpen {
			v = 1
		}
		c.sink.SetGaugeWithLabels(MetricBackendBreakerOpen, v, []gometrics.Label{backend, LabelState.M(event.Breaker)})

	default:
		c.logger.Debug("Unknown metric event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(strategy string) Snapshot {
	return c.metrics.Snapshot(strategy)
}
