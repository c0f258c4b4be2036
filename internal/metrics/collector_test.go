package metrics_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatcher/internal/metrics"
)

var _ = Describe("Collector", func() {
	const b1 = "tcp://127.0.0.1:9001"

	var (
		collector *metrics.Collector
		inm       *gometrics.InmemSink
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log := slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx, cancel = context.WithCancel(context.Background())
		inm = gometrics.NewInmemSink(time.Minute, 5*time.Minute)
		collector = metrics.NewCollector(100, log, inm)
	})

	AfterEach(func() {
		cancel()
	})

	counters := func() map[string]gometrics.SampledValue {
		data := inm.Data()
		if len(data) == 0 {
			return nil
		}
		return data[len(data)-1].Counters
	}

	It("should process every event type", func() {
		collector.Start(ctx)

		collector.Emit(metrics.MetricEvent{Type: metrics.EventConnectionAccepted})
		collector.Emit(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: b1})
		collector.Emit(metrics.MetricEvent{
			Type:     metrics.EventDispatchCompleted,
			Backend:  b1,
			Duration: 50 * time.Millisecond,
			Outcome:  metrics.OutcomeResponded,
		})
		collector.Emit(metrics.MetricEvent{Type: metrics.EventHealthChanged, Backend: b1, Healthy: true})

		Eventually(func() metrics.BackendMetrics {
			return collector.Snapshot("random").Backends[b1]
		}).Should(SatisfyAll(
			HaveField("Selections", int64(1)),
			HaveField("Responded", int64(1)),
			HaveField("AvgResponse", 50*time.Millisecond),
			HaveField("Healthy", true),
		))
		Expect(collector.Snapshot("random").TotalConnections).To(Equal(int64(1)))
	})

	It("should mirror events into the go-metrics sink", func() {
		collector.Start(ctx)

		collector.Emit(metrics.MetricEvent{Type: metrics.EventConnectionAccepted})
		collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventDispatchCompleted,
			Backend: b1,
			Outcome: metrics.OutcomeFailed,
			Cause:   "timeout",
		})

		Eventually(counters).Should(SatisfyAll(
			HaveKey("dispatcher.connection.accepted.count"),
			HaveKey(SatisfyAll(
				ContainSubstring("dispatcher.dispatch.count"),
				ContainSubstring("outcome=failed"),
				ContainSubstring("cause=timeout"),
			)),
		))
	})

	It("should mirror breaker transitions into a gauge", func() {
		collector.Start(ctx)

		collector.Emit(metrics.MetricEvent{
			Type:        metrics.EventBreakerChanged,
			Backend:     b1,
			Breaker:     "OPEN",
			BreakerOpen: true,
		})

		Eventually(func() []float32 {
			var open []float32
			data := inm.Data()
			if len(data) == 0 {
				return nil
			}
			for key, gauge := range data[len(data)-1].Gauges {
				if strings.Contains(key, "dispatcher.backend.breaker.open") && strings.Contains(key, "state=OPEN") {
					open = append(open, gauge.Value)
				}
			}
			return open
		}).Should(ConsistOf(float32(1)))
	})

	It("should drain queued events on cancellation", func() {
		for i := 0; i < 5; i++ {
			collector.Emit(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: b1})
		}

		collector.Start(ctx)
		cancel()

		Eventually(func() int64 {
			return collector.Snapshot("random").Backends[b1].Selections
		}).Should(Equal(int64(5)))
	})

	It("should drop events instead of blocking when the buffer is full", func() {
		small := metrics.NewCollector(1, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 10; i++ {
				small.Emit(metrics.MetricEvent{Type: metrics.EventConnectionAccepted})
			}
		}()
		Eventually(done).Should(BeClosed())
	})

	Describe("Handler", func() {
		It("should serve the snapshot as JSON", func() {
			collector.Start(ctx)
			collector.Emit(metrics.MetricEvent{Type: metrics.EventConnectionAccepted})
			Eventually(func() int64 {
				return collector.Snapshot("random").TotalConnections
			}).Should(Equal(int64(1)))

			rec := httptest.NewRecorder()
			collector.Handler("consistent-hash", nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var snap metrics.Snapshot
			Expect(json.Unmarshal(rec.Body.Bytes(), &snap)).To(Succeed())
			Expect(snap.Strategy).To(Equal("consistent-hash"))
			Expect(snap.TotalConnections).To(Equal(int64(1)))
		})

		It("should attach breaker states to the snapshot", func() {
			collector.Start(ctx)
			collector.Emit(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: b1})
			Eventually(func() int64 {
				return collector.Snapshot("random").Backends[b1].Selections
			}).Should(Equal(int64(1)))

			states := func() map[string]string {
				return map[string]string{b1: "OPEN", "tcp://127.0.0.1:9002": "CLOSED"}
			}

			rec := httptest.NewRecorder()
			collector.Handler("random", states).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			var snap metrics.Snapshot
			Expect(json.Unmarshal(rec.Body.Bytes(), &snap)).To(Succeed())
			Expect(snap.Backends[b1]).To(SatisfyAll(
				HaveField("Selections", int64(1)),
				HaveField("Breaker", "OPEN"),
			))
			Expect(snap.Backends["tcp://127.0.0.1:9002"].Breaker).To(Equal("CLOSED"))
		})

		It("should serve the in-memory sink", func() {
			inm.IncrCounter(metrics.MetricConnectionAcceptedCount, 1)

			rec := httptest.NewRecorder()
			metrics.InmemHandler(inm).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/metrics", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("dispatcher.connection.accepted.count"))
		})
	})
})
