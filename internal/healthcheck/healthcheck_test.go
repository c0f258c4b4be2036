package healthcheck_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/internal/fetch"
	"github.com/angeloszaimis/dispatcher/internal/healthcheck"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []metrics.MetricEvent
}

func (r *recordingEmitter) Emit(event metrics.MetricEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) healthy() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bool
	for _, e := range r.events {
		out = append(out, e.Healthy)
	}
	return out
}

var _ = Describe("Healthcheck", func() {
	var (
		log    *slog.Logger
		prober *fetch.Client
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		prober = fetch.NewClient(fetch.Options{Timeout: time.Second})
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	It("should follow an http backend going down and up", func() {
		var up atomic.Bool
		up.Store(true)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" && up.Load() {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		b, err := backend.Parse(srv.URL, 1)
		Expect(err).NotTo(HaveOccurred())
		events := &recordingEmitter{}

		go healthcheck.HealthCheck(ctx, b, prober, 20*time.Millisecond, events, log)

		Consistently(b.IsHealthy, 100*time.Millisecond).Should(BeTrue())

		up.Store(false)
		Eventually(b.IsHealthy).Should(BeFalse())

		up.Store(true)
		Eventually(b.IsHealthy).Should(BeTrue())

		Eventually(events.healthy).Should(Equal([]bool{true, false, true}))
	})

	It("should probe redis backends with PING", func() {
		mr := miniredis.RunT(GinkgoT())

		b, err := backend.Parse("redis://"+mr.Addr(), 1)
		Expect(err).NotTo(HaveOccurred())
		b.SetHealthy(false)

		healthcheck.Start(ctx, []*backend.Backend{b}, prober, 20*time.Millisecond, nil, log)
		Eventually(b.IsHealthy).Should(BeTrue())

		mr.Close()
		Eventually(b.IsHealthy).Should(BeFalse())
	})

	It("should stop when the context is cancelled", func() {
		var probes atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			probes.Add(1)
		}))
		defer srv.Close()

		b, err := backend.Parse(srv.URL, 1)
		Expect(err).NotTo(HaveOccurred())

		done := make(chan struct{})
		go func() {
			defer close(done)
			healthcheck.HealthCheck(ctx, b, prober, 10*time.Millisecond, nil, log)
		}()

		Eventually(probes.Load).Should(BeNumerically(">", 0))
		cancel()
		Eventually(done).Should(BeClosed())
	})
})
