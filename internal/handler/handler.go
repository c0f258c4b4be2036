package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/dispatcher/internal/fetch"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
)

// ErrorPayload is written to the client whenever no backend payload can be
// relayed.
const ErrorPayload = "Error: Could not connect to backend server."

const (
	DefaultReadTimeout     = 100 * time.Millisecond
	DefaultWriteTimeout    = 5 * time.Second
	DefaultMaxRequestBytes = 4096
)

type Selector interface {
	Select() (*backend.Backend, error)
	SelectWithKey(key string) (*backend.Backend, error)
	Release(b *backend.Backend)
	Keyed() bool
}

type Fetcher interface {
	Fetch(ctx context.Context, b *backend.Backend, request []byte) ([]byte, error)
}

type Breakers interface {
	Record(b *backend.Backend, err error) (circuitbreaker.State, bool)
}

type Emitter interface {
	Emit(event metrics.MetricEvent)
}

// Observer is told about every state a connection enters.
type Observer func(conn net.Conn, state State)

type Options struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRequestBytes int
	MaxAttempts     int
	Breakers        Breakers
	Metrics         Emitter
	Observer        Observer
}

type Handler struct {
	logger          *slog.Logger
	selector        Selector
	fetcher         Fetcher
	breakers        Breakers
	events          Emitter
	observer        Observer
	readTimeout     time.Duration
	writeTimeout    time.Duration
	maxRequestBytes int
	maxAttempts     int
}

func New(logger *slog.Logger, selector Selector, fetcher Fetcher, opts Options) *Handler {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	return &Handler{
		logger:          logger,
		selector:        selector,
		fetcher:         fetcher,
		breakers:        opts.Breakers,
		events:          opts.Metrics,
		observer:        opts.Observer,
		readTimeout:     opts.ReadTimeout,
		writeTimeout:    opts.WriteTimeout,
		maxRequestBytes: opts.MaxRequestBytes,
		maxAttempts:     opts.MaxAttempts,
	}
}

// ServeConn runs one connection from ACCEPTED to CLOSED. It owns conn and
// closes it exactly once before returning.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) {
	client := clientIP(conn.RemoteAddr())
	logger := h.logger.With(slog.String("client", conn.RemoteAddr().String()))

	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("Close failed", slog.String("error", err.Error()))
		}
		h.enter(logger, conn, StateClosed)
	}()

	h.enter(logger, conn, StateAccepted)
	h.emit(metrics.MetricEvent{Type: metrics.EventConnectionAccepted})

	request, halfClosed, err := h.readRequest(conn)
	if err != nil {
		logger.Warn("Failed to read request", slog.String("error", err.Error()))
		return
	}

	h.enter(logger, conn, StateDispatched)

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := func() {}
	if !halfClosed {
		stop = watchPeer(conn, cancel)
	}
	payload, err := h.dispatch(fetchCtx, logger, client, request)
	stop()

	reply, final := payload, StateResponded
	if err != nil {
		logger.Warn("Dispatch failed", slog.String("error", err.Error()))
		reply, final = []byte(ErrorPayload), StateFailed
	}
	h.enter(logger, conn, final)

	if err := h.write(conn, reply); err != nil {
		logger.Warn("Failed to write reply",
			slog.String("state", final.String()),
			slog.String("error", err.Error()))
	}
}

// readRequest performs a single bounded read. A timeout or EOF before any
// byte arrives yields an empty request.
func (h *Handler) readRequest(conn net.Conn) ([]byte, bool, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		return nil, false, err
	}

	buf := make([]byte, h.maxRequestBytes)
	n, err := conn.Read(buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		return buf[:n], true, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
	default:
		if n == 0 {
			return nil, false, err
		}
	}

	return buf[:n], false, nil
}

// dispatch selects and fetches, retrying with a fresh selection up to
// maxAttempts times.
func (h *Handler) dispatch(ctx context.Context, logger *slog.Logger, client string, request []byte) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		b, err := h.selectBackend(client)
		if err != nil {
			return nil, err
		}

		logger.Info("Dispatching",
			slog.String("backend", b.Address()),
			slog.Int("attempt", attempt),
			slog.Int("request_bytes", len(request)))

		payload, err := h.fetchFrom(ctx, logger, b, request)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}

func (h *Handler) selectBackend(client string) (*backend.Backend, error) {
	if h.selector.Keyed() {
		return h.selector.SelectWithKey(client)
	}
	return h.selector.Select()
}

func (h *Handler) fetchFrom(ctx context.Context, logger *slog.Logger, b *backend.Backend, request []byte) ([]byte, error) {
	defer h.selector.Release(b)

	h.emit(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: b.Address()})

	start := time.Now()
	payload, err := h.fetcher.Fetch(ctx, b, request)
	elapsed := time.Since(start)

	event := metrics.MetricEvent{
		Type:     metrics.EventDispatchCompleted,
		Backend:  b.Address(),
		Duration: elapsed,
		Outcome:  metrics.OutcomeResponded,
	}
	if err != nil {
		event.Outcome = metrics.OutcomeFailed
		event.Cause = string(fetch.CauseOf(err))
	} else {
		b.RecordResponse(elapsed)
	}
	h.emit(event)

	// A fetch cancelled because the client left says nothing about the backend.
	if h.breakers != nil && !canceled(err) {
		if state, changed := h.breakers.Record(b, err); changed {
			logger.Warn("Circuit breaker changed state",
				slog.String("backend", b.Address()),
				slog.String("state", state.String()))
			h.emit(metrics.MetricEvent{
				Type:        metrics.EventBreakerChanged,
				Backend:     b.Address(),
				Breaker:     state.String(),
				BreakerOpen: state == circuitbreaker.StateOpen,
			})
		}
	}

	return payload, err
}

// write sends p in full or reports why not.
func (h *Handler) write(conn net.Conn, p []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}

	n, err := conn.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

func (h *Handler) enter(logger *slog.Logger, conn net.Conn, state State) {
	logger.Debug("Connection state", slog.String("state", state.String()))
	if h.observer != nil {
		h.observer(conn, state)
	}
}

func (h *Handler) emit(event metrics.MetricEvent) {
	if h.events == nil {
		return
	}
	h.events.Emit(event)
}

// watchPeer cancels the fetch when the client connection breaks. A FIN from a
// client that half-closed after sending its request does not cancel. The
// returned function stops the watcher and waits for it.
func watchPeer(conn net.Conn, cancel context.CancelFunc) func() {
	_ = conn.SetReadDeadline(time.Time{})

	done := make(chan struct{})
	go func() {
		defer close(done)

		var buf [1]byte
		_, err := conn.Read(buf[:])
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
			return
		}
		cancel()
	}()

	return func() {
		_ = conn.SetReadDeadline(time.Now())
		<-done
	}
}

func canceled(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) || fetch.CauseOf(err) == fetch.CauseCanceled)
}

func clientIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
