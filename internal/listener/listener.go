package listener

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConnections = 256

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// ConnHandler serves one accepted connection and owns it until it returns.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

type HandlerFunc func(ctx context.Context, conn net.Conn)

func (f HandlerFunc) ServeConn(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

type Options struct {
	MaxConnections int64
	Logger         *slog.Logger
}

type Listener struct {
	ln      net.Listener
	handler ConnHandler
	logger  *slog.Logger
	backlog int
	sem     *semaphore.Weighted

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	closing  bool
	inFlight sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Listen binds addr and starts listening on it. On error nothing is left
// bound. The kernel accept queue is sized by the runtime from somaxconn, so
// backlog is only validated and recorded.
func Listen(addr string, backlog int, handler ConnHandler, opts Options) (*Listener, error) {
	if backlog < 1 {
		return nil, &ListenError{Addr: addr, Err: ErrInvalidBacklog}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, classify(addr, err)
	}

	l := New(ln, handler, opts)
	l.backlog = backlog
	return l, nil
}

// New wraps an already listening socket.
func New(ln net.Listener, handler ConnHandler, opts Options) *Listener {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Listener{
		ln:         ln,
		handler:    handler,
		logger:     opts.Logger,
		sem:        semaphore.NewWeighted(opts.MaxConnections),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) Backlog() int {
	return l.backlog
}

// Serve accepts connections until the listener is closed or ctx is done and
// hands each one to the handler on its own goroutine. At most MaxConnections
// handlers run at once; beyond that the loop waits for a free slot before
// accepting again.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = l.close()
	})
	defer stop()

	l.logger.Info("Dispatcher listening", slog.String("address", l.Addr().String()))

	var delay time.Duration
	for {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil
		}

		conn, err := l.ln.Accept()
		if err != nil {
			l.sem.Release(1)

			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			l.logger.Warn("Accept failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		delay = 0

		if !l.track() {
			_ = conn.Close()
			l.sem.Release(1)
			return nil
		}

		go func() {
			defer l.inFlight.Done()
			defer l.sem.Release(1)
			l.handler.ServeConn(l.baseCtx, conn)
		}()
	}
}

// Shutdown stops accepting and waits for in-flight connections. When ctx
// expires first the handlers' context is cancelled so pending fetches abort,
// and ctx's error is returned.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()

	err := l.close()

	done := make(chan struct{})
	go func() {
		l.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.cancelBase()
		return err
	case <-ctx.Done():
		l.logger.Warn("Shutdown timed out, aborting in-flight connections")
		l.cancelBase()
		return ctx.Err()
	}
}

func (l *Listener) track() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closing {
		return false
	}
	l.inFlight.Add(1)
	return true
}

func (l *Listener) close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.ln.Close()
	})
	return l.closeErr
}
