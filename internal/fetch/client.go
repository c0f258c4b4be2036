package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/angeloszaimis/dispatcher/internal/backend"
)

const (
	DefaultTimeout          = 5 * time.Second
	DefaultMaxResponseBytes = 10 << 20
)

// Options tunes a Client. Zero values fall back to the defaults.
//
// ForwardHTTPBody makes http backends receive the client bytes as a POST
// body. By default they are fetched with a plain GET of their address and
// the client bytes are dropped.
type Options struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	ForwardHTTPBody  bool
}

// Client fetches from backends. It keeps no connection open between calls,
// so it is safe for concurrent use without shared transport state.
type Client struct {
	timeout     time.Duration
	maxBytes    int64
	forwardBody bool
	dialer      *net.Dialer
	http        *http.Client
}

// NewClient creates a Client with keep-alives disabled.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultMaxResponseBytes
	}

	dialer := &net.Dialer{Timeout: opts.Timeout}

	return &Client{
		timeout:     opts.Timeout,
		maxBytes:    opts.MaxResponseBytes,
		forwardBody: opts.ForwardHTTPBody,
		dialer:      dialer,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         dialer.DialContext,
				DisableKeepAlives:   true,
				TLSHandshakeTimeout: opts.Timeout,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Timeout returns the bound applied to every fetch.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Fetch performs one request/response exchange with b and returns the full
// response payload. Every failure is returned as *Error.
func (c *Client) Fetch(ctx context.Context, b *backend.Backend, request []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		payload []byte
		err     error
	)

	u := b.URL()
	switch u.Scheme {
	case "http", "https":
		payload, err = c.fetchHTTP(ctx, u, request)
	case "redis", "rediss":
		payload, err = c.fetchRedis(ctx, u, request)
	case "tcp":
		payload, err = c.fetchTCP(ctx, u, request)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, newError(b.Address(), err)
	}

	return payload, nil
}

// Probe checks that b is able to serve: GET /health for http backends, PING
// for redis and a plain dial for tcp.
func (c *Client) Probe(ctx context.Context, b *backend.Backend) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := b.URL()
	switch u.Scheme {
	case "http", "https":
		healthURL := u.ResolveReference(&url.URL{Path: "/health"})
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
		if err != nil {
			return err
		}

		res, err := c.http.Do(req)
		if err != nil {
			return newError(b.Address(), err)
		}
		defer res.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

		if res.StatusCode != http.StatusOK {
			return &Error{
				Backend: b.Address(),
				Cause:   CauseStatus,
				Err:     fmt.Errorf("health endpoint returned %d", res.StatusCode),
			}
		}
		return nil

	case "redis", "rediss":
		client, err := c.redisClient(u)
		if err != nil {
			return newError(b.Address(), err)
		}
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return newError(b.Address(), err)
		}
		return nil

	case "tcp":
		conn, err := c.dialer.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return newError(b.Address(), err)
		}
		return conn.Close()

	default:
		return newError(b.Address(), fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme))
	}
}

// fetchHTTP GETs the backend address. The request bytes are only sent, as a
// POST body, when body forwarding is enabled and there is something to send.
func (c *Client) fetchHTTP(ctx context.Context, u *url.URL, request []byte) ([]byte, error) {
	method := http.MethodGet
	var body io.Reader
	if c.forwardBody && len(request) > 0 {
		method = http.MethodPost
		body = bytes.NewReader(request)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &Error{
			Backend: u.String(),
			Cause:   CauseStatus,
			Err:     fmt.Errorf("unexpected status %d", res.StatusCode),
		}
	}

	payload, err := c.readLimited(res.Body)
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	return payload, nil
}

// fetchRedis treats the request as a key and returns its value.
func (c *Client) fetchRedis(ctx context.Context, u *url.URL, request []byte) ([]byte, error) {
	client, err := c.redisClient(u)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	value, err := client.Get(ctx, strings.TrimSpace(string(request))).Bytes()
	if err != nil {
		return nil, err
	}

	if int64(len(value)) > c.maxBytes {
		return nil, ErrResponseTooLarge
	}
	return value, nil
}

// fetchTCP writes the request, half-closes and reads the reply until EOF.
func (c *Client) fetchTCP(ctx context.Context, u *url.URL, request []byte) ([]byte, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if len(request) > 0 {
		if _, err := conn.Write(request); err != nil {
			return nil, ctxErr(ctx, err)
		}
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}

	payload, err := c.readLimited(conn)
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	return payload, nil
}

func (c *Client) readLimited(r io.Reader) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) > c.maxBytes {
		return nil, ErrResponseTooLarge
	}
	return payload, nil
}

// redisClient builds a single-connection client for one call, following
// redis.ParseURL for credentials and database selection.
func (c *Client) redisClient(u *url.URL) (*redis.Client, error) {
	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("cant parse redis url: %w", err)
	}

	opts.PoolSize = 1
	opts.MinIdleConns = 0
	opts.MaxRetries = -1
	opts.DialTimeout = c.timeout
	opts.ReadTimeout = c.timeout
	opts.WriteTimeout = c.timeout

	return redis.NewClient(opts), nil
}

// ctxErr prefers the context's error when a deadline set from it fired.
func ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}
