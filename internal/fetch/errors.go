package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/go-redis/redis/v8"
)

var (
	ErrUnsupportedScheme = errors.New("fetch: unsupported backend scheme")
	ErrResponseTooLarge  = errors.New("fetch: response exceeds size limit")
)

// Cause is the coarse classification of a failed fetch. It is meant for logs
// and metrics labels, never for the client.
type Cause string

const (
	CauseRefused   Cause = "connection refused"
	CauseDNS       Cause = "dns"
	CauseTimeout   Cause = "timeout"
	CauseCanceled  Cause = "canceled"
	CauseStatus    Cause = "status"
	CauseNotFound  Cause = "not found"
	CauseTooLarge  Cause = "too large"
	CauseTransport Cause = "transport"
)

// Error describes a failed fetch.
type Error struct {
	Backend string
	Cause   Cause
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Backend, e.Cause, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CauseOf extracts the Cause of err, or CauseTransport when err did not come
// from this package.
func CauseOf(err error) Cause {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Cause
	}
	return CauseTransport
}

func newError(address string, err error) *Error {
	return &Error{Backend: address, Cause: classify(err), Err: err}
}

func classify(err error) Cause {
	var (
		dnsErr *net.DNSError
		netErr net.Error
	)

	switch {
	case errors.Is(err, ErrResponseTooLarge):
		return CauseTooLarge
	case errors.Is(err, redis.Nil):
		return CauseNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, context.Canceled):
		return CauseCanceled
	case errors.Is(err, syscall.ECONNREFUSED):
		return CauseRefused
	case errors.As(err, &dnsErr):
		return CauseDNS
	case errors.As(err, &netErr) && netErr.Timeout():
		return CauseTimeout
	default:
		return CauseTransport
	}
}
