package backend

import (
	"net/url"
	"sync"
	"time"
)

// Backend represents one upstream server with health status, connection tracking,
// and response time monitoring. The address and weight never change after New.
type Backend struct {
	url               *url.URL
	weight            int
	mutex             sync.Mutex
	isHealthy         bool
	activeConnections int
	ewmaResponseTime  time.Duration
	hasEWMA           bool
}

const ewmaAlpha = 0.2

// IncrementConn increments the active connection count.
func (b *Backend) IncrementConn() {
	b.mutex.Lock()
	b.activeConnections++
	b.mutex.Unlock()
}

// DecrementConn decrements the active connection count.
func (b *Backend) DecrementConn() {
	b.mutex.Lock()
	if b.activeConnections > 0 {
		b.activeConnections--
	}
	b.mutex.Unlock()
}

// ActiveConnections returns the current number of active connections.
func (b *Backend) ActiveConnections() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.activeConnections
}

// URL returns the backend address.
func (b *Backend) URL() *url.URL {
	return b.url
}

// Address returns the backend address in its configured string form.
func (b *Backend) Address() string {
	return b.url.String()
}

// Weight returns the configured selection weight.
func (b *Backend) Weight() int {
	return b.weight
}

// IsHealthy returns true if the backend is currently healthy.
func (b *Backend) IsHealthy() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.isHealthy
}

// SetHealthy updates the backend's health status.
// Returns true if the status changed, false if it was already in that state.
func (b *Backend) SetHealthy(healthy bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.isHealthy == healthy {
		return false
	}

	b.isHealthy = healthy
	return true
}

// RecordResponse updates the exponentially weighted moving average (EWMA)
// fetch time using the latest duration.
func (b *Backend) RecordResponse(duration time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		b.ewmaResponseTime = duration
		b.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	b.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(b.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the exponentially weighted moving average fetch time.
// Returns 0 if no responses have been recorded yet.
func (b *Backend) EWMATime() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		return 0
	}

	return b.ewmaResponseTime
}

// New creates a new Backend for the given address. Weights below one are
// raised to one. The backend starts in a healthy state.
func New(url *url.URL, weight int) *Backend {
	if weight < 1 {
		weight = 1
	}

	return &Backend{
		url:       url,
		weight:    weight,
		isHealthy: true,
	}
}

// Parse builds a Backend from a raw address such as "http://10.0.0.1:8081"
// or "redis://10.0.0.2:6379".
func Parse(rawURL string, weight int) (*Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	return New(u, weight), nil
}
