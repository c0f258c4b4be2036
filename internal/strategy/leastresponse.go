package strategy

import (
	"time"

	"github.com/angeloszaimis/dispatcher/internal/backend"
)

// leastResponseStrategy prefers the backend expected to finish a fetch
// soonest: its smoothed fetch latency scaled by the dispatches already queued
// on it.
type leastResponseStrategy struct{}

// SelectBackend picks the lowest expected wait. A backend that has never
// answered a fetch is picked first so that it gets a latency sample.
func (l *leastResponseStrategy) SelectBackend(candidates []*backend.Backend) *backend.Backend {
	var (
		fastest *backend.Backend
		lowest  time.Duration
	)

	for _, b := range candidates {
		latency := b.EWMATime()
		if latency == 0 {
			return b
		}

		wait := expectedWait(latency, b.ActiveConnections())
		if fastest == nil || wait < lowest {
			fastest, lowest = b, wait
		}
	}

	return fastest
}

// expectedWait is the latency of one fetch times the dispatches in flight
// plus the new one.
func expectedWait(latency time.Duration, inFlight int) time.Duration {
	return latency * time.Duration(inFlight+1)
}

func NewLeastResponseStrategy() Strategy {
	return &leastResponseStrategy{}
}
