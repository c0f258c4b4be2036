package strategy

import (
	"github.com/angeloszaimis/dispatcher/internal/backend"
)

// leastConnStrategy routes each connection to the backend with the fewest
// dispatches in flight, as counted by the registry's reservations.
type leastConnStrategy struct{}

// SelectBackend returns the backend with the fewest in-flight dispatches.
// Ties go to the earliest backend in configuration order.
func (l *leastConnStrategy) SelectBackend(candidates []*backend.Backend) *backend.Backend {
	var (
		idlest   *backend.Backend
		inFlight int
	)

	for _, b := range candidates {
		if n := b.ActiveConnections(); idlest == nil || n < inFlight {
			idlest, inFlight = b, n
		}
	}

	return idlest
}

func NewLeastConnStrategy() Strategy {
	return &leastConnStrategy{}
}
