package strategy

import (
	"github.com/angeloszaimis/dispatcher/internal/backend"
)

// Availability reports whether a backend may receive traffic right now.
type Availability func(b *backend.Backend) bool

// Healthy is the Availability based only on the health checker's flag.
func Healthy(b *backend.Backend) bool {
	return b.IsHealthy()
}

type healthAwareStrategy struct {
	inner     Strategy
	available Availability
}

// NewHealthAwareStrategy wraps inner so it only ever sees backends that
// available accepts. A nil available defaults to Healthy.
func NewHealthAwareStrategy(inner Strategy, available Availability) KeyedStrategy {
	if available == nil {
		available = Healthy
	}

	return &healthAwareStrategy{inner: inner, available: available}
}

func (h *healthAwareStrategy) filter(backends []*backend.Backend) []*backend.Backend {
	eligible := make([]*backend.Backend, 0, len(backends))
	for _, b := range backends {
		if h.available(b) {
			eligible = append(eligible, b)
		}
	}
	return eligible
}

func (h *healthAwareStrategy) SelectBackend(backends []*backend.Backend) *backend.Backend {
	eligible := h.filter(backends)
	if len(eligible) == 0 {
		return nil
	}

	return h.inner.SelectBackend(eligible)
}

func (h *healthAwareStrategy) SelectBackendForKey(backends []*backend.Backend, key string) *backend.Backend {
	eligible := h.filter(backends)
	if len(eligible) == 0 {
		return nil
	}

	if keyed, ok := h.inner.(KeyedStrategy); ok {
		return keyed.SelectBackendForKey(eligible, key)
	}
	return h.inner.SelectBackend(eligible)
}
