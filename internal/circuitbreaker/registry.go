package circuitbreaker

import (
	"sync"
	"time"

	"github.com/angeloszaimis/dispatcher/internal/backend"
)

// Registry lazily creates one breaker per backend address.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	timeout   time.Duration
}

func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
	}
}

func (r *Registry) GetBreaker(address string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[address]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cb, exists = r.breakers[address]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.threshold, r.timeout)
	r.breakers[address] = cb
	return cb
}

// Allow is a strategy availability predicate: the backend's breaker must let
// traffic through.
func (r *Registry) Allow(b *backend.Backend) bool {
	return r.GetBreaker(b.Address()).Allow()
}

// Record feeds the outcome of one fetch into the backend's breaker. It
// reports true when the call changed the breaker state.
func (r *Registry) Record(b *backend.Backend, err error) (State, bool) {
	cb := r.GetBreaker(b.Address())
	before := cb.State()

	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}

	after := cb.State()
	return after, after != before
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for address, cb := range r.breakers {
		stats[address] = cb.State()
	}
	return stats
}
