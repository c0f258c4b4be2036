package strategy

import (
	"math/rand/v2"
	"sync"

	"github.com/angeloszaimis/dispatcher/internal/backend"
)

type randomStrategy struct {
	mutex sync.Mutex
	rng   *rand.Rand
}

// SelectBackend picks uniformly at random, independently on every call.
func (r *randomStrategy) SelectBackend(backends []*backend.Backend) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	if r.rng == nil {
		return backends[rand.IntN(len(backends))]
	}

	r.mutex.Lock()
	index := r.rng.IntN(len(backends))
	r.mutex.Unlock()

	return backends[index]
}

// NewRandomStrategy returns the baseline uniform random policy.
func NewRandomStrategy() Strategy {
	return &randomStrategy{}
}

// NewSeededRandomStrategy returns a uniform random policy with a
// reproducible sequence.
func NewSeededRandomStrategy(seed uint64) Strategy {
	return &randomStrategy{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}
