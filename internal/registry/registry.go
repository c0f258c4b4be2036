package registry

import (
	"errors"

	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/internal/strategy"
)

var (
	ErrEmptyRegistry      = errors.New("registry: at least one backend is required")
	ErrNilStrategy        = errors.New("registry: selection strategy is required")
	ErrNoBackendAvailable = errors.New("registry: no backend available")
)

// Registry is the immutable backend set plus the policy choosing among it.
// It is safe for concurrent use; the slice is never modified after New.
type Registry struct {
	backends []*backend.Backend
	strategy strategy.Strategy
}

// New validates the backend set once so Select never sees an empty one.
func New(backends []*backend.Backend, strat strategy.Strategy) (*Registry, error) {
	if len(backends) == 0 {
		return nil, ErrEmptyRegistry
	}
	if strat == nil {
		return nil, ErrNilStrategy
	}

	owned := make([]*backend.Backend, len(backends))
	copy(owned, backends)

	return &Registry{
		backends: owned,
		strategy: strat,
	}, nil
}

// Select picks a backend and reserves one connection slot on it. Callers
// must hand the backend back with Release.
func (r *Registry) Select() (*backend.Backend, error) {
	return r.reserve(r.strategy.SelectBackend(r.backends))
}

// SelectWithKey is Select for keyed policies; the key is ignored by the
// others.
func (r *Registry) SelectWithKey(key string) (*backend.Backend, error) {
	keyed, ok := r.strategy.(strategy.KeyedStrategy)
	if !ok {
		return r.Select()
	}

	return r.reserve(keyed.SelectBackendForKey(r.backends, key))
}

// Release returns the slot taken by Select.
func (r *Registry) Release(b *backend.Backend) {
	if b != nil {
		b.DecrementConn()
	}
}

// Keyed reports whether the policy routes on a request key.
func (r *Registry) Keyed() bool {
	_, ok := r.strategy.(strategy.KeyedStrategy)
	return ok
}

// Backends returns a copy of the configured backends in order.
func (r *Registry) Backends() []*backend.Backend {
	out := make([]*backend.Backend, len(r.backends))
	copy(out, r.backends)
	return out
}

func (r *Registry) reserve(chosen *backend.Backend) (*backend.Backend, error) {
	if chosen == nil {
		return nil, ErrNoBackendAvailable
	}

	chosen.IncrementConn()
	return chosen, nil
}
