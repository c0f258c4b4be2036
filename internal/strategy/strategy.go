package strategy

import (
	"github.com/angeloszaimis/dispatcher/internal/backend"
)

// Strategy picks one backend out of the candidates it is given. It returns
// nil only when no candidate is eligible.
type Strategy interface {
	SelectBackend(backends []*backend.Backend) *backend.Backend
}

// KeyedStrategy is implemented by policies that route on a request key such
// as the client IP.
type KeyedStrategy interface {
	Strategy
	SelectBackendForKey(backends []*backend.Backend, key string) *backend.Backend
}

const (
	TypeRandom             = "random"
	TypeRoundRobin         = "round-robin"
	TypeWeightedRoundRobin = "weighted-round-robin"
	TypeLeastConn          = "least-conn"
	TypeLeastResponse      = "least-response"
	TypeConsistentHash     = "consistent-hash"
)

// Types lists every strategy name accepted by New.
var Types = []string{
	TypeRandom,
	TypeRoundRobin,
	TypeWeightedRoundRobin,
	TypeLeastConn,
	TypeLeastResponse,
	TypeConsistentHash,
}

// New builds the strategy registered under name. ok is false for unknown
// names.
func New(name string, virtualNodes int) (s Strategy, ok bool) {
	switch name {
	case TypeRandom:
		return NewRandomStrategy(), true
	case TypeRoundRobin:
		return NewRoundRobinStrategy(), true
	case TypeWeightedRoundRobin:
		return NewWeightedRoundRobinStrategy(), true
	case TypeLeastConn:
		return NewLeastConnStrategy(), true
	case TypeLeastResponse:
		return NewLeastResponseStrategy(), true
	case TypeConsistentHash:
		return NewConsistentHashStrategy(virtualNodes), true
	default:
		return nil, false
	}
}
