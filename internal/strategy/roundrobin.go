package strategy

import (
	"sync/atomic"

	"github.com/angeloszaimis/dispatcher/internal/backend"
)

// roundRobinStrategy hands out dispatches in turn. The cursor is shared by
// every connection handler, so consecutive connections land on consecutive
// candidates even when they are accepted concurrently.
type roundRobinStrategy struct {
	next atomic.Uint64
}

// SelectBackend advances the cursor over the candidates it is given. When a
// health-aware wrapper shrinks the candidate set the rotation simply continues
// over the smaller set.
func (rr *roundRobinStrategy) SelectBackend(candidates []*backend.Backend) *backend.Backend {
	if len(candidates) == 0 {
		return nil
	}

	turn := rr.next.Add(1) - 1
	return candidates[turn%uint64(len(candidates))]
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{}
}
