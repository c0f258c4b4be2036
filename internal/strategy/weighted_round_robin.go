package strategy

import (
	"sync"

	"github.com/angeloszaimis/dispatcher/internal/backend"
)

// weightedRoundRobinStrategy implements smooth weighted round-robin (the nginx
// algorithm): every pick adds each backend's weight to its running score, the
// highest score wins and is lowered by the total weight.
type weightedRoundRobinStrategy struct {
	mutex   sync.Mutex
	current map[*backend.Backend]int
}

func NewWeightedRoundRobinStrategy() Strategy {
	return &weightedRoundRobinStrategy{
		current: make(map[*backend.Backend]int),
	}
}

func (w *weightedRoundRobinStrategy) SelectBackend(backends []*backend.Backend) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.forgetMissing(backends)

	total := 0
	var chosen *backend.Backend

	for _, b := range backends {
		weight := b.Weight()
		w.current[b] += weight
		total += weight

		if chosen == nil || w.current[b] > w.current[chosen] {
			chosen = b
		}
	}

	w.current[chosen] -= total
	return chosen
}

// forgetMissing drops scores of backends that left the candidate set, which
// happens whenever the health-aware filter excludes one.
func (w *weightedRoundRobinStrategy) forgetMissing(backends []*backend.Backend) {
	if len(w.current) <= len(backends) {
		present := 0
		for _, b := range backends {
			if _, ok := w.current[b]; ok {
				present++
			}
		}
		if present == len(w.current) {
			return
		}
	}

	alive := make(map[*backend.Backend]struct{}, len(backends))
	for _, b := range backends {
		alive[b] = struct{}{}
	}

	for b := range w.current {
		if _, ok := alive[b]; !ok {
			delete(w.current, b)
		}
	}
}
