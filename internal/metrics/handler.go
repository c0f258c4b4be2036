package metrics

import (
	"encoding/json"
	"net/http"

	gometrics "github.com/hashicorp/go-metrics"
)

// BreakerStates reports the current circuit breaker state per backend
// address.
type BreakerStates func() map[string]string

// Handler serves the JSON snapshot. When breakers is set, every backend entry
// carries its breaker state as of the request.
func (c *Collector) Handler(strategy string, breakers BreakerStates) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := c.metrics.Snapshot(strategy)
		if breakers != nil {
			for address, state := range breakers() {
				bm := snap.Backends[address]
				bm.Breaker = state
				snap.Backends[address] = bm
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// InmemHandler exposes the current intervals of an in-memory sink.
func InmemHandler(sink *gometrics.InmemSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := sink.DisplayMetrics(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(summary); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
