package main

import (
	"net/http"

	gometrics "github.com/hashicorp/go-metrics"

	"github.com/angeloszaimis/dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
)

func setupRouter(collector *metrics.Collector, inm *gometrics.InmemSink, strategy string, breakers *circuitbreaker.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /metrics", collector.Handler(strategy, breakerStates(breakers)))
	mux.HandleFunc("GET /debug/metrics", metrics.InmemHandler(inm))

	return mux
}

func breakerStates(breakers *circuitbreaker.Registry) metrics.BreakerStates {
	if breakers == nil {
		return nil
	}

	return func() map[string]string {
		stats := breakers.Stats()
		states := make(map[string]string, len(stats))
		for address, state := range stats {
			states[address] = state.String()
		}
		return states
	}
}
