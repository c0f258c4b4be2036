// Package metrics collects dispatcher metrics through a channel-based event
// pipeline:
//   - accepted connections
//   - backend selection frequencies
//   - dispatch outcomes and failure causes per backend
//   - response times with percentiles (P50, P95, P99)
//   - backend health
//   - circuit breaker transitions
//
// The collector runs in its own goroutine. Emit never blocks the connection
// path; events are dropped while the buffer is full. Every event is also
// mirrored into a go-metrics sink so the numbers can be shipped to statsd,
// prometheus or kept in memory.
//
// Example usage:
//
//	inm := gometrics.NewInmemSink(10*time.Second, time.Minute)
//	collector := metrics.NewCollector(1000, logger, inm)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:     metrics.EventDispatchCompleted,
//		Backend:  "http://localhost:8081",
//		Duration: 15 * time.Millisecond,
//		Outcome:  metrics.OutcomeResponded,
//	})
//
//	snapshot := collector.Snapshot("round-robin")
package metrics
