// Package strategy defines the backend selection contract and its policies:
//
//   - Random: uniform random pick per request (the default)
//   - Round Robin: sequential distribution across backends
//   - Weighted Round Robin: smooth distribution proportional to backend weights
//   - Least Connections: fewest in-flight dispatches
//   - Least Response Time: EWMA fetch latency scaled by in-flight dispatches
//   - Consistent Hash: crc32 ring keyed by client IP for affinity
//
// NewHealthAwareStrategy wraps any of them with an availability filter fed
// by the health checker and the circuit breakers.
package strategy
