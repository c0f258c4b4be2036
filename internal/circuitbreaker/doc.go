// Package circuitbreaker tracks consecutive fetch failures per backend and
// temporarily takes a failing backend out of rotation.
//
//   - CLOSED: normal operation
//   - OPEN: threshold reached, the backend is skipped
//   - HALF-OPEN: reset timeout elapsed, trial traffic decides
//
// Usage:
//
//	breakers := circuitbreaker.NewRegistry(5, 30*time.Second)
//	policy := strategy.NewHealthAwareStrategy(inner, breakers.Allow)
//	...
//	payload, err := client.Fetch(ctx, b, request)
//	breakers.Record(b, err)
package circuitbreaker
