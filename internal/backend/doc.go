// Package backend models one upstream server the dispatcher can forward to.
// It tracks health, active connections and an EWMA of fetch latency for the
// selection policies that consult them.
package backend
