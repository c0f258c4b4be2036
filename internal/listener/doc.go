// Package listener owns the dispatcher's bound endpoint and its accept loop.
//
// Each accepted connection is served on its own goroutine, bounded by a
// weighted semaphore. Transient accept errors are retried with exponential
// back-off. Shutdown closes the listening socket before draining in-flight
// connections.
//
// Usage:
//
//	l, err := listener.Listen("127.0.0.1:8080", 5, h, listener.Options{MaxConnections: 256})
//	if err != nil {
//		var bindErr *listener.BindError
//		...
//	}
//	go l.Serve(ctx)
//	...
//	l.Shutdown(shutdownCtx)
package listener
