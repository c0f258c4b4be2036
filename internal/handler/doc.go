// Package handler runs the per-connection state machine of the dispatcher.
//
// Every accepted connection goes through
//
//	ACCEPTED -> DISPATCHED -> RESPONDED | FAILED -> CLOSED
//
// The handler reads the client's request, asks the registry for a backend,
// fetches from it and writes the payload back verbatim. Any failure in
// between is answered with ErrorPayload; the cause only reaches the logs.
package handler
