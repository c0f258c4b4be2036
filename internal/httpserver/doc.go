// Package httpserver runs the optional read-only metrics endpoint next to
// the dispatcher listener.
package httpserver
