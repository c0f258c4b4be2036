// Package registry holds the fixed set of backends loaded at startup and
// answers which one should serve the next request.
package registry
