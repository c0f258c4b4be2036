// Package fetch performs the single outbound exchange of a dispatch against
// one backend and classifies its failure. Supported backend schemes are
// http, https, redis and tcp. Nothing is retried here and no transport
// handle outlives a call.
package fetch
