// Package fetch downloads source archives over HTTP.
//
// Requests go through a DNS-cached transport and a per-host circuit breaker.
// Retries are opt-in: a Fetcher makes exactly one attempt unless WithRetries
// asks for more, and a 404 is never retried.
package fetch
