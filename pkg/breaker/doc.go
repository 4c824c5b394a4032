// Package breaker guards calls to unreliable dependencies with per-service
// circuit breakers.
//
// A Registry holds one breaker per service id, created on first use. Each
// breaker is closed until FailureThreshold consecutive failures, then open
// for Timeout, during which calls fail fast with *core.CircuitOpenError (or
// return a registered fallback's result). After Timeout a single probe is
// let through: success closes the breaker, failure opens it again.
//
// Breaker state lives in process memory. Each node tracks its own view of a
// dependency.
package breaker
