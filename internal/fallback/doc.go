// Package fallback wraps downstream calls with per-attempt timeouts,
// retry with exponential backoff and jitter, circuit breaking, and an
// ordered chain of alternative endpoints. Only exhaustion of the whole
// chain surfaces to callers, as ErrAllBackendsFailed.
package fallback
