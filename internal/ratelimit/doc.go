// Package ratelimit provides a fixed-window rate limiter keyed by
// backend name, with a non-blocking fast path (TryAcquire) and a
// blocking variant (Acquire) bounded by a wait budget.
package ratelimit
