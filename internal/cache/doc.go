// Package cache memoizes processing results by (kind, fingerprint)
// with TTL semantics. Two implementations are provided: an in-process
// LRU (Memory) and a redis-backed store (Redis) sharing one pooled
// client per process.
package cache
