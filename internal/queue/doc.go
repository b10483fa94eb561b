// Package queue provides a fire-and-forget task submission facility
// on top of the worker pools: status tracking with monotonic
// lifecycle transitions, bounded-wait result retrieval, best-effort
// cancellation, and retention-window eviction of terminal tasks.
package queue
