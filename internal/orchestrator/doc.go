// Package orchestrator composes the caching, rate limiting, worker
// pool, and fallback layers into the single Process pipeline that the
// HTTP API and the task queue both call. Identical concurrent
// requests collapse into one backend invocation, and a fully
// exhausted backend chain yields a degraded result instead of an
// error.
package orchestrator
