// Package pool implements bounded worker pools with per-pool
// saturation policies, futures for result delivery, and graceful
// shutdown with a drain budget. A Manager owns one pool per task
// category so categories degrade independently.
package pool
