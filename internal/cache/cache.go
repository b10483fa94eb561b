package cache

import (
	"context"
	"time"

	"github.com/phrazzld/dispatch/internal/task"
)

// Cache memoizes serialized processing results keyed by
// (kind, fingerprint). A Get never returns an entry past its TTL;
// concurrent Sets for the same key are safe with last-writer-wins
// semantics.
type Cache interface {
	// Get returns the cached value for the key and whether it was
	// found. Expired entries count as misses.
	Get(ctx context.Context, kind task.Kind, fingerprint string) ([]byte, bool, error)

	// Set stores value under the key for the given TTL.
	Set(ctx context.Context, kind task.Kind, fingerprint string, value []byte, ttl time.Duration) error

	// Invalidate removes the key. Removing an absent key is not an
	// error.
	Invalidate(ctx context.Context, kind task.Kind, fingerprint string) error
}

// Key builds the storage key for a (kind, fingerprint) pair.
func Key(kind task.Kind, fingerprint string) string {
	return "dispatch:result:" + string(kind) + ":" + fingerprint
}
