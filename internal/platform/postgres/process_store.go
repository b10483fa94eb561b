// Package postgres implements the store interfaces against
// PostgreSQL through the pgx stdlib driver.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/dispatch/internal/store"
)

// ProcessStore persists process log records in the process_log table.
type ProcessStore struct {
	db store.DBTX
}

// NewProcessStore creates a ProcessStore over the given connection or
// transaction.
func NewProcessStore(db store.DBTX) *ProcessStore {
	return &ProcessStore{db: db}
}

// RecordProcess inserts one record.
func (s *ProcessStore) RecordProcess(ctx context.Context, rec *store.ProcessRecord) error {
	query := `
		INSERT INTO process_log
			(id, kind, fingerprint, served_from, endpoint, cache_hit, degraded, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		id,
		string(rec.Kind),
		rec.Fingerprint,
		rec.ServedFrom,
		rec.Endpoint,
		rec.CacheHit,
		rec.Degraded,
		rec.LatencyMs,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert process record: %w", err)
	}
	return nil
}
