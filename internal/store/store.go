// Package store defines the persistence interfaces for the
// orchestration core: the process log written after every Process
// call, and the DBTX abstraction that lets implementations run
// against a connection or a transaction.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/dispatch/internal/task"
)

// DBTX abstracts the database access layer. It is implemented by both
// *sql.DB and *sql.Tx, allowing store code to work with either a
// connection pool or a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ProcessRecord is the side-effect log entry the orchestrator emits
// after each Process call: what was asked, how it was served, and how
// long it took. The record is an opaque structured row; nothing in
// the core reads it back.
type ProcessRecord struct {
	ID          uuid.UUID
	Kind        task.Kind
	Fingerprint string
	ServedFrom  string
	Endpoint    string
	CacheHit    bool
	Degraded    bool
	LatencyMs   int64
	CreatedAt   time.Time
}

// ProcessStore persists process log records.
type ProcessStore interface {
	// RecordProcess appends one record. Failures must not break the
	// processing path; callers log and move on.
	RecordProcess(ctx context.Context, rec *ProcessRecord) error
}
