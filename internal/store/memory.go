package store

import (
	"context"
	"sync"
)

// MemoryProcessStore is an in-memory ProcessStore for tests and for
// deployments running without a database.
type MemoryProcessStore struct {
	mu      sync.Mutex
	records []*ProcessRecord
}

// NewMemoryProcessStore creates an empty store.
func NewMemoryProcessStore() *MemoryProcessStore {
	return &MemoryProcessStore{}
}

// RecordProcess appends the record.
func (m *MemoryProcessStore) RecordProcess(_ context.Context, rec *ProcessRecord) error {
	cp := *rec
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, &cp)
	return nil
}

// Records returns a copy of everything recorded so far.
func (m *MemoryProcessStore) Records() []*ProcessRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ProcessRecord, len(m.records))
	copy(out, m.records)
	return out
}
