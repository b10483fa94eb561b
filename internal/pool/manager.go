package pool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/dispatch/internal/observability"
)

// Manager owns the process's named worker pools. Each pool is sized
// independently so a slow AI backend cannot starve upload or database
// work.
type Manager struct {
	mu      sync.RWMutex
	pools   map[string]*Pool
	logger  *slog.Logger
	metrics *observability.Registry
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger, metrics *observability.Registry) *Manager {
	return &Manager{
		pools:   make(map[string]*Pool),
		logger:  logger,
		metrics: metrics,
	}
}

// Create starts a new pool under the given name. Creating a name
// twice is a programming error and is rejected.
func (m *Manager) Create(name string, cfg Config) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[name]; exists {
		return nil, fmt.Errorf("pool %q already exists", name)
	}

	p := New(name, cfg, m.logger, m.metrics)
	m.pools[name] = p

	m.logger.Info("created worker pool",
		"pool", name,
		"capacity", cfg.Capacity,
		"queue_depth", cfg.QueueDepth,
		"policy", cfg.Policy)
	return p, nil
}

// Get returns the named pool.
func (m *Manager) Get(name string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	return p, ok
}

// Names returns the pool names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ShutdownAll drains every pool, sharing the drain budget, and
// returns the total number of dropped submissions.
func (m *Manager) ShutdownAll(drainTimeout time.Duration) (dropped int) {
	m.mu.RLock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	counts := make([]int, len(pools))
	for i, p := range pools {
		wg.Add(1)
		go func(i int, p *Pool) {
			defer wg.Done()
			counts[i] = p.Shutdown(drainTimeout)
		}(i, p)
	}
	wg.Wait()

	for _, c := range counts {
		dropped += c
	}
	return dropped
}
