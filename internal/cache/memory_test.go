package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch/internal/task"
)

func TestMemory_SetGet(t *testing.T) {
	t.Parallel()

	m := NewMemory(10)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, task.KindText, "fp1", []byte("hello"), time.Minute))

	val, found, err := m.Get(ctx, task.KindText, "fp1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)

	// Same fingerprint under a different kind is a different key.
	_, found, err = m.Get(ctx, task.KindAudio, "fp1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_TTLExpiry(t *testing.T) {
	t.Parallel()

	m := NewMemory(10)
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, task.KindText, "fp", []byte("v"), time.Minute))

	_, found, err := m.Get(ctx, task.KindText, "fp")
	require.NoError(t, err)
	require.True(t, found)

	// Step past the TTL; the entry must no longer be served.
	now = now.Add(time.Minute + time.Second)
	_, found, err = m.Get(ctx, task.KindText, "fp")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, m.Len(), "expired entry should have been dropped on read")
}

func TestMemory_LRUBound(t *testing.T) {
	t.Parallel()

	m := NewMemory(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Set(ctx, task.KindText, fmt.Sprintf("fp%d", i), []byte("v"), time.Minute))
	}

	// Touch fp0 so fp1 becomes the eviction candidate.
	_, found, _ := m.Get(ctx, task.KindText, "fp0")
	require.True(t, found)

	require.NoError(t, m.Set(ctx, task.KindText, "fp3", []byte("v"), time.Minute))
	assert.Equal(t, 3, m.Len())

	_, found, _ = m.Get(ctx, task.KindText, "fp1")
	assert.False(t, found, "least recently used entry should have been evicted")
	_, found, _ = m.Get(ctx, task.KindText, "fp0")
	assert.True(t, found)
}

func TestMemory_Invalidate(t *testing.T) {
	t.Parallel()

	m := NewMemory(10)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, task.KindImage, "fp", []byte("v"), time.Minute))
	require.NoError(t, m.Invalidate(ctx, task.KindImage, "fp"))

	_, found, err := m.Get(ctx, task.KindImage, "fp")
	require.NoError(t, err)
	assert.False(t, found)

	// Invalidating an absent key is fine.
	assert.NoError(t, m.Invalidate(ctx, task.KindImage, "missing"))
}

func TestMemory_CallerCannotMutateStoredValue(t *testing.T) {
	t.Parallel()

	m := NewMemory(10)
	ctx := context.Background()

	orig := []byte("immutable")
	require.NoError(t, m.Set(ctx, task.KindText, "fp", orig, time.Minute))
	orig[0] = 'X'

	val, found, err := m.Get(ctx, task.KindText, "fp")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("immutable"), val)

	val[0] = 'Y'
	again, _, _ := m.Get(ctx, task.KindText, "fp")
	assert.Equal(t, []byte("immutable"), again)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	m := NewMemory(100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			fp := fmt.Sprintf("fp%d", n%5)
			for j := 0; j < 50; j++ {
				_ = m.Set(ctx, task.KindText, fp, []byte("value"), time.Minute)
				_, _, _ = m.Get(ctx, task.KindText, fp)
			}
		}(i)
	}
	wg.Wait()

	val, found, err := m.Get(ctx, task.KindText, "fp0")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("value"), val)
}
