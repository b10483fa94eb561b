package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch/internal/backend"
	"github.com/phrazzld/dispatch/internal/task"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(&backend.Static{BackendName: "whisper", ServedKinds: []task.Kind{task.KindAudio}})
	r.Register(&backend.Static{BackendName: "gemini", ServedKinds: []task.Kind{task.KindText, task.KindImage}})

	b, ok := r.Get("whisper")
	require.True(t, ok)
	assert.Equal(t, "whisper", b.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.True(t, r.IsAvailable("gemini"))
	assert.False(t, r.IsAvailable("missing"))
	assert.Equal(t, []string{"gemini", "whisper"}, r.Names())
}

func TestRegistry_ForKind(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(&backend.Static{BackendName: "whisper", ServedKinds: []task.Kind{task.KindAudio}})
	r.Register(&backend.Static{BackendName: "gemini", ServedKinds: []task.Kind{task.KindText, task.KindImage}})
	r.Register(&backend.Static{BackendName: "local-llm", ServedKinds: []task.Kind{task.KindText}})

	assert.Equal(t, []string{"gemini", "local-llm"}, r.ForKind(task.KindText))
	assert.Equal(t, []string{"whisper"}, r.ForKind(task.KindAudio))
	assert.Empty(t, r.ForKind(task.KindUpload))
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(&backend.Static{BackendName: "b", Value: "old"})
	r.Register(&backend.Static{BackendName: "b", Value: "new"})

	b, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, "new", b.(*backend.Static).Value)
	assert.Len(t, r.Names(), 1)
}
