package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_Valid(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{KindAudio, KindImage, KindText, KindUpload, KindQuery, KindGeneric} {
		assert.True(t, k.Valid(), "expected %q to be valid", k)
	}

	assert.False(t, Kind("video").Valid())
	assert.False(t, Kind("").Valid())
}

func TestStatus_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"pending to running", StatusPending, StatusRunning, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"pending to completed", StatusPending, StatusCompleted, false},
		{"pending to failed", StatusPending, StatusFailed, false},
		{"running to completed", StatusRunning, StatusCompleted, true},
		{"running to failed", StatusRunning, StatusFailed, true},
		{"running to cancelled", StatusRunning, StatusCancelled, true},
		{"running to pending", StatusRunning, StatusPending, false},
		{"completed is terminal", StatusCompleted, StatusRunning, false},
		{"failed is terminal", StatusFailed, StatusPending, false},
		{"cancelled is terminal", StatusCancelled, StatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestNew(t *testing.T) {
	t.Parallel()

	tk := New(KindText, Payload{Data: []byte("hello"), Language: "en"})

	require.NotNil(t, tk)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Equal(t, KindText, tk.Kind)
	assert.NotEqual(t, [16]byte{}, [16]byte(tk.ID), "expected a non-zero task ID")
	assert.False(t, tk.SubmittedAt.IsZero())
	assert.Nil(t, tk.StartedAt)
	assert.Nil(t, tk.FinishedAt)
}

func TestTask_Clone(t *testing.T) {
	t.Parallel()

	orig := New(KindAudio, Payload{Data: []byte{1, 2, 3}})
	cp := orig.Clone()

	cp.Status = StatusRunning
	assert.Equal(t, StatusPending, orig.Status, "mutating the clone must not affect the original")
	assert.Equal(t, orig.ID, cp.ID)
}
