package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/orchestrator/internal/store"
)

func TestTaskServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      *TaskServiceError
		expected string
	}{
		{
			name:     "with wrapped error",
			err:      NewTaskServiceError("submit", "failed to record task", store.ErrTaskExists),
			expected: "task service submit failed: failed to record task: entity already exists: task",
		},
		{
			name:     "without wrapped error",
			err:      NewTaskServiceError("replay", "nothing to do", nil),
			expected: "task service replay failed: nothing to do",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}

	err := NewTaskServiceError("get_run", "failed to list run tasks", store.ErrTaskNotFound)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.False(t, errors.Is(err, store.ErrDuplicate))
}
