package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/orchestrator/internal/api/shared"
	"github.com/phrazzld/orchestrator/internal/service"
	"github.com/phrazzld/orchestrator/internal/service/auth"
	"github.com/phrazzld/orchestrator/internal/store"
	"github.com/phrazzld/orchestrator/internal/task"
	"github.com/phrazzld/orchestrator/internal/webhook"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{name: "nil error", err: nil, expectedStatus: http.StatusInternalServerError, expectedCode: CodeInternal},
		{name: "expired token", err: auth.ErrExpiredToken, expectedStatus: http.StatusUnauthorized, expectedCode: CodeUnauthenticated},
		{name: "wrapped api key", err: fmt.Errorf("verify: %w", auth.ErrInvalidAPIKey), expectedStatus: http.StatusUnauthorized, expectedCode: CodeUnauthenticated},
		{name: "bad signature", err: webhook.ErrInvalidSignature, expectedStatus: http.StatusUnauthorized, expectedCode: CodeUnauthenticated},
		{name: "task not found", err: store.ErrTaskNotFound, expectedStatus: http.StatusNotFound, expectedCode: CodeNotFound},
		{name: "duplicate task", err: store.ErrTaskExists, expectedStatus: http.StatusConflict, expectedCode: CodeConflict},
		{name: "invalid task", err: fmt.Errorf("%w: id is required", task.ErrInvalidTask), expectedStatus: http.StatusBadRequest, expectedCode: task.CodeInvalidTask},
		{name: "invalid payload", err: task.ErrInvalidPayload, expectedStatus: http.StatusBadRequest, expectedCode: task.CodeInvalidTask},
		{name: "invalid filter", err: store.ErrInvalidFilter, expectedStatus: http.StatusBadRequest, expectedCode: CodeInvalidRequest},
		{name: "empty body", err: shared.ErrEmptyBody, expectedStatus: http.StatusBadRequest, expectedCode: CodeInvalidRequest},
		{name: "rate limited", err: task.ErrRateLimitExceeded, expectedStatus: http.StatusTooManyRequests, expectedCode: task.CodeRateLimitExceeded},
		{name: "enqueue failed", err: fmt.Errorf("%w: redis down", service.ErrEnqueueFailed), expectedStatus: http.StatusServiceUnavailable, expectedCode: CodeUnavailable},
		{name: "unknown", err: errors.New("boom"), expectedStatus: http.StatusInternalServerError, expectedCode: CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expectedStatus, MapErrorToStatusCode(tt.err))
			assert.Equal(t, tt.expectedCode, ErrorCode(tt.err))
		})
	}
}

func TestGetSafeErrorMessageHidesDetails(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("query failed: postgres://admin:hunter2@db/orchestrator: %w", store.ErrRunNotFound)
	assert.Equal(t, "Run not found", GetSafeErrorMessage(err))

	msg := GetSafeErrorMessage(errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	assert.Equal(t, "An unexpected error occurred", msg)
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	err := shared.ValidateRequest(SubmitTaskRequest{Role: "writer", Description: "x"})
	require.Error(t, err)
	assert.Equal(t, "Invalid id: required field", SanitizeValidationError(err))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("other")))
}

func TestHandleAPIError(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/x", nil)
	req = req.WithContext(shared.WithTraceID(req.Context(), "trace-abcdef12"))
	w := httptest.NewRecorder()

	HandleAPIError(w, req, fmt.Errorf("load: %w", store.ErrTaskNotFound), "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Task not found","code":"not_found","trace_id":"trace-abcdef12"}`, w.Body.String())
}
