package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/orchestrator/internal/api/shared"
	"github.com/phrazzld/orchestrator/internal/service"
	"github.com/phrazzld/orchestrator/internal/service/auth"
	"github.com/phrazzld/orchestrator/internal/store"
	"github.com/phrazzld/orchestrator/internal/task"
	"github.com/phrazzld/orchestrator/internal/webhook"
)

// Error codes returned alongside HTTP errors that have no task error code.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeInvalidRequest  = "invalid_request"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal_error"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrWrongTokenType),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidAPIKey),
		errors.Is(err, webhook.ErrMissingSignature),
		errors.Is(err, webhook.ErrInvalidSignature):
		return http.StatusUnauthorized

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, task.ErrInvalidTask),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, store.ErrInvalidFilter),
		errors.Is(err, shared.ErrEmptyBody):
		return http.StatusBadRequest

	case errors.Is(err, task.ErrRateLimitExceeded):
		return http.StatusTooManyRequests

	case errors.Is(err, service.ErrEnqueueFailed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns the machine-readable code reported with err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, task.ErrInvalidTask),
		errors.Is(err, task.ErrRateLimitExceeded):
		return task.Code(err)
	}
	switch MapErrorToStatusCode(err) {
	case http.StatusUnauthorized:
		return CodeUnauthenticated
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusBadRequest:
		return CodeInvalidRequest
	case http.StatusServiceUnavailable:
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// GetSafeErrorMessage returns a user-facing message for err that carries no
// internal detail.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrWrongTokenType),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"
	case errors.Is(err, auth.ErrInvalidAPIKey):
		return "Invalid API key"
	case errors.Is(err, webhook.ErrMissingSignature),
		errors.Is(err, webhook.ErrInvalidSignature):
		return "Invalid webhook signature"

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrRunNotFound):
		return "Run not found"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, store.ErrTaskExists):
		return "Task already exists"
	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"

	case errors.Is(err, task.ErrInvalidPayload):
		return "Invalid task payload"
	case errors.Is(err, task.ErrInvalidTask):
		return "Invalid task"
	case errors.Is(err, store.ErrInvalidFilter):
		return "Invalid filter"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"
	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"

	case errors.Is(err, task.ErrRateLimitExceeded):
		return "Rate limit exceeded"
	case errors.Is(err, service.ErrEnqueueFailed):
		return "Task queue unavailable"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator errors into a short message naming
// the first failing field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the mapped status, code and message for err and logs
// the underlying error. A non-empty customMessage replaces the safe message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, customMessage string) {
	message := customMessage
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), ErrorCode(err), message, err)
}
