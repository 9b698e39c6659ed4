package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/orchestrator/internal/api/shared"
	"github.com/phrazzld/orchestrator/internal/platform/logger"
	"github.com/phrazzld/orchestrator/internal/service"
	"github.com/phrazzld/orchestrator/internal/store"
	"github.com/phrazzld/orchestrator/internal/task"
)

// DLQHandler serves the /api/dlq endpoints.
type DLQHandler struct {
	service service.TaskService
}

// NewDLQHandler creates a DLQHandler.
func NewDLQHandler(svc service.TaskService) *DLQHandler {
	return &DLQHandler{service: svc}
}

// List handles GET /api/dlq?limit.
func (h *DLQHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"))
	if err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: limit: %v", store.ErrInvalidFilter, err), "Invalid limit")
		return
	}
	tasks, err := h.service.DeadLetters(r.Context(), limit)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, DeadLetterResponse{Tasks: tasks})
}

// Replay handles POST /api/dlq/replay. The body is optional.
func (h *DLQHandler) Replay(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, shared.ErrEmptyBody) {
		HandleAPIError(w, r, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err), "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err), SanitizeValidationError(err))
		return
	}

	n, err := h.service.Replay(r.Context(), req.Limit)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	logger.FromContext(r.Context()).Info("replayed dead-lettered tasks", "count", n)
	shared.RespondWithJSON(w, r, http.StatusOK, CountResponse{Count: n})
}

// Purge handles DELETE /api/dlq.
func (h *DLQHandler) Purge(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.PurgeDeadLetters(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	logger.FromContext(r.Context()).Info("purged dead-letter queue", "count", n)
	shared.RespondWithJSON(w, r, http.StatusOK, CountResponse{Count: n})
}
