package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/orchestrator/internal/api/shared"
	"github.com/phrazzld/orchestrator/internal/platform/logger"
	"github.com/phrazzld/orchestrator/internal/service"
	"github.com/phrazzld/orchestrator/internal/store"
	"github.com/phrazzld/orchestrator/internal/task"
)

// TaskHandler serves the /api/tasks endpoints.
type TaskHandler struct {
	service service.TaskService
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(svc service.TaskService) *TaskHandler {
	return &TaskHandler{service: svc}
}

// Submit handles POST /api/tasks. Accepted tasks are processed
// asynchronously, so the response is 202 with a receipt.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		if errors.Is(err, shared.ErrEmptyBody) {
			HandleAPIError(w, r, err, "")
			return
		}
		HandleAPIError(w, r, fmt.Errorf("%w: %v", task.ErrInvalidTask, err), "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: %v", task.ErrInvalidTask, err), SanitizeValidationError(err))
		return
	}

	receipt, err := h.service.Submit(r.Context(), req.Task(), task.RunTypeManual, nil)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContext(r.Context()).Info("task accepted",
		"task_id", receipt.TaskID, "run_id", receipt.RunID, "queue_depth", receipt.QueueDepth)
	shared.RespondWithJSON(w, r, http.StatusAccepted, receipt)
}

// List handles GET /api/tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.service.ListTasks(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if tasks == nil {
		tasks = []*task.TrackedTask{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{Tasks: tasks})
}

// Get handles GET /api/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, t)
}

// History handles GET /api/tasks/{id}/history.
func (h *TaskHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := h.service.History(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HistoryResponse{TaskID: id, History: history})
}

// UpdateMetadata handles PATCH /api/tasks/{id}/metadata. The body is a JSON
// object merged into the task's metadata.
func (h *TaskHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := shared.DecodeJSON(w, r, &patch); err != nil {
		if errors.Is(err, shared.ErrEmptyBody) {
			HandleAPIError(w, r, err, "")
			return
		}
		HandleAPIError(w, r, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err), "Invalid request format")
		return
	}

	t, err := h.service.UpdateMetadata(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, t)
}
