package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/orchestrator/internal/api/shared"
	"github.com/phrazzld/orchestrator/internal/service"
	"github.com/phrazzld/orchestrator/internal/store"
	"github.com/phrazzld/orchestrator/internal/task"
)

// RunHandler serves the /api/runs endpoints.
type RunHandler struct {
	service service.TaskService
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(svc service.TaskService) *RunHandler {
	return &RunHandler{service: svc}
}

// List handles GET /api/runs?offset&limit&status.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: offset: %v", store.ErrInvalidFilter, err), "Invalid offset")
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: limit: %v", store.ErrInvalidFilter, err), "Invalid limit")
		return
	}

	filter := task.RunFilter{Offset: offset, Limit: limit, Status: q.Get("status")}
	runs, err := h.service.ListRuns(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if runs == nil {
		runs = []*task.Run{}
	}

	offset, limit, _, _ = task.NormalizeRunFilter(filter)
	shared.RespondWithJSON(w, r, http.StatusOK, RunListResponse{Runs: runs, Offset: offset, Limit: limit})
}

// Get handles GET /api/runs/{id}. The response includes member tasks.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, detail)
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}
