package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/phrazzld/orchestrator/internal/api/shared"
	"github.com/phrazzld/orchestrator/internal/platform/logger"
	"github.com/phrazzld/orchestrator/internal/service"
	"github.com/phrazzld/orchestrator/internal/task"
	"github.com/phrazzld/orchestrator/internal/webhook"
)

// WebhookHandler turns GitHub-style deliveries into tasks.
type WebhookHandler struct {
	service service.TaskService
	secret  []byte
}

// NewWebhookHandler creates a WebhookHandler. When secret is non-empty every
// delivery must carry a valid X-Hub-Signature-256 header.
func NewWebhookHandler(svc service.TaskService, secret string) *WebhookHandler {
	return &WebhookHandler{service: svc, secret: []byte(secret)}
}

// Receive handles POST /api/webhooks.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, shared.MaxBodyBytes))
	if err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: %v", task.ErrInvalidTask, err), "Invalid request body")
		return
	}
	if len(body) == 0 {
		HandleAPIError(w, r, shared.ErrEmptyBody, "")
		return
	}

	if len(h.secret) > 0 {
		if err := webhook.VerifySignature(h.secret, body, r.Header.Get(webhook.HeaderSignature)); err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: %v", task.ErrInvalidTask, err), "Invalid request format")
		return
	}

	kind := r.Header.Get(webhook.HeaderEvent)
	if kind == "" {
		kind, _ = payload["event"].(string)
	}

	t := webhook.Translate(kind, payload)
	if delivery := r.Header.Get(webhook.HeaderDelivery); delivery != "" {
		t.ID = webhook.DeliveryTaskID(delivery)
	}

	receipt, err := h.service.Submit(r.Context(), t, task.RunTypeGitHub, map[string]any{"event": kind})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContext(r.Context()).Info("webhook translated",
		"event", kind, "task_id", receipt.TaskID, "role", string(t.Role))
	shared.RespondWithJSON(w, r, http.StatusAccepted, receipt)
}
