package webhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/orchestrator/internal/task"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     string
		payload  string
		wantRole task.Role
		contains string
	}{
		{
			name:     "push",
			kind:     KindPush,
			payload:  `{"ref":"refs/heads/main","before":"a1","after":"b2","repository":{"full_name":"acme/api"}}`,
			wantRole: task.RoleReviewer,
			contains: "acme/api on refs/heads/main",
		},
		{
			name:     "pull request",
			kind:     KindPullRequest,
			payload:  `{"action":"opened","number":7,"pull_request":{"title":"Add retries","head":{"ref":"feat/retries"}},"repository":{"full_name":"acme/api"}}`,
			wantRole: task.RoleReviewer,
			contains: "#7 in acme/api: Add retries",
		},
		{
			name:     "issues",
			kind:     KindIssues,
			payload:  `{"action":"opened","issue":{"title":"Crash on start","number":3},"repository":{"full_name":"acme/api"}}`,
			wantRole: task.RoleTriage,
			contains: "Crash on start",
		},
		{
			name:     "issue comment",
			kind:     KindIssueComment,
			payload:  `{"action":"created","issue":{"title":"Crash"},"comment":{"body":"same here"},"repository":{"full_name":"acme/api"}}`,
			wantRole: task.RoleTriage,
			contains: "issue_comment",
		},
		{
			name:     "release",
			kind:     KindRelease,
			payload:  `{"action":"published","release":{"tag_name":"v1.2.0","name":"Spring"},"repository":{"full_name":"acme/api"}}`,
			wantRole: task.RoleWriter,
			contains: "v1.2.0",
		},
		{
			name:     "failed workflow",
			kind:     KindWorkflowRun,
			payload:  `{"action":"completed","workflow_run":{"name":"ci","conclusion":"failure","head_branch":"main"},"repository":{"full_name":"acme/api"}}`,
			wantRole: task.RoleDeveloper,
			contains: "investigate workflow_run ci",
		},
		{
			name:     "successful workflow",
			kind:     KindWorkflowRun,
			payload:  `{"action":"completed","workflow_run":{"name":"ci","conclusion":"success"},"repository":{"full_name":"acme/api"}}`,
			wantRole: task.RoleTriage,
			contains: "workflow_run",
		},
		{
			name:     "failed check run",
			kind:     KindCheckRun,
			payload:  `{"check_run":{"name":"lint","conclusion":"timed_out","check_suite":{"head_branch":"dev"}},"repository":{"full_name":"acme/api"}}`,
			wantRole: task.RoleDeveloper,
			contains: "lint",
		},
		{
			name:     "unknown kind",
			kind:     "star",
			payload:  `{"action":"created","repository":{"full_name":"acme/api"}}`,
			wantRole: DefaultRole,
			contains: "triage star event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Translate(tt.kind, decode(t, tt.payload))

			assert.Equal(t, tt.wantRole, got.Role)
			assert.Contains(t, got.Description, tt.contains)
			assert.NotEmpty(t, got.ID)
			assert.NoError(t, task.Validate(got))
		})
	}
}

func TestTranslateIsDeterministic(t *testing.T) {
	t.Parallel()
	payload := `{"action":"opened","number":7,"pull_request":{"title":"x"},"repository":{"full_name":"acme/api"}}`

	a := Translate(KindPullRequest, decode(t, payload))
	b := Translate(KindPullRequest, decode(t, payload))
	assert.Equal(t, a, b)

	c := Translate(KindPullRequest, decode(t, `{"number":8}`))
	assert.NotEqual(t, a.ID, c.ID)
}

func TestTranslateCarriesCodePayload(t *testing.T) {
	t.Parallel()
	got := Translate(KindPullRequest, decode(t,
		`{"action":"synchronize","number":9,"pull_request":{"title":"Fix","head":{"ref":"fix/x"}},"repository":{"full_name":"acme/api"}}`))

	assert.Equal(t, "acme/api", got.Payload["repository"])
	assert.Equal(t, "fix/x", got.Payload["ref"])
	assert.Contains(t, got.Payload["instructions"], "synchronize")
}

func TestTranslateEmptyPayload(t *testing.T) {
	t.Parallel()
	for _, kind := range append(Kinds(), "", "Weird Kind") {
		got := Translate(kind, nil)
		assert.NoError(t, task.Validate(got), kind)
	}
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()
	secret := []byte("hook-secret")
	body := []byte(`{"zen":"keep it simple"}`)
	valid := Sign(secret, body)

	assert.NoError(t, VerifySignature(secret, body, valid))
	assert.ErrorIs(t, VerifySignature(secret, body, ""), ErrMissingSignature)
	assert.ErrorIs(t, VerifySignature(secret, body, "sha1=abc"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(secret, body, "sha256=zz"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature([]byte("other"), body, valid), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(secret, []byte(`{}`), valid), ErrInvalidSignature)
}

func TestDeliveryTaskID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "github-72d3162e-cc78-11e3-81ab-4c9367dc0958",
		DeliveryTaskID("72d3162e-cc78-11e3-81ab-4c9367dc0958"))
	assert.Equal(t, "github-abc-def", DeliveryTaskID("ABC/def"))
}
