// Package webhook translates inbound GitHub-style webhook deliveries into
// tasks and verifies their signatures.
package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/orchestrator/internal/task"
)

// Event kinds with a dedicated translation. Any other kind becomes a triage
// task.
const (
	KindPush         = "push"
	KindPullRequest  = "pull_request"
	KindIssues       = "issues"
	KindIssueComment = "issue_comment"
	KindRelease      = "release"
	KindWorkflowRun  = "workflow_run"
	KindCheckRun     = "check_run"
)

// DefaultRole handles kinds without a dedicated translation.
const DefaultRole = task.RoleTriage

// Kinds lists the kinds with a dedicated translation.
func Kinds() []string {
	return []string{KindPush, KindPullRequest, KindIssues, KindIssueComment, KindRelease, KindWorkflowRun, KindCheckRun}
}

// Translate maps a delivery to a task. It is deterministic: the same kind
// and payload always yield the same task, including its id.
func Translate(kind string, payload map[string]any) task.Task {
	repo := str(payload, "repository", "full_name")
	action := str(payload, "action")

	var t task.Task
	switch kind {
	case KindPush:
		ref := str(payload, "ref")
		t = task.Task{
			Role:        task.RoleReviewer,
			Description: fmt.Sprintf("review commits pushed to %s on %s", orUnknown(repo), orUnknown(ref)),
			Payload: codePayload(repo, ref, fmt.Sprintf(
				"Review the commits between %s and %s.", str(payload, "before"), str(payload, "after"))),
		}
	case KindPullRequest:
		number := num(payload, "number")
		title := str(payload, "pull_request", "title")
		t = task.Task{
			Role:        task.RoleReviewer,
			Description: fmt.Sprintf("review pull request #%s in %s: %s", number, orUnknown(repo), title),
			Payload: codePayload(repo, str(payload, "pull_request", "head", "ref"), fmt.Sprintf(
				"Pull request #%s was %s. Review the change: %s", number, orUnknown(action), title)),
		}
	case KindRelease:
		tag := str(payload, "release", "tag_name")
		t = task.Task{
			Role:        task.RoleWriter,
			Description: fmt.Sprintf("draft release notes for %s %s", orUnknown(repo), orUnknown(tag)),
			Payload: map[string]any{
				"action": task.ActionDraft,
				"kind":   "release_notes",
				"topic":  fmt.Sprintf("release %s of %s: %s", orUnknown(tag), orUnknown(repo), str(payload, "release", "name")),
			},
		}
	case KindWorkflowRun, KindCheckRun:
		name := str(payload, kind, "name")
		conclusion := str(payload, kind, "conclusion")
		if conclusion == "failure" || conclusion == "timed_out" {
			branch := str(payload, kind, "head_branch")
			if branch == "" {
				branch = str(payload, kind, "check_suite", "head_branch")
			}
			t = task.Task{
				Role:        task.RoleDeveloper,
				Description: fmt.Sprintf("investigate %s %s in %s (%s)", kind, orUnknown(name), orUnknown(repo), conclusion),
				Payload: codePayload(repo, branch, fmt.Sprintf(
					"The %s %q concluded with %s. Find the cause and propose a fix.", kind, name, conclusion)),
			}
			break
		}
		t = triage(kind, repo, action, payload)
	default:
		// issues, issue_comment and unknown kinds
		t = triage(kind, repo, action, payload)
	}

	t.ID = deliveryID(kind, payload)
	return t
}

func triage(kind, repo, action string, payload map[string]any) task.Task {
	title := str(payload, "issue", "title")
	desc := fmt.Sprintf("triage %s event from %s", orUnknown(kind), orUnknown(repo))
	if action != "" {
		desc += " (" + action + ")"
	}
	if title != "" {
		desc += ": " + title
	}
	data := map[string]any{}
	if action != "" {
		data["action"] = action
	}
	if title != "" {
		data["title"] = title
	}
	if n := num(payload, "issue", "number"); n != "" {
		data["number"] = n
	}
	if body := str(payload, "comment", "body"); body != "" {
		data["comment"] = body
	}
	if sender := str(payload, "sender", "login"); sender != "" {
		data["sender"] = sender
	}
	p := map[string]any{"event": kind, "source": repo}
	if len(data) > 0 {
		p["data"] = data
	}
	return task.Task{Role: DefaultRole, Description: desc, Payload: p}
}

func codePayload(repo, ref, instructions string) map[string]any {
	p := map[string]any{"instructions": instructions}
	if repo != "" {
		p["repository"] = repo
	}
	if ref != "" {
		p["ref"] = ref
	}
	return p
}

// deliveryID hashes the kind and canonical payload. encoding/json sorts map
// keys, so equal payloads hash equally.
func deliveryID(kind string, payload map[string]any) string {
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(append([]byte(kind+"\x00"), raw...))
	return "github-" + sanitize(kind) + "-" + hex.EncodeToString(sum[:8])
}

// DeliveryTaskID derives a task id from a delivery id header so that a
// redelivered event collides with the task created by the first delivery.
func DeliveryTaskID(delivery string) string {
	return "github-" + sanitize(delivery)
}

func sanitize(kind string) string {
	if kind == "" {
		return "event"
	}
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			return r
		}
		return '-'
	}, strings.ToLower(kind))
}

// str walks nested objects and returns the string at path, or "".
func str(m map[string]any, path ...string) string {
	v, ok := lookup(m, path...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// num returns the number at path formatted without a fraction, or "".
func num(m map[string]any, path ...string) string {
	v, ok := lookup(m, path...)
	if !ok {
		return ""
	}
	switch n := v.(type) {
	case float64:
		return fmt.Sprintf("%.0f", n)
	case int:
		return fmt.Sprintf("%d", n)
	case json.Number:
		return n.String()
	case string:
		return n
	}
	return ""
}

func lookup(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
