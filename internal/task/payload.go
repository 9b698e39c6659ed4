package task

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var payloadValidator = validator.New()

// Payload is the typed, validated form of a task's payload. Each role has one
// concrete payload type; the JSON map carried on the Task stays the wire form.
type Payload interface {
	Role() Role
}

// Researcher actions
const (
	ActionFindJobs   = "find_jobs"
	ActionAnalyzeGap = "analyze_gap"
)

// ResearcherPayload drives job discovery and gap analysis.
type ResearcherPayload struct {
	Action         string `json:"action"                    validate:"required,oneof=find_jobs analyze_gap"`
	Query          string `json:"query,omitempty"           validate:"required_if=Action find_jobs"`
	Location       string `json:"location,omitempty"`
	Limit          int    `json:"limit,omitempty"           validate:"gte=0,lte=100"`
	ProfileID      string `json:"profile_id,omitempty"`
	JobDescription string `json:"job_description,omitempty" validate:"required_if=Action analyze_gap"`
}

// Role implements Payload.
func (ResearcherPayload) Role() Role { return RoleResearcher }

// Writer actions
const (
	ActionDraft  = "draft"
	ActionRevise = "revise"
)

// WriterPayload asks for a new draft or a revision of an existing one.
type WriterPayload struct {
	Action   string `json:"action"             validate:"required,oneof=draft revise"`
	Kind     string `json:"kind,omitempty"`
	Topic    string `json:"topic,omitempty"    validate:"required_if=Action draft"`
	Draft    string `json:"draft,omitempty"    validate:"required_if=Action revise"`
	Feedback string `json:"feedback,omitempty"`
}

// Role implements Payload.
func (WriterPayload) Role() Role { return RoleWriter }

// CodePayload is shared by the developer and reviewer roles.
type CodePayload struct {
	role         Role
	Repository   string `json:"repository,omitempty" validate:"omitempty,max=200"`
	Ref          string `json:"ref,omitempty"        validate:"omitempty,max=200"`
	Instructions string `json:"instructions"         validate:"required"`
}

// Role implements Payload.
func (p CodePayload) Role() Role { return p.role }

// TriagePayload carries an external event awaiting classification.
type TriagePayload struct {
	Event  string         `json:"event,omitempty"`
	Source string         `json:"source,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Role implements Payload.
func (TriagePayload) Role() Role { return RoleTriage }

// Maintenance actions
const (
	ActionReconcileRuns = "reconcile_runs"
)

// MaintenancePayload drives housekeeping performed without a model.
type MaintenancePayload struct {
	Action string   `json:"action"            validate:"required,oneof=reconcile_runs"`
	RunIDs []string `json:"run_ids,omitempty" validate:"dive,required"`
}

// Role implements Payload.
func (MaintenancePayload) Role() Role { return RoleMaintenance }

// ParsePayload decodes and validates t.Payload for t.Role. Omitted fields that
// have a natural default are filled from the task description. Errors wrap
// ErrInvalidPayload.
func ParsePayload(t Task) (Payload, error) {
	var p Payload
	switch t.Role {
	case RoleResearcher:
		rp := ResearcherPayload{}
		if err := decodePayload(t.Payload, &rp); err != nil {
			return nil, err
		}
		if rp.Action == "" {
			rp.Action = ActionFindJobs
		}
		if rp.Action == ActionFindJobs && rp.Query == "" {
			rp.Query = t.Description
		}
		p = rp
	case RoleWriter:
		wp := WriterPayload{}
		if err := decodePayload(t.Payload, &wp); err != nil {
			return nil, err
		}
		if wp.Action == "" {
			wp.Action = ActionDraft
		}
		if wp.Action == ActionDraft && wp.Topic == "" {
			wp.Topic = t.Description
		}
		p = wp
	case RoleDeveloper, RoleReviewer:
		cp := CodePayload{role: t.Role}
		if err := decodePayload(t.Payload, &cp); err != nil {
			return nil, err
		}
		if cp.Instructions == "" {
			cp.Instructions = t.Description
		}
		p = cp
	case RoleTriage:
		tp := TriagePayload{}
		if err := decodePayload(t.Payload, &tp); err != nil {
			return nil, err
		}
		p = tp
	case RoleMaintenance:
		mp := MaintenancePayload{}
		if err := decodePayload(t.Payload, &mp); err != nil {
			return nil, err
		}
		if mp.Action == "" {
			mp.Action = ActionReconcileRuns
		}
		p = mp
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidTask, t.Role)
	}

	if err := payloadValidator.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, t.Role, err)
	}
	return p, nil
}

// Validate checks the fields every producer must supply and the role's payload.
func Validate(t Task) error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidTask)
	case t.Role == "":
		return fmt.Errorf("%w: role is required", ErrInvalidTask)
	case t.Description == "":
		return fmt.Errorf("%w: description is required", ErrInvalidTask)
	case !t.Role.Valid():
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTask, t.Role)
	}
	_, err := ParsePayload(t)
	return err
}

func decodePayload(raw map[string]any, into any) error {
	if len(raw) == 0 {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
