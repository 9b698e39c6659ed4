package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/phrazzld/orchestrator/internal/task"
	"github.com/phrazzld/orchestrator/internal/tool"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// ExtractJSON returns the first JSON object in text. Fenced code blocks are
// preferred; otherwise the first balanced {...} span that decodes is used.
func ExtractJSON(text string) (json.RawMessage, bool) {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		if raw, ok := firstObject(m[1]); ok {
			return raw, true
		}
	}
	return firstObject(text)
}

func firstObject(s string) (json.RawMessage, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > 0 {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate), true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// matchBrace returns the index of the brace closing s[open], honoring JSON
// strings, or -1.
func matchBrace(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

type toolCallJSON struct {
	Command   string   `json:"command"`
	Name      string   `json:"name"`
	Args      []string `json:"args"`
	Cwd       string   `json:"cwd"`
	TimeoutMS int      `json:"timeout_ms"`
}

func (c toolCallJSON) call() tool.Call {
	cmd := c.Command
	if cmd == "" {
		cmd = c.Name
	}
	return tool.Call{Command: cmd, Args: c.Args, Cwd: c.Cwd, TimeoutMS: c.TimeoutMS}
}

type toolEnvelope struct {
	ToolCalls []toolCallJSON `json:"tool_calls"`
	ToolCall  *toolCallJSON  `json:"tool_call"`
}

// ParseToolCalls reports the tool calls requested by a model reply: either a
// "tool_calls" array or a single "tool_call" object.
func ParseToolCalls(text string) ([]tool.Call, bool) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, false
	}
	var env toolEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	var calls []tool.Call
	for _, c := range env.ToolCalls {
		calls = append(calls, c.call())
	}
	if env.ToolCall != nil {
		calls = append(calls, env.ToolCall.call())
	}
	return calls, len(calls) > 0
}

// Structured is the final reply schema for structured roles.
type Structured struct {
	Interpretation     string   `json:"interpretation"`
	Strategy           string   `json:"strategy"`
	DeliverableSummary string   `json:"deliverable_summary"`
	ContinuityNotes    string   `json:"continuity_notes"`
	Risks              []string `json:"risks"`
}

// Map renders the structured reply as result output.
func (s Structured) Map() map[string]any {
	risks := s.Risks
	if risks == nil {
		risks = []string{}
	}
	return map[string]any{
		"interpretation":      s.Interpretation,
		"strategy":            s.Strategy,
		"deliverable_summary": s.DeliverableSummary,
		"continuity_notes":    s.ContinuityNotes,
		"risks":               risks,
	}
}

// ParseStructured decodes a final reply. The summary and interpretation are
// required; a missing risks list is treated as empty.
func ParseStructured(text string) (Structured, error) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return Structured{}, fmt.Errorf("%w: no JSON object in reply", task.ErrStructuredParse)
	}
	var s Structured
	if err := json.Unmarshal(raw, &s); err != nil {
		return Structured{}, fmt.Errorf("%w: %v", task.ErrStructuredParse, err)
	}
	if strings.TrimSpace(s.Interpretation) == "" || strings.TrimSpace(s.DeliverableSummary) == "" {
		return Structured{}, fmt.Errorf("%w: interpretation and deliverable_summary are required", task.ErrStructuredParse)
	}
	return s, nil
}
