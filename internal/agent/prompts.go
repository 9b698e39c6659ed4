package agent

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/phrazzld/orchestrator/internal/task"
	"github.com/phrazzld/orchestrator/internal/tool"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var promptTemplates = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

type systemData struct {
	Role              task.Role
	Structured        bool
	Tools             []tool.Definition
	MaxToolIterations int
}

type taskData struct {
	Description string
	Payload     task.Payload
	PayloadJSON string
}

func renderSystem(data systemData) (string, error) {
	return render("system.tmpl", data)
}

func renderTask(t task.Task, p task.Payload) (string, error) {
	data := taskData{Description: t.Description, Payload: p}
	if tp, ok := p.(task.TriagePayload); ok && len(tp.Data) > 0 {
		raw, err := json.MarshalIndent(tp.Data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode triage data: %w", err)
		}
		data.PayloadJSON = string(raw)
	}
	return render(string(t.Role)+".tmpl", data)
}

func render(name string, data any) (string, error) {
	tmpl := promptTemplates.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("no prompt template %s", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template %s: %w", name, err)
	}
	return buf.String(), nil
}
