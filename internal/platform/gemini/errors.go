package gemini

import (
	"errors"

	"google.golang.org/genai"

	"github.com/phrazzld/orchestrator/internal/llm"
)

// classifyError maps genai errors onto the llm error taxonomy.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.StatusError(apiErr.Code, 0, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return llm.StatusError(apiErrPtr.Code, 0, apiErrPtr.Message)
	}
	return llm.TransportError(err)
}
