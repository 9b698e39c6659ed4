// Package gemini implements llm.Client on top of Google's genai SDK.
package gemini
