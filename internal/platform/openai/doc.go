// Package openai implements llm.Client for OpenAI-compatible chat completion
// endpoints, including local servers such as Ollama or vLLM.
package openai
