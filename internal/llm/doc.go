// Package llm defines the boundary between the orchestrator and language
// model providers. Agents depend only on Client; concrete providers live under
// internal/platform and are registered with a Router, which enforces the
// per-provider endpoint policy.
package llm
