// Package logger provides structured logging functionality for the orchestrator
// using Go's standard library log/slog package. It owns logger construction from
// configuration and the context plumbing that lets task-scoped attributes
// (task id, role, run id, attempt) follow a task through stores and agents.
package logger
