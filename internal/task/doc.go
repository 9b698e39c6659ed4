// Package task defines the orchestrator's work items and the contracts every
// backend must satisfy: the Task and Run model, the pure run-status derivation,
// the error taxonomy shared by agents and the worker, typed per-role payloads,
// and the Queue, TaskStore and RunStore interfaces together with their
// in-process implementations.
//
// The in-process backends are single-instance only. Deployments that run more
// than one worker must use the networked queue and the SQL stores.
package task
