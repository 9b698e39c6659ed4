// Package service contains the dispatch use cases that sit between the
// producers (HTTP API, webhooks, schedulers) and the queue, task store and
// run store.
//
// Every producer goes through TaskService.Submit, which validates the task,
// ensures its run exists, records the task, appends it to the run, enqueues
// it and re-derives the run status. The same service exposes the read side
// (tasks, history, runs) and dead-letter queue maintenance.
//
// The service depends on the task.Queue, task.TaskStore and task.RunStore
// interfaces only, so in-memory and networked backends are interchangeable.
package service
