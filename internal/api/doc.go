// Package api handles incoming HTTP requests for the orchestrator: task
// submission and inspection, runs, the dead-letter queue and webhooks. It
// translates HTTP concerns into calls on the dispatch service.
package api
