// Package events decouples task producers from task dispatch.
//
// Schedulers, the webhook endpoint and the API describe the work they want as
// a TaskRequestEvent and emit it; the dispatch service is registered as the
// handler that validates, persists and enqueues the tasks. Producers never
// touch the queue or the stores directly.
//
// The primary components are:
// - TaskRequestEvent: a batch of tasks that share one run
// - EventHandler: implemented by components that act on events
// - EventEmitter: implemented by components that publish events
package events
