// Package scheduler holds the timer-driven task producers: a generic
// scheduler that emits one task per configured role, a recurring scheduler
// that emits tasks for entities whose frequency window has elapsed, and a
// source scheduler that emits one task per target returned by an external
// collaborator.
//
// Schedulers never read the work queue. They publish a TaskRequestEvent per
// tick through an events.EventEmitter, and the dispatch service turns it into
// a run plus queued tasks. Every scheduler offers idempotent Start and Stop
// and a TickOnce for out-of-band triggering.
package scheduler
