// Package worker implements the polling dispatcher. Each tick dequeues one
// task, runs it through the agent registered for its role and records the
// outcome, retrying with backoff or dead-lettering on failure.
package worker
