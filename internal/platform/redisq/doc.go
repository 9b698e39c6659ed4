// Package redisq holds the Redis-backed pieces shared by orchestrator
// instances: a FIFO task queue (also used for the dead-letter queue) and a
// fixed-window rate limiter.
//
// The queue pushes with LPUSH and pops with RPOP. Each command is atomic, so
// concurrent workers never receive the same task, but there is no lease or
// acknowledgement: a worker that crashes after RPOP loses the task. Delivery
// is therefore at-most-once.
package redisq
