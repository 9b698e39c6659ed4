// Package ratelimit implements per-requester admission control. Keys combine a
// requester and a feature ("requester:feature"). The in-process SlidingWindow
// serves single-instance deployments; the Redis fixed window in
// platform/redisq serves deployments that share a backend.
package ratelimit
