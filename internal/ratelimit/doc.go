// Package ratelimit is a fixed-window request limiter keyed by client identity.
//
// Each identity gets a counter that starts with its first request and resets
// when the window elapses. Requests past the ceiling are denied until then.
// Counters live behind Store: MemoryStore for a single instance, RedisStore
// when several instances must share one budget.
//
// What this does NOT protect against:
//   - distributed attacks across many ips
//   - bandwidth-bill attacks, inbound data is already accepted by the time this runs
package ratelimit
