// Package rate provides internal primitives for sliding-window quotas and
// progressive failure backoff on enrollment and login operations.
//
// # Window semantics
//
// Sliding-window counters: each admitted event is timestamped; a quota of N
// per window W blocks when N events fall inside the trailing W. Blocked
// attempts are never recorded, so hammering a blocked key cannot extend the
// block. RetryAfter is the time until the oldest in-window event ages out.
//
// Progressive backoff: failures within the trailing hour impose a delay of
// base * 2^(n-1), capped, measured from the most recent failure.
//
// Key prefixes (Redis backend):
//   - ek:rl:  — sliding-window events, one ZSET per (scope, identifier, window)
//   - ek:rlf: — failure timestamps, one ZSET per (scope, identifier)
//
// # What this package must NOT do
//
//   - Decide which operations are limited or with which quotas (the engine does).
//   - Be imported outside the enrollkit module.
package rate
