// Package enrollkit provides a multi-step identity enrollment and login engine with
// one-time verification codes, TOTP plus backup-code second factors, stateless JWT
// session tokens, and Redis-backed sliding-window rate limits.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// enrollkit is the public surface. It exposes [Engine], [Builder], [Config], result types
// (RegisterResult, VerifyResult, LoginResult, etc.), and the pluggable contracts
// [IdentityStore], [Notifier], [CodeVault], and [AuditSink]. Code generation, hashing,
// and rate arithmetic live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Persist identities itself: durable identity state belongs to the caller's
//     [IdentityStore].
//   - Deliver messages itself: email and SMS transport belongs to the caller's
//     [Notifier].
//   - Expose Redis clients, raw code material, or hash encodings in its public API.
//
// # Outcome contract
//
// Engine operations reserve the error return for infrastructure failures (store, vault,
// or limiter unavailable). Every expected rejection — wrong code, rate limit, locked
// account, out-of-order step — comes back as a result with an [Outcome] value and a
// nil error, so callers can map outcomes to responses without string matching.
package enrollkit
