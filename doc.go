// Package authrisk provides a TOTP second-factor engine with per-user
// attempt lockout, plus an event-correlation engine that scores
// authentication activity for fraud risk and decides whether a user
// notification should fire.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authrisk is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (AuthEvent, FraudAssessment, SessionGrant, etc.). All
// internal coordination — attempt tracking, event and assessment storage,
// audit dispatch — lives under internal/ and is never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its
//     public API.
//   - Return a raw TOTP secret from any operation after the enrollment
//     response (the secret leaves only inside the otpauth:// URI).
//   - Block a caller on the optional Assessor: any assessor failure or
//     timeout silently falls back to rule-based scoring.
//
// # Failure philosophy
//
// Credential operations fail closed: an unreachable backing store fails the
// request. Risk analysis never fails the caller: if scoring cannot complete,
// the engine returns a zero-risk assessment marked incomplete rather than
// surfacing the downstream error.
package authrisk
