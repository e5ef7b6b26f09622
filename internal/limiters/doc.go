// Package limiters contains the Redis-backed attempt tracker that enforces
// per-user lockout on failed TOTP verifications.
package limiters
