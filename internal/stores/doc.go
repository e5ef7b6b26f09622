// Package stores contains the Redis-backed persistence for auth event logs
// and fraud assessments. Records are kept in per-user sorted sets; events
// are scored by timestamp, assessments by risk score.
package stores
