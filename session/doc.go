// Package session houses implementations of core.SessionDataStore, the
// keyed store actors use to carry data between runs of the same session.
// Data is addressed by (session id, actor key); a missing entry reads as an
// empty map.
//
// The in-memory store suits tests and single-process deployments. The
// redis sub-package persists session data in Redis.
package session
