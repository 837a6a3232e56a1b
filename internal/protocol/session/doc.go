// Package session owns the per-exchange transport primitives shared by every tier.
//
// Ownership boundary:
// - session timeouts, retry and backoff configuration
// - transport security policy (optional TLS)
// - reliable one-shot sender and its in-flight outbox
//
// Every exchange is one connection: connect, write one frame, read one frame,
// close. Retries always use a fresh connection.
package session
