// Package protocol owns the packet model shared by every tier.
//
// Ownership boundary:
// - packet type enumeration
// - ordered string payloads
// - packet envelope construction
//
// Wire framing lives in protocol/frame, payload contracts in protocol/schema,
// and transport/retry primitives in protocol/session.
package protocol
