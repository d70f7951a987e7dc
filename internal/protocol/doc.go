// Package protocol owns the wire contract shared with the editor peer.
//
// Ownership boundary:
// - JSON envelope shapes for discovery and command traffic
// - type-specific data payloads
// - accumulate-until-parseable framing primitives
package protocol
