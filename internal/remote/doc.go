// Package remote implements the socket client for the editor's remote
// execution peer: multicast discovery, command channel negotiation, and
// single-in-flight command execution.
//
// Ownership boundary:
// - rendezvous (multicast) socket lifecycle
// - command channel lifecycle and teardown
// - execution request/result semantics, including crash classification
//
// One Client is one session. Commands are strictly sequential; the wire
// has no request-id multiplexing, so a reply can only be correlated to
// the most recent outstanding request.
package remote
