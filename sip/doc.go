// Package sip implements the SIP signaling core: the transaction layer
// defined by RFC 3261 section 17 with the RFC 6026 "Accepted" extensions,
// dialogs per RFC 3261 section 12, an event subscription state machine per
// RFC 6665, and a user agent core that dispatches inbound messages between
// them.
//
// The package is transport-agnostic: it talks to the network through the
// [ClientTransport] and [ServerTransport] interfaces and never opens
// sockets itself.
package sip

//go:generate go tool errtrace -w .
