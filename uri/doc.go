// Package uri provides SIP-related Uniform Resource Identifiers.
//
// Two URI types are implemented:
//
//   - [SIP]: SIP and SIPS URIs (sip:, sips:), the primary addressing mechanism
//     in SIP signaling. Supports user credentials, host:port addressing,
//     URI parameters, and headers per RFC 3261.
//
//   - [Any]: a generic URI type based on [net/url.URL] for arbitrary schemes
//     that don't fit the SIP pattern (e.g. http:, mailto:).
//
// Both types implement the [URI] interface for rendering, cloning, validation,
// and equality comparison. SIP URI equality follows RFC 3261 Section 19.1.4:
// special parameters (transport, user, method, maddr, ttl, lr) must match,
// non-special parameters are optional for equality.
//
// URI values are not safe for concurrent modification. When sharing URIs
// across goroutines, either use synchronization or create copies with Clone.
package uri
