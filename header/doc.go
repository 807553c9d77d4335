// Package header implements SIP message header fields.
//
// Each header type implements the [Header] interface and renders itself
// in canonical or compact form. [Parse] builds a typed header from a raw
// "Name: value" line, falling back to [Any] for fields without a native
// implementation.
package header
