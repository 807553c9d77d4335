package header

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"braces.dev/errtrace"
	"github.com/icholy/digest"

	"github.com/signalpath/sipcore/internal/util"
)

// WWWAuthenticate represents the WWW-Authenticate header field.
// The WWW-Authenticate header field carries a digest challenge issued
// by a user agent server in a 401 response.
type WWWAuthenticate struct {
	Challenge *digest.Challenge
}

// CanonicName returns the canonical name of the header.
func (*WWWAuthenticate) CanonicName() Name { return "WWW-Authenticate" }

// CompactName returns the compact name of the header (WWW-Authenticate has no compact form).
func (*WWWAuthenticate) CompactName() Name { return "WWW-Authenticate" }

// RenderTo writes the header to the provided writer.
func (hdr *WWWAuthenticate) RenderTo(w io.Writer, _ *RenderOptions) (num int, err error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(fmt.Fprint(w, hdr.CanonicName(), ": ", hdr.RenderValue()))
}

// Render returns the string representation of the header.
func (hdr *WWWAuthenticate) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderHdrString(hdr, opts)
}

// RenderValue returns the header value without the name prefix.
func (hdr *WWWAuthenticate) RenderValue() string {
	if hdr == nil || hdr.Challenge == nil {
		return ""
	}
	return hdr.Challenge.String()
}

// String returns the string representation of the header value.
func (hdr *WWWAuthenticate) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr *WWWAuthenticate) Format(f fmt.State, verb rune) {
	type hideMethods WWWAuthenticate
	type WWWAuthenticate hideMethods
	formatHdr(f, verb, hdr, (*WWWAuthenticate)(hdr))
}

// Clone returns a copy of the header.
func (hdr *WWWAuthenticate) Clone() Header {
	if hdr == nil {
		return nil
	}
	return &WWWAuthenticate{Challenge: cloneChallenge(hdr.Challenge)}
}

// Equal compares this header with another for equality.
func (hdr *WWWAuthenticate) Equal(val any) bool {
	return compareHdrPtr(hdr, val, func(h1, h2 *WWWAuthenticate) bool {
		return equalChallenge(h1.Challenge, h2.Challenge)
	})
}

// IsValid checks whether the header is syntactically valid.
func (hdr *WWWAuthenticate) IsValid() bool { return hdr != nil && validChallenge(hdr.Challenge) }

func (hdr *WWWAuthenticate) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

var zeroWWWAuthenticate WWWAuthenticate

func (hdr *WWWAuthenticate) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[*WWWAuthenticate](data)
	if err != nil {
		*hdr = zeroWWWAuthenticate
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = *h
	return nil
}

func parseWWWAuthenticate(s string) (*WWWAuthenticate, error) {
	cln, err := digest.ParseChallenge(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &WWWAuthenticate{Challenge: cln}, nil
}

// ProxyAuthenticate represents the Proxy-Authenticate header field.
// The Proxy-Authenticate header field carries a digest challenge issued
// by a proxy in a 407 response.
type ProxyAuthenticate struct {
	Challenge *digest.Challenge
}

// CanonicName returns the canonical name of the header.
func (*ProxyAuthenticate) CanonicName() Name { return "Proxy-Authenticate" }

// CompactName returns the compact name of the header (Proxy-Authenticate has no compact form).
func (*ProxyAuthenticate) CompactName() Name { return "Proxy-Authenticate" }

// RenderTo writes the header to the provided writer.
func (hdr *ProxyAuthenticate) RenderTo(w io.Writer, _ *RenderOptions) (num int, err error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(fmt.Fprint(w, hdr.CanonicName(), ": ", hdr.RenderValue()))
}

// Render returns the string representation of the header.
func (hdr *ProxyAuthenticate) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderHdrString(hdr, opts)
}

// RenderValue returns the header value without the name prefix.
func (hdr *ProxyAuthenticate) RenderValue() string {
	if hdr == nil || hdr.Challenge == nil {
		return ""
	}
	return hdr.Challenge.String()
}

// String returns the string representation of the header value.
func (hdr *ProxyAuthenticate) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr *ProxyAuthenticate) Format(f fmt.State, verb rune) {
	type hideMethods ProxyAuthenticate
	type ProxyAuthenticate hideMethods
	formatHdr(f, verb, hdr, (*ProxyAuthenticate)(hdr))
}

// Clone returns a copy of the header.
func (hdr *ProxyAuthenticate) Clone() Header {
	if hdr == nil {
		return nil
	}
	return &ProxyAuthenticate{Challenge: cloneChallenge(hdr.Challenge)}
}

// Equal compares this header with another for equality.
func (hdr *ProxyAuthenticate) Equal(val any) bool {
	return compareHdrPtr(hdr, val, func(h1, h2 *ProxyAuthenticate) bool {
		return equalChallenge(h1.Challenge, h2.Challenge)
	})
}

// IsValid checks whether the header is syntactically valid.
func (hdr *ProxyAuthenticate) IsValid() bool { return hdr != nil && validChallenge(hdr.Challenge) }

func (hdr *ProxyAuthenticate) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

var zeroProxyAuthenticate ProxyAuthenticate

func (hdr *ProxyAuthenticate) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[*ProxyAuthenticate](data)
	if err != nil {
		*hdr = zeroProxyAuthenticate
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = *h
	return nil
}

func parseProxyAuthenticate(s string) (*ProxyAuthenticate, error) {
	cln, err := digest.ParseChallenge(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &ProxyAuthenticate{Challenge: cln}, nil
}

// Authorization represents the Authorization header field.
// The Authorization header field carries digest credentials answering
// a WWW-Authenticate challenge.
type Authorization struct {
	Credentials *digest.Credentials
}

// CanonicName returns the canonical name of the header.
func (*Authorization) CanonicName() Name { return "Authorization" }

// CompactName returns the compact name of the header (Authorization has no compact form).
func (*Authorization) CompactName() Name { return "Authorization" }

// RenderTo writes the header to the provided writer.
func (hdr *Authorization) RenderTo(w io.Writer, _ *RenderOptions) (num int, err error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(fmt.Fprint(w, hdr.CanonicName(), ": ", hdr.RenderValue()))
}

// Render returns the string representation of the header.
func (hdr *Authorization) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderHdrString(hdr, opts)
}

// RenderValue returns the header value without the name prefix.
func (hdr *Authorization) RenderValue() string {
	if hdr == nil || hdr.Credentials == nil {
		return ""
	}
	return hdr.Credentials.String()
}

// String returns the string representation of the header value.
func (hdr *Authorization) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr *Authorization) Format(f fmt.State, verb rune) {
	type hideMethods Authorization
	type Authorization hideMethods
	formatHdr(f, verb, hdr, (*Authorization)(hdr))
}

// Clone returns a copy of the header.
func (hdr *Authorization) Clone() Header {
	if hdr == nil {
		return nil
	}
	return &Authorization{Credentials: cloneCredentials(hdr.Credentials)}
}

// Equal compares this header with another for equality.
func (hdr *Authorization) Equal(val any) bool {
	return compareHdrPtr(hdr, val, func(h1, h2 *Authorization) bool {
		return equalCredentials(h1.Credentials, h2.Credentials)
	})
}

// IsValid checks whether the header is syntactically valid.
func (hdr *Authorization) IsValid() bool { return hdr != nil && validCredentials(hdr.Credentials) }

func (hdr *Authorization) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

var zeroAuthorization Authorization

func (hdr *Authorization) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[*Authorization](data)
	if err != nil {
		*hdr = zeroAuthorization
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = *h
	return nil
}

func parseAuthorization(s string) (*Authorization, error) {
	crd, err := digest.ParseCredentials(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &Authorization{Credentials: crd}, nil
}

// ProxyAuthorization represents the Proxy-Authorization header field.
// The Proxy-Authorization header field carries digest credentials answering
// a Proxy-Authenticate challenge.
type ProxyAuthorization struct {
	Credentials *digest.Credentials
}

// CanonicName returns the canonical name of the header.
func (*ProxyAuthorization) CanonicName() Name { return "Proxy-Authorization" }

// CompactName returns the compact name of the header (Proxy-Authorization has no compact form).
func (*ProxyAuthorization) CompactName() Name { return "Proxy-Authorization" }

// RenderTo writes the header to the provided writer.
func (hdr *ProxyAuthorization) RenderTo(w io.Writer, _ *RenderOptions) (num int, err error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(fmt.Fprint(w, hdr.CanonicName(), ": ", hdr.RenderValue()))
}

// Render returns the string representation of the header.
func (hdr *ProxyAuthorization) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderHdrString(hdr, opts)
}

// RenderValue returns the header value without the name prefix.
func (hdr *ProxyAuthorization) RenderValue() string {
	if hdr == nil || hdr.Credentials == nil {
		return ""
	}
	return hdr.Credentials.String()
}

// String returns the string representation of the header value.
func (hdr *ProxyAuthorization) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr *ProxyAuthorization) Format(f fmt.State, verb rune) {
	type hideMethods ProxyAuthorization
	type ProxyAuthorization hideMethods
	formatHdr(f, verb, hdr, (*ProxyAuthorization)(hdr))
}

// Clone returns a copy of the header.
func (hdr *ProxyAuthorization) Clone() Header {
	if hdr == nil {
		return nil
	}
	return &ProxyAuthorization{Credentials: cloneCredentials(hdr.Credentials)}
}

// Equal compares this header with another for equality.
func (hdr *ProxyAuthorization) Equal(val any) bool {
	return compareHdrPtr(hdr, val, func(h1, h2 *ProxyAuthorization) bool {
		return equalCredentials(h1.Credentials, h2.Credentials)
	})
}

// IsValid checks whether the header is syntactically valid.
func (hdr *ProxyAuthorization) IsValid() bool {
	return hdr != nil && validCredentials(hdr.Credentials)
}

func (hdr *ProxyAuthorization) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

var zeroProxyAuthorization ProxyAuthorization

func (hdr *ProxyAuthorization) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[*ProxyAuthorization](data)
	if err != nil {
		*hdr = zeroProxyAuthorization
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = *h
	return nil
}

func parseProxyAuthorization(s string) (*ProxyAuthorization, error) {
	crd, err := digest.ParseCredentials(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &ProxyAuthorization{Credentials: crd}, nil
}

func cloneChallenge(cln *digest.Challenge) *digest.Challenge {
	if cln == nil {
		return nil
	}
	cln2 := *cln
	cln2.Domain = slices.Clone(cln.Domain)
	cln2.QOP = slices.Clone(cln.QOP)
	return &cln2
}

func equalChallenge(cln1, cln2 *digest.Challenge) bool {
	if cln1 == cln2 {
		return true
	} else if cln1 == nil || cln2 == nil {
		return false
	}

	return util.EqFold(cln1.Realm, cln2.Realm) &&
		cln1.Nonce == cln2.Nonce &&
		cln1.Opaque == cln2.Opaque &&
		util.EqFold(cln1.Algorithm, cln2.Algorithm) &&
		cln1.Stale == cln2.Stale &&
		slices.Equal(cln1.Domain, cln2.Domain) &&
		slices.EqualFunc(cln1.QOP, cln2.QOP, util.EqFold[string, string])
}

func validChallenge(cln *digest.Challenge) bool {
	return cln != nil && cln.Realm != "" && cln.Nonce != "" &&
		(cln.Algorithm == "" || util.IsToken(cln.Algorithm))
}

func cloneCredentials(crd *digest.Credentials) *digest.Credentials {
	if crd == nil {
		return nil
	}
	crd2 := *crd
	return &crd2
}

func equalCredentials(crd1, crd2 *digest.Credentials) bool {
	if crd1 == crd2 {
		return true
	} else if crd1 == nil || crd2 == nil {
		return false
	}

	return crd1.Username == crd2.Username &&
		util.EqFold(crd1.Realm, crd2.Realm) &&
		crd1.Nonce == crd2.Nonce &&
		crd1.URI == crd2.URI &&
		crd1.Response == crd2.Response &&
		util.EqFold(crd1.Algorithm, crd2.Algorithm) &&
		crd1.Cnonce == crd2.Cnonce &&
		crd1.Opaque == crd2.Opaque &&
		util.EqFold(crd1.QOP, crd2.QOP) &&
		crd1.Nc == crd2.Nc
}

func validCredentials(crd *digest.Credentials) bool {
	return crd != nil && crd.Username != "" && crd.Realm != "" &&
		crd.Nonce != "" && crd.URI != "" && crd.Response != ""
}
