package header

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/internal/ioutil"
	"github.com/signalpath/sipcore/internal/util"
)

// Allow represents the Allow header field.
// The Allow header field lists the set of methods supported by the user agent.
type Allow []RequestMethod

// CanonicName returns the canonical name of the header.
func (Allow) CanonicName() Name { return "Allow" }

// CompactName returns the compact name of the header (Allow has no compact form).
func (Allow) CompactName() Name { return "Allow" }

// RenderTo writes the header to the provided writer.
func (hdr Allow) RenderTo(w io.Writer, _ *RenderOptions) (num int, err error) {
	if hdr == nil {
		return 0, nil
	}

	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Fprint(hdr.CanonicName(), ": ")
	cw.Call(hdr.renderValueTo)
	return errtrace.Wrap2(cw.Result())
}

func (hdr Allow) renderValueTo(w io.Writer) (num int, err error) {
	return errtrace.Wrap2(renderHdrEntries(w, hdr))
}

// Render returns the string representation of the header.
func (hdr Allow) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderHdrString(hdr, opts)
}

// RenderValue returns the header value without the name prefix.
func (hdr Allow) RenderValue() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	hdr.renderValueTo(sb) //nolint:errcheck
	return sb.String()
}

// String returns the string representation of the header value.
func (hdr Allow) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr Allow) Format(f fmt.State, verb rune) {
	type hideMethods Allow
	type Allow hideMethods
	formatHdr(f, verb, hdr, Allow(hdr))
}

// Clone returns a copy of the header.
func (hdr Allow) Clone() Header {
	if hdr == nil {
		return Allow(nil)
	}
	return slices.Clone(hdr)
}

// Equal compares this header with another for equality.
func (hdr Allow) Equal(val any) bool {
	return compareHdrVal(hdr, val, func(h1, h2 Allow) bool {
		return slices.EqualFunc(h1, h2, func(m1, m2 RequestMethod) bool { return m1.Equal(m2) })
	})
}

// IsValid checks whether the header is syntactically valid.
func (hdr Allow) IsValid() bool {
	return len(hdr) > 0 && !slices.ContainsFunc(hdr, func(m RequestMethod) bool { return !m.IsValid() })
}

// Contains reports whether the method is present in the list.
func (hdr Allow) Contains(method RequestMethod) bool {
	return slices.ContainsFunc(hdr, func(m RequestMethod) bool { return m.Equal(method) })
}

func (hdr Allow) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

func (hdr *Allow) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[Allow](data)
	if err != nil {
		*hdr = nil
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = h
	return nil
}

func parseAllow(s string) Allow {
	tokens := splitTokenList(s)
	hdr := make(Allow, 0, len(tokens))
	for _, tok := range tokens {
		hdr = append(hdr, RequestMethod(util.UCase(tok)))
	}
	return hdr
}

// Supported represents the Supported header field.
// The Supported header field enumerates all the extensions supported by the user agent.
type Supported []string

// CanonicName returns the canonical name of the header.
func (Supported) CanonicName() Name { return "Supported" }

// CompactName returns the compact name of the header.
func (Supported) CompactName() Name { return "k" }

// RenderTo writes the header to the provided writer.
func (hdr Supported) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	if hdr == nil {
		return 0, nil
	}

	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	name := hdr.CanonicName()
	if opts != nil && opts.Compact {
		name = hdr.CompactName()
	}
	cw.Fprint(name, ": ")
	cw.Call(hdr.renderValueTo)
	return errtrace.Wrap2(cw.Result())
}

func (hdr Supported) renderValueTo(w io.Writer) (num int, err error) {
	return errtrace.Wrap2(renderHdrEntries(w, hdr))
}

// Render returns the string representation of the header.
func (hdr Supported) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderHdrString(hdr, opts)
}

// RenderValue returns the header value without the name prefix.
func (hdr Supported) RenderValue() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	hdr.renderValueTo(sb) //nolint:errcheck
	return sb.String()
}

// String returns the string representation of the header value.
func (hdr Supported) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr Supported) Format(f fmt.State, verb rune) {
	type hideMethods Supported
	type Supported hideMethods
	formatHdr(f, verb, hdr, Supported(hdr))
}

// Clone returns a copy of the header.
func (hdr Supported) Clone() Header {
	if hdr == nil {
		return Supported(nil)
	}
	return slices.Clone(hdr)
}

// Equal compares this header with another for equality.
func (hdr Supported) Equal(val any) bool {
	return compareHdrVal(hdr, val, func(h1, h2 Supported) bool {
		return slices.EqualFunc(h1, h2, util.EqFold[string, string])
	})
}

// IsValid checks whether the header is syntactically valid.
func (hdr Supported) IsValid() bool {
	return !slices.ContainsFunc(hdr, func(tag string) bool { return !util.IsToken(tag) })
}

// Contains reports whether the option tag is present in the list.
func (hdr Supported) Contains(tag string) bool {
	return slices.ContainsFunc(hdr, func(t string) bool { return util.EqFold(t, tag) })
}

func (hdr Supported) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

func (hdr *Supported) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[Supported](data)
	if err != nil {
		*hdr = nil
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = h
	return nil
}

func parseSupported(s string) Supported {
	return Supported(splitTokenList(s))
}

func splitTokenList(s string) []string {
	var tokens []string
	for _, tok := range strings.Split(s, ",") {
		if tok = util.TrimSP(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
