package header

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/internal/ioutil"
	"github.com/signalpath/sipcore/internal/util"
)

// RouteHop is a single element of a route set.
type RouteHop = NameAddr

// Route represents the Route header field.
// The Route header field is used to force routing for a request through the listed set of proxies.
type Route []RouteHop

// CanonicName returns the canonical name of the header.
func (Route) CanonicName() Name { return "Route" }

// CompactName returns the compact name of the header (Route has no compact form).
func (Route) CompactName() Name { return "Route" }

// RenderTo writes the header to the provided writer.
func (hdr Route) RenderTo(w io.Writer, _ *RenderOptions) (num int, err error) {
	if hdr == nil {
		return 0, nil
	}

	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Fprint(hdr.CanonicName(), ": ")
	cw.Call(hdr.renderValueTo)
	return errtrace.Wrap2(cw.Result())
}

func (hdr Route) renderValueTo(w io.Writer) (num int, err error) {
	return errtrace.Wrap2(renderHdrEntries(w, hdr))
}

// Render returns the string representation of the header.
func (hdr Route) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderHdrString(hdr, opts)
}

// RenderValue returns the header value without the name prefix.
func (hdr Route) RenderValue() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	hdr.renderValueTo(sb) //nolint:errcheck
	return sb.String()
}

// String returns the string representation of the header value.
func (hdr Route) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr Route) Format(f fmt.State, verb rune) {
	type hideMethods Route
	type Route hideMethods
	formatHdr(f, verb, hdr, Route(hdr))
}

// Clone returns a copy of the header.
func (hdr Route) Clone() Header { return cloneHdrEntries(hdr) }

// Equal compares this header with another for equality.
func (hdr Route) Equal(val any) bool {
	return compareHdrVal(hdr, val, func(h1, h2 Route) bool {
		return slices.EqualFunc(h1, h2, func(addr1, addr2 NameAddr) bool { return addr1.Equal(addr2) })
	})
}

// IsValid checks whether the header is syntactically valid.
func (hdr Route) IsValid() bool {
	return len(hdr) > 0 && !slices.ContainsFunc(hdr, func(addr NameAddr) bool { return !addr.IsValid() })
}

func (hdr Route) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

func (hdr *Route) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[Route](data)
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

func parseRoute(s string) (Route, error) {
	hops, err := parseRouteHops(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return Route(hops), nil
}

func parseRouteHops(s string) ([]RouteHop, error) {
	entries := splitHdrEntries(s)
	hops := make([]RouteHop, 0, len(entries))
	for _, entry := range entries {
		addr, err := parseNameAddr(entry)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		hops = append(hops, addr)
	}
	return hops, nil
}

// RecordRoute represents the Record-Route header field.
// The Record-Route header field is inserted by proxies to force future
// requests in the dialog to be routed through them.
type RecordRoute []RouteHop

// CanonicName returns the canonical name of the header.
func (RecordRoute) CanonicName() Name { return "Record-Route" }

// CompactName returns the compact name of the header (Record-Route has no compact form).
func (RecordRoute) CompactName() Name { return "Record-Route" }

// RenderTo writes the header to the provided writer.
func (hdr RecordRoute) RenderTo(w io.Writer, _ *RenderOptions) (num int, err error) {
	if hdr == nil {
		return 0, nil
	}

	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Fprint(hdr.CanonicName(), ": ")
	cw.Call(hdr.renderValueTo)
	return errtrace.Wrap2(cw.Result())
}

func (hdr RecordRoute) renderValueTo(w io.Writer) (num int, err error) {
	return errtrace.Wrap2(renderHdrEntries(w, hdr))
}

// Render returns the string representation of the header.
func (hdr RecordRoute) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderHdrString(hdr, opts)
}

// RenderValue returns the header value without the name prefix.
func (hdr RecordRoute) RenderValue() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	hdr.renderValueTo(sb) //nolint:errcheck
	return sb.String()
}

// String returns the string representation of the header value.
func (hdr RecordRoute) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr RecordRoute) Format(f fmt.State, verb rune) {
	type hideMethods RecordRoute
	type RecordRoute hideMethods
	formatHdr(f, verb, hdr, RecordRoute(hdr))
}

// Clone returns a copy of the header.
func (hdr RecordRoute) Clone() Header { return cloneHdrEntries(hdr) }

// Equal compares this header with another for equality.
func (hdr RecordRoute) Equal(val any) bool {
	return compareHdrVal(hdr, val, func(h1, h2 RecordRoute) bool {
		return slices.EqualFunc(h1, h2, func(addr1, addr2 NameAddr) bool { return addr1.Equal(addr2) })
	})
}

// IsValid checks whether the header is syntactically valid.
func (hdr RecordRoute) IsValid() bool {
	return len(hdr) > 0 && !slices.ContainsFunc(hdr, func(addr NameAddr) bool { return !addr.IsValid() })
}

func (hdr RecordRoute) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

func (hdr *RecordRoute) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[RecordRoute](data)
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

func parseRecordRoute(s string) (RecordRoute, error) {
	hops, err := parseRouteHops(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return RecordRoute(hops), nil
}
