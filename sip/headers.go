package sip

import (
	"encoding/json"
	"io"
	"slices"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/header"
	"github.com/signalpath/sipcore/internal/ioutil"
	"github.com/signalpath/sipcore/internal/util"
)

// Headers is a collection of structured SIP headers keyed by canonical name.
// Multi-entry headers (Via, Route, Contact, ...) are stored as a single
// slice-typed value holding all entries in order.
type Headers map[header.Name]header.Header

// Preferred rendering order of the well-known headers.
// Any header not listed here renders after these, in lexical name order.
var hdrRenderOrder = []header.Name{
	"Via",
	"Route",
	"Record-Route",
	"Max-Forwards",
	"From",
	"To",
	"Call-ID",
	"CSeq",
	"Contact",
	"Event",
	"Subscription-State",
	"Expires",
	"Min-Expires",
}

// Get returns the header with the given name.
func (hdrs Headers) Get(name header.Name) (header.Header, bool) {
	hdr, ok := hdrs[header.CanonicName(name)]
	return hdr, ok
}

// Set stores the header under its canonical name, replacing any previous
// value, and returns the collection for chaining.
func (hdrs Headers) Set(hdr header.Header) Headers {
	hdrs[hdr.CanonicName()] = hdr
	return hdrs
}

// Del removes the header with the given name and returns the collection
// for chaining.
func (hdrs Headers) Del(name header.Name) Headers {
	delete(hdrs, header.CanonicName(name))
	return hdrs
}

// Has reports whether a header with the given name is present.
func (hdrs Headers) Has(name header.Name) bool {
	_, ok := hdrs[header.CanonicName(name)]
	return ok
}

// Len returns the number of stored headers.
func (hdrs Headers) Len() int { return len(hdrs) }

// Clone returns a deep copy of the collection.
func (hdrs Headers) Clone() Headers {
	if hdrs == nil {
		return nil
	}
	hdrs2 := make(Headers, len(hdrs))
	for name, hdr := range hdrs {
		hdrs2[name] = hdr.Clone()
	}
	return hdrs2
}

// CopyFrom copies clones of the named headers from src, skipping names
// absent in src, and returns the collection for chaining.
func (hdrs Headers) CopyFrom(src Headers, names ...header.Name) Headers {
	for _, name := range names {
		if hdr, ok := src.Get(name); ok {
			hdrs.Set(hdr.Clone())
		}
	}
	return hdrs
}

// Names returns all stored header names in rendering order.
func (hdrs Headers) Names() []header.Name {
	names := make([]header.Name, 0, len(hdrs))
	for _, name := range hdrRenderOrder {
		if _, ok := hdrs[name]; ok {
			names = append(names, name)
		}
	}
	rest := make([]header.Name, 0, len(hdrs))
	for name := range hdrs {
		if !slices.Contains(hdrRenderOrder, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}

// RenderTo writes all headers to w, each terminated with CRLF.
func (hdrs Headers) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)

	for _, name := range hdrs.Names() {
		cw.Call(func(w io.Writer) (int, error) {
			return errtrace.Wrap2(hdrs[name].RenderTo(w, opts))
		})
		cw.Fprint("\r\n")
	}
	return errtrace.Wrap2(cw.Result())
}

// Render returns all headers as a string.
func (hdrs Headers) Render(opts *RenderOptions) string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	hdrs.RenderTo(sb, opts) //nolint:errcheck
	return sb.String()
}

// Equal reports whether two collections contain equal headers.
func (hdrs Headers) Equal(val any) bool {
	var other Headers
	switch v := val.(type) {
	case Headers:
		other = v
	case *Headers:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	if len(hdrs) != len(other) {
		return false
	}
	for name, hdr := range hdrs {
		hdr2, ok := other[name]
		if !ok || !hdr.Equal(hdr2) {
			return false
		}
	}
	return true
}

// IsValid reports whether every stored header is valid.
func (hdrs Headers) IsValid() bool {
	for _, hdr := range hdrs {
		if !hdr.IsValid() {
			return false
		}
	}
	return true
}

// MarshalJSON renders the collection as a JSON array of headers in
// rendering order.
func (hdrs Headers) MarshalJSON() ([]byte, error) {
	entries := make([]json.RawMessage, 0, len(hdrs))
	for _, name := range hdrs.Names() {
		data, err := header.ToJSON(hdrs[name])
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		entries = append(entries, data)
	}
	return errtrace.Wrap2(json.Marshal(entries))
}

func (hdrs *Headers) UnmarshalJSON(data []byte) error {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return errtrace.Wrap(err)
	}
	hdrs2 := make(Headers, len(entries))
	for _, entry := range entries {
		hdr, err := header.FromJSON(entry)
		if err != nil {
			return errtrace.Wrap(err)
		}
		hdrs2.Set(hdr)
	}
	*hdrs = hdrs2
	return nil
}

// Via returns the Via header.
func (hdrs Headers) Via() (header.Via, bool) {
	hdr, ok := hdrs["Via"].(header.Via)
	return hdr, ok
}

// FirstVia returns a pointer to the first Via hop.
func (hdrs Headers) FirstVia() (*header.ViaHop, bool) {
	via, ok := hdrs.Via()
	if !ok || len(via) == 0 {
		return nil, false
	}
	return &via[0], true
}

// From returns the From header.
func (hdrs Headers) From() (*header.From, bool) {
	hdr, ok := hdrs["From"].(*header.From)
	return hdr, ok
}

// To returns the To header.
func (hdrs Headers) To() (*header.To, bool) {
	hdr, ok := hdrs["To"].(*header.To)
	return hdr, ok
}

// CallID returns the Call-ID header.
func (hdrs Headers) CallID() (header.CallID, bool) {
	hdr, ok := hdrs["Call-ID"].(header.CallID)
	return hdr, ok
}

// CSeq returns the CSeq header.
func (hdrs Headers) CSeq() (*header.CSeq, bool) {
	hdr, ok := hdrs["CSeq"].(*header.CSeq)
	return hdr, ok
}

// Contact returns the Contact header.
func (hdrs Headers) Contact() (header.Contact, bool) {
	hdr, ok := hdrs["Contact"].(header.Contact)
	return hdr, ok
}

// Route returns the Route header.
func (hdrs Headers) Route() (header.Route, bool) {
	hdr, ok := hdrs["Route"].(header.Route)
	return hdr, ok
}

// RecordRoute returns the Record-Route header.
func (hdrs Headers) RecordRoute() (header.RecordRoute, bool) {
	hdr, ok := hdrs["Record-Route"].(header.RecordRoute)
	return hdr, ok
}

// MaxForwards returns the Max-Forwards header.
func (hdrs Headers) MaxForwards() (header.MaxForwards, bool) {
	hdr, ok := hdrs["Max-Forwards"].(header.MaxForwards)
	return hdr, ok
}

// Expires returns the Expires header.
func (hdrs Headers) Expires() (header.Expires, bool) {
	hdr, ok := hdrs["Expires"].(header.Expires)
	return hdr, ok
}

// MinExpires returns the Min-Expires header.
func (hdrs Headers) MinExpires() (header.MinExpires, bool) {
	hdr, ok := hdrs["Min-Expires"].(header.MinExpires)
	return hdr, ok
}

// RetryAfter returns the Retry-After header.
func (hdrs Headers) RetryAfter() (header.RetryAfter, bool) {
	hdr, ok := hdrs["Retry-After"].(header.RetryAfter)
	return hdr, ok
}

// ContentType returns the Content-Type header.
func (hdrs Headers) ContentType() (header.ContentType, bool) {
	hdr, ok := hdrs["Content-Type"].(header.ContentType)
	return hdr, ok
}

// ContentLength returns the Content-Length header.
func (hdrs Headers) ContentLength() (header.ContentLength, bool) {
	hdr, ok := hdrs["Content-Length"].(header.ContentLength)
	return hdr, ok
}

// Event returns the Event header.
func (hdrs Headers) Event() (*header.Event, bool) {
	hdr, ok := hdrs["Event"].(*header.Event)
	return hdr, ok
}

// SubscriptionState returns the Subscription-State header.
func (hdrs Headers) SubscriptionState() (*header.SubscriptionState, bool) {
	hdr, ok := hdrs["Subscription-State"].(*header.SubscriptionState)
	return hdr, ok
}

// Allow returns the Allow header.
func (hdrs Headers) Allow() (header.Allow, bool) {
	hdr, ok := hdrs["Allow"].(header.Allow)
	return hdr, ok
}

// Supported returns the Supported header.
func (hdrs Headers) Supported() (header.Supported, bool) {
	hdr, ok := hdrs["Supported"].(header.Supported)
	return hdr, ok
}

// WWWAuthenticate returns the WWW-Authenticate header.
func (hdrs Headers) WWWAuthenticate() (*header.WWWAuthenticate, bool) {
	hdr, ok := hdrs["WWW-Authenticate"].(*header.WWWAuthenticate)
	return hdr, ok
}

// ProxyAuthenticate returns the Proxy-Authenticate header.
func (hdrs Headers) ProxyAuthenticate() (*header.ProxyAuthenticate, bool) {
	hdr, ok := hdrs["Proxy-Authenticate"].(*header.ProxyAuthenticate)
	return hdr, ok
}

// Authorization returns the Authorization header.
func (hdrs Headers) Authorization() (*header.Authorization, bool) {
	hdr, ok := hdrs["Authorization"].(*header.Authorization)
	return hdr, ok
}

// ProxyAuthorization returns the Proxy-Authorization header.
func (hdrs Headers) ProxyAuthorization() (*header.ProxyAuthorization, bool) {
	hdr, ok := hdrs["Proxy-Authorization"].(*header.ProxyAuthorization)
	return hdr, ok
}
