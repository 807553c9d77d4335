package header

import (
	"errors"
	"fmt"
	"io"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/internal/errorutil"
	"github.com/signalpath/sipcore/internal/ioutil"
	"github.com/signalpath/sipcore/internal/util"
)

// Event represents the Event header field.
// The Event header field indicates the event package a SUBSCRIBE request is
// subscribing to, or the event package a NOTIFY request carries state for.
type Event struct {
	Type   string
	Params Values
}

// CanonicName returns the canonical name of the header.
func (*Event) CanonicName() Name { return "Event" }

// CompactName returns the compact name of the header.
func (*Event) CompactName() Name { return "o" }

// RenderTo writes the header to the provided writer.
func (hdr *Event) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
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

func (hdr *Event) renderValueTo(w io.Writer) (num int, err error) {
	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Fprint(hdr.Type)
	cw.Call(func(w io.Writer) (int, error) {
		return errtrace.Wrap2(renderHdrParams(w, hdr.Params, false))
	})
	return errtrace.Wrap2(cw.Result())
}

// Render returns the string representation of the header.
func (hdr *Event) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderHdrString(hdr, opts)
}

// String returns the string representation of the header value.
func (hdr *Event) String() string { return hdr.RenderValue() }

// RenderValue returns the header value without the name prefix.
func (hdr *Event) RenderValue() string {
	if hdr == nil {
		return ""
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	hdr.renderValueTo(sb) //nolint:errcheck
	return sb.String()
}

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr *Event) Format(f fmt.State, verb rune) {
	type hideMethods Event
	type Event hideMethods
	formatHdr(f, verb, hdr, (*Event)(hdr))
}

// Clone returns a copy of the header.
func (hdr *Event) Clone() Header {
	if hdr == nil {
		return nil
	}
	hdr2 := *hdr
	hdr2.Params = hdr.Params.Clone()
	return &hdr2
}

// Equal compares this header with another for equality.
// Event types are compared case-insensitively and the "id" parameter,
// when present, must match in both headers.
func (hdr *Event) Equal(val any) bool {
	return compareHdrPtr(hdr, val, func(h1, h2 *Event) bool {
		return util.EqFold(h1.Type, h2.Type) &&
			compareHdrParams(h1.Params, h2.Params, map[string]bool{"id": true})
	})
}

// IsValid checks whether the header is syntactically valid.
func (hdr *Event) IsValid() bool {
	return hdr != nil && util.IsToken(hdr.Type) && validateHdrParams(hdr.Params)
}

// ID returns the "id" parameter distinguishing multiple subscriptions
// to the same event package within a dialog.
func (hdr *Event) ID() (string, bool) {
	if hdr == nil {
		return "", false
	}
	return hdr.Params.Last("id")
}

func (hdr *Event) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

var zeroEvent Event

func (hdr *Event) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[*Event](data)
	if err != nil {
		*hdr = zeroEvent
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = *h
	return nil
}

func parseEvent(s string) (*Event, error) {
	etype, params := cutHdrParams(s)
	if etype == "" {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("empty event type"))
	}
	return &Event{Type: etype, Params: params}, nil
}
