package header

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/internal/util"
)

// ContentType represents the Content-Type header field.
// The Content-Type header field indicates the media type of the message body,
// for example "application/sdp".
type ContentType string

// CanonicName returns the canonical name of the header.
func (ContentType) CanonicName() Name { return "Content-Type" }

// CompactName returns the compact name of the header.
func (ContentType) CompactName() Name { return "c" }

// RenderTo writes the header to the provided writer.
func (hdr ContentType) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

// Render returns the string representation of the header.
func (hdr ContentType) Render(opts *RenderOptions) string { return renderHdrString(hdr, opts) }

// RenderValue returns the header value without the name prefix.
func (hdr ContentType) RenderValue() string { return string(hdr) }

// String returns the string representation of the header value.
func (hdr ContentType) String() string { return string(hdr) }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr ContentType) Format(f fmt.State, verb rune) {
	type hideMethods ContentType
	type ContentType hideMethods
	formatHdr(f, verb, hdr, ContentType(hdr))
}

// Clone returns a copy of the header.
func (hdr ContentType) Clone() Header { return hdr }

// Equal compares this header with another for equality.
func (hdr ContentType) Equal(val any) bool {
	return compareHdrVal(hdr, val, func(h1, h2 ContentType) bool { return util.EqFold(h1, h2) })
}

// IsValid checks whether the header is syntactically valid.
func (hdr ContentType) IsValid() bool {
	t, sub, ok := strings.Cut(string(hdr), "/")
	sub, _, _ = strings.Cut(sub, ";")
	return ok && util.IsToken(t) && util.IsToken(util.TrimSP(sub))
}

// Type returns the media type part, e.g. "application" for "application/sdp".
func (hdr ContentType) Type() string {
	t, _, _ := strings.Cut(string(hdr), "/")
	return t
}

// SubType returns the media subtype part, e.g. "sdp" for "application/sdp".
func (hdr ContentType) SubType() string {
	_, sub, _ := strings.Cut(string(hdr), "/")
	sub, _, _ = strings.Cut(sub, ";")
	return util.TrimSP(sub)
}

func (hdr ContentType) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

func (hdr *ContentType) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[ContentType](data)
	if err != nil {
		*hdr = ""
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = h
	return nil
}
