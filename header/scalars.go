package header

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/internal/errorutil"
	"github.com/signalpath/sipcore/internal/util"
)

// MaxForwards represents the Max-Forwards header field.
// The Max-Forwards header field limits the number of proxies or gateways that can forward the request.
type MaxForwards uint8

// CanonicName returns the canonical name of the header.
func (MaxForwards) CanonicName() Name { return "Max-Forwards" }

// CompactName returns the compact name of the header (Max-Forwards has no compact form).
func (MaxForwards) CompactName() Name { return "Max-Forwards" }

// RenderTo writes the header to the provided writer.
func (hdr MaxForwards) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

// Render returns the string representation of the header.
func (hdr MaxForwards) Render(opts *RenderOptions) string { return renderHdrString(hdr, opts) }

// RenderValue returns the header value without the name prefix.
func (hdr MaxForwards) RenderValue() string { return strconv.FormatUint(uint64(hdr), 10) }

func (hdr MaxForwards) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr MaxForwards) Format(f fmt.State, verb rune) {
	type hideMethods MaxForwards
	type MaxForwards hideMethods
	formatHdr(f, verb, hdr, MaxForwards(hdr))
}

// Clone returns a copy of the header.
func (hdr MaxForwards) Clone() Header { return hdr }

// Equal compares this header with another for equality.
func (hdr MaxForwards) Equal(val any) bool {
	return compareHdrVal(hdr, val, func(h1, h2 MaxForwards) bool { return h1 == h2 })
}

// IsValid checks whether the header is syntactically valid.
func (MaxForwards) IsValid() bool { return true }

func (hdr MaxForwards) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

func (hdr *MaxForwards) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[MaxForwards](data)
	if err != nil {
		*hdr = 0
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = h
	return nil
}

func parseMaxForwards(s string) (MaxForwards, error) {
	v, err := strconv.ParseUint(util.TrimSP(s), 10, 8)
	if err != nil {
		return 0, errtrace.Wrap(errorutil.NewInvalidArgumentError(err, "malformed max-forwards"))
	}
	return MaxForwards(v), nil
}

// Expires represents the Expires header field.
// The Expires header field gives the relative time after which the message or content expires,
// in seconds.
type Expires uint32

// CanonicName returns the canonical name of the header.
func (Expires) CanonicName() Name { return "Expires" }

// CompactName returns the compact name of the header (Expires has no compact form).
func (Expires) CompactName() Name { return "Expires" }

// RenderTo writes the header to the provided writer.
func (hdr Expires) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

// Render returns the string representation of the header.
func (hdr Expires) Render(opts *RenderOptions) string { return renderHdrString(hdr, opts) }

// RenderValue returns the header value without the name prefix.
func (hdr Expires) RenderValue() string { return strconv.FormatUint(uint64(hdr), 10) }

func (hdr Expires) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr Expires) Format(f fmt.State, verb rune) {
	type hideMethods Expires
	type Expires hideMethods
	formatHdr(f, verb, hdr, Expires(hdr))
}

// Clone returns a copy of the header.
func (hdr Expires) Clone() Header { return hdr }

// Equal compares this header with another for equality.
func (hdr Expires) Equal(val any) bool {
	return compareHdrVal(hdr, val, func(h1, h2 Expires) bool { return h1 == h2 })
}

// IsValid checks whether the header is syntactically valid.
func (Expires) IsValid() bool { return true }

// Duration returns the expiration interval as a time.Duration.
func (hdr Expires) Duration() time.Duration { return time.Duration(hdr) * time.Second }

func (hdr Expires) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

func (hdr *Expires) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[Expires](data)
	if err != nil {
		*hdr = 0
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = h
	return nil
}

func parseExpires(s string) (Expires, error) {
	v, err := strconv.ParseUint(util.TrimSP(s), 10, 32)
	if err != nil {
		return 0, errtrace.Wrap(errorutil.NewInvalidArgumentError(err, "malformed expires"))
	}
	return Expires(v), nil
}

// MinExpires represents the Min-Expires header field.
// The Min-Expires header field conveys the minimum refresh interval supported
// for soft-state elements managed by the server.
type MinExpires uint32

// CanonicName returns the canonical name of the header.
func (MinExpires) CanonicName() Name { return "Min-Expires" }

// CompactName returns the compact name of the header (Min-Expires has no compact form).
func (MinExpires) CompactName() Name { return "Min-Expires" }

// RenderTo writes the header to the provided writer.
func (hdr MinExpires) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

// Render returns the string representation of the header.
func (hdr MinExpires) Render(opts *RenderOptions) string { return renderHdrString(hdr, opts) }

// RenderValue returns the header value without the name prefix.
func (hdr MinExpires) RenderValue() string { return strconv.FormatUint(uint64(hdr), 10) }

func (hdr MinExpires) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr MinExpires) Format(f fmt.State, verb rune) {
	type hideMethods MinExpires
	type MinExpires hideMethods
	formatHdr(f, verb, hdr, MinExpires(hdr))
}

// Clone returns a copy of the header.
func (hdr MinExpires) Clone() Header { return hdr }

// Equal compares this header with another for equality.
func (hdr MinExpires) Equal(val any) bool {
	return compareHdrVal(hdr, val, func(h1, h2 MinExpires) bool { return h1 == h2 })
}

// IsValid checks whether the header is syntactically valid.
func (MinExpires) IsValid() bool { return true }

// Duration returns the minimum refresh interval as a time.Duration.
func (hdr MinExpires) Duration() time.Duration { return time.Duration(hdr) * time.Second }

func (hdr MinExpires) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

func (hdr *MinExpires) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[MinExpires](data)
	if err != nil {
		*hdr = 0
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = h
	return nil
}

func parseMinExpires(s string) (MinExpires, error) {
	v, err := strconv.ParseUint(util.TrimSP(s), 10, 32)
	if err != nil {
		return 0, errtrace.Wrap(errorutil.NewInvalidArgumentError(err, "malformed min-expires"))
	}
	return MinExpires(v), nil
}

// RetryAfter represents the Retry-After header field.
// The Retry-After header field indicates how long the service is expected to be
// unavailable, in seconds.
type RetryAfter uint32

// CanonicName returns the canonical name of the header.
func (RetryAfter) CanonicName() Name { return "Retry-After" }

// CompactName returns the compact name of the header (Retry-After has no compact form).
func (RetryAfter) CompactName() Name { return "Retry-After" }

// RenderTo writes the header to the provided writer.
func (hdr RetryAfter) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

// Render returns the string representation of the header.
func (hdr RetryAfter) Render(opts *RenderOptions) string { return renderHdrString(hdr, opts) }

// RenderValue returns the header value without the name prefix.
func (hdr RetryAfter) RenderValue() string { return strconv.FormatUint(uint64(hdr), 10) }

func (hdr RetryAfter) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr RetryAfter) Format(f fmt.State, verb rune) {
	type hideMethods RetryAfter
	type RetryAfter hideMethods
	formatHdr(f, verb, hdr, RetryAfter(hdr))
}

// Clone returns a copy of the header.
func (hdr RetryAfter) Clone() Header { return hdr }

// Equal compares this header with another for equality.
func (hdr RetryAfter) Equal(val any) bool {
	return compareHdrVal(hdr, val, func(h1, h2 RetryAfter) bool { return h1 == h2 })
}

// IsValid checks whether the header is syntactically valid.
func (RetryAfter) IsValid() bool { return true }

// Duration returns the retry interval as a time.Duration.
func (hdr RetryAfter) Duration() time.Duration { return time.Duration(hdr) * time.Second }

func (hdr RetryAfter) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

func (hdr *RetryAfter) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[RetryAfter](data)
	if err != nil {
		*hdr = 0
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = h
	return nil
}

func parseRetryAfter(s string) (RetryAfter, error) {
	// An optional comment and parameters are ignored, only the leading delta-seconds matter here.
	head, _ := cutHdrParams(s)
	if i := strings.IndexByte(head, '('); i >= 0 {
		head = head[:i]
	}
	v, err := strconv.ParseUint(util.TrimSP(head), 10, 32)
	if err != nil {
		return 0, errtrace.Wrap(errorutil.NewInvalidArgumentError(err, "malformed retry-after"))
	}
	return RetryAfter(v), nil
}

// ContentLength represents the Content-Length header field.
// The Content-Length header field indicates the size of the message body in bytes.
type ContentLength uint32

// CanonicName returns the canonical name of the header.
func (ContentLength) CanonicName() Name { return "Content-Length" }

// CompactName returns the compact name of the header.
func (ContentLength) CompactName() Name { return "l" }

// RenderTo writes the header to the provided writer.
func (hdr ContentLength) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

// Render returns the string representation of the header.
func (hdr ContentLength) Render(opts *RenderOptions) string { return renderHdrString(hdr, opts) }

// RenderValue returns the header value without the name prefix.
func (hdr ContentLength) RenderValue() string { return strconv.FormatUint(uint64(hdr), 10) }

func (hdr ContentLength) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr ContentLength) Format(f fmt.State, verb rune) {
	type hideMethods ContentLength
	type ContentLength hideMethods
	formatHdr(f, verb, hdr, ContentLength(hdr))
}

// Clone returns a copy of the header.
func (hdr ContentLength) Clone() Header { return hdr }

// Equal compares this header with another for equality.
func (hdr ContentLength) Equal(val any) bool {
	return compareHdrVal(hdr, val, func(h1, h2 ContentLength) bool { return h1 == h2 })
}

// IsValid checks whether the header is syntactically valid.
func (ContentLength) IsValid() bool { return true }

func (hdr ContentLength) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

func (hdr *ContentLength) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[ContentLength](data)
	if err != nil {
		*hdr = 0
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = h
	return nil
}

func parseContentLength(s string) (ContentLength, error) {
	v, err := strconv.ParseUint(util.TrimSP(s), 10, 32)
	if err != nil {
		return 0, errtrace.Wrap(errorutil.NewInvalidArgumentError(err, "malformed content-length"))
	}
	return ContentLength(v), nil
}
