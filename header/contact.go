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

// Contact represents the Contact header field.
// The Contact header field provides a URI whose meaning depends on
// the type of request or response it is in.
type Contact []NameAddr

// CanonicName returns the canonical name of the header.
func (Contact) CanonicName() Name { return "Contact" }

// CompactName returns the compact name of the header.
func (Contact) CompactName() Name { return "m" }

// RenderTo writes the header to the provided writer.
func (hdr Contact) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
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

func (hdr Contact) renderValueTo(w io.Writer) (num int, err error) {
	return errtrace.Wrap2(renderHdrEntries(w, hdr))
}

// Render returns the string representation of the header.
func (hdr Contact) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderHdrString(hdr, opts)
}

// RenderValue returns the header value without the name prefix.
func (hdr Contact) RenderValue() string {
	if hdr == nil {
		return ""
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	hdr.renderValueTo(sb) //nolint:errcheck
	return sb.String()
}

// String returns the string representation of the header value.
func (hdr Contact) String() string { return hdr.RenderValue() }

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr Contact) Format(f fmt.State, verb rune) {
	type hideMethods Contact
	type Contact hideMethods
	formatHdr(f, verb, hdr, Contact(hdr))
}

// Clone returns a copy of the header.
func (hdr Contact) Clone() Header { return cloneHdrEntries(hdr) }

// Equal compares this header with another for equality.
func (hdr Contact) Equal(val any) bool {
	return compareHdrVal(hdr, val, func(h1, h2 Contact) bool {
		return slices.EqualFunc(h1, h2, func(addr1, addr2 NameAddr) bool { return addr1.Equal(addr2) })
	})
}

// IsValid checks whether the header is syntactically valid.
func (hdr Contact) IsValid() bool {
	return len(hdr) > 0 && !slices.ContainsFunc(hdr, func(addr NameAddr) bool { return !addr.IsValid() })
}

func (hdr Contact) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

func (hdr *Contact) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[Contact](data)
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

func parseContact(s string) (Contact, error) {
	entries := splitHdrEntries(s)
	hdr := make(Contact, 0, len(entries))
	for _, entry := range entries {
		addr, err := parseNameAddr(entry)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		hdr = append(hdr, addr)
	}
	return hdr, nil
}
