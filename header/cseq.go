package header

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/internal/errorutil"
	"github.com/signalpath/sipcore/internal/ioutil"
	"github.com/signalpath/sipcore/internal/util"
)

// MaxCSeqNum is the largest sequence number allowed by RFC 3261,
// a 32-bit unsigned integer less than 2**31.
const MaxCSeqNum = 1<<31 - 1

// CSeq represents the CSeq header field.
// The CSeq header field serves as a way to identify and order transactions.
type CSeq struct {
	SeqNum uint32
	Method RequestMethod
}

// CanonicName returns the canonical name of the header.
func (*CSeq) CanonicName() Name { return "CSeq" }

// CompactName returns the compact name of the header (CSeq has no compact form).
func (*CSeq) CompactName() Name { return "CSeq" }

// RenderTo writes the header to the provided writer.
func (hdr *CSeq) RenderTo(w io.Writer, _ *RenderOptions) (num int, err error) {
	if hdr == nil {
		return 0, nil
	}

	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Fprint(hdr.CanonicName(), ": ")
	cw.Call(hdr.renderValueTo)
	return errtrace.Wrap2(cw.Result())
}

func (hdr *CSeq) renderValueTo(w io.Writer) (num int, err error) {
	return errtrace.Wrap2(fmt.Fprint(w, hdr.SeqNum, " ", hdr.Method))
}

// Render returns the string representation of the header.
func (hdr *CSeq) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderHdrString(hdr, opts)
}

// String returns the string representation of the header value.
func (hdr *CSeq) String() string { return hdr.RenderValue() }

// RenderValue returns the header value without the name prefix.
func (hdr *CSeq) RenderValue() string {
	if hdr == nil {
		return ""
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	hdr.renderValueTo(sb) //nolint:errcheck
	return sb.String()
}

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr *CSeq) Format(f fmt.State, verb rune) {
	type hideMethods CSeq
	type CSeq hideMethods
	formatHdr(f, verb, hdr, (*CSeq)(hdr))
}

// Clone returns a copy of the header.
func (hdr *CSeq) Clone() Header {
	if hdr == nil {
		return nil
	}
	hdr2 := *hdr
	return &hdr2
}

// Equal compares this header with another for equality.
func (hdr *CSeq) Equal(val any) bool {
	return compareHdrPtr(hdr, val, func(h1, h2 *CSeq) bool {
		return h1.SeqNum == h2.SeqNum && h1.Method.Equal(h2.Method)
	})
}

// IsValid checks whether the header is syntactically valid.
func (hdr *CSeq) IsValid() bool {
	return hdr != nil && hdr.SeqNum > 0 && hdr.SeqNum <= MaxCSeqNum && hdr.Method.IsValid()
}

func (hdr *CSeq) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

var zeroCSeq CSeq

func (hdr *CSeq) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[*CSeq](data)
	if err != nil {
		*hdr = zeroCSeq
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = *h
	return nil
}

func parseCSeq(s string) (*CSeq, error) {
	num, method, found := strings.Cut(s, " ")
	if !found {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("malformed cseq", s))
	}

	seq, err := strconv.ParseUint(util.TrimSP(num), 10, 32)
	if err != nil {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError(err, "malformed cseq number"))
	}

	return &CSeq{
		SeqNum: uint32(seq),
		Method: RequestMethod(util.UCase(util.TrimSP(method))),
	}, nil
}
