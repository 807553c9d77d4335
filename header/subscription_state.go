package header

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/internal/errorutil"
	"github.com/signalpath/sipcore/internal/ioutil"
	"github.com/signalpath/sipcore/internal/util"
)

// Subscription states carried in the Subscription-State header.
const (
	SubStateActive     = "active"
	SubStatePending    = "pending"
	SubStateTerminated = "terminated"
)

// Termination reasons defined by RFC 6665 for the "reason" parameter.
const (
	SubReasonDeactivated = "deactivated"
	SubReasonProbation   = "probation"
	SubReasonRejected    = "rejected"
	SubReasonTimeout     = "timeout"
	SubReasonGiveup      = "giveup"
	SubReasonNoResource  = "noresource"
	SubReasonInvariant   = "invariant"
)

// SubscriptionState represents the Subscription-State header field.
// The Subscription-State header field conveys the state of a subscription
// in a NOTIFY request.
type SubscriptionState struct {
	State  string
	Params Values
}

// CanonicName returns the canonical name of the header.
func (*SubscriptionState) CanonicName() Name { return "Subscription-State" }

// CompactName returns the compact name of the header (Subscription-State has no compact form).
func (*SubscriptionState) CompactName() Name { return "Subscription-State" }

// RenderTo writes the header to the provided writer.
func (hdr *SubscriptionState) RenderTo(w io.Writer, _ *RenderOptions) (num int, err error) {
	if hdr == nil {
		return 0, nil
	}

	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Fprint(hdr.CanonicName(), ": ")
	cw.Call(hdr.renderValueTo)
	return errtrace.Wrap2(cw.Result())
}

func (hdr *SubscriptionState) renderValueTo(w io.Writer) (num int, err error) {
	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Fprint(hdr.State)
	cw.Call(func(w io.Writer) (int, error) {
		return errtrace.Wrap2(renderHdrParams(w, hdr.Params, false))
	})
	return errtrace.Wrap2(cw.Result())
}

// Render returns the string representation of the header.
func (hdr *SubscriptionState) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderHdrString(hdr, opts)
}

// String returns the string representation of the header value.
func (hdr *SubscriptionState) String() string { return hdr.RenderValue() }

// RenderValue returns the header value without the name prefix.
func (hdr *SubscriptionState) RenderValue() string {
	if hdr == nil {
		return ""
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	hdr.renderValueTo(sb) //nolint:errcheck
	return sb.String()
}

// Format implements fmt.Formatter for custom formatting of the header.
func (hdr *SubscriptionState) Format(f fmt.State, verb rune) {
	type hideMethods SubscriptionState
	type SubscriptionState hideMethods
	formatHdr(f, verb, hdr, (*SubscriptionState)(hdr))
}

// Clone returns a copy of the header.
func (hdr *SubscriptionState) Clone() Header {
	if hdr == nil {
		return nil
	}
	hdr2 := *hdr
	hdr2.Params = hdr.Params.Clone()
	return &hdr2
}

// Equal compares this header with another for equality.
func (hdr *SubscriptionState) Equal(val any) bool {
	return compareHdrPtr(hdr, val, func(h1, h2 *SubscriptionState) bool {
		return util.EqFold(h1.State, h2.State) &&
			compareHdrParams(h1.Params, h2.Params, map[string]bool{
				"reason":      true,
				"expires":     true,
				"retry-after": true,
			})
	})
}

// IsValid checks whether the header is syntactically valid.
func (hdr *SubscriptionState) IsValid() bool {
	return hdr != nil && util.IsToken(hdr.State) && validateHdrParams(hdr.Params)
}

// IsActive reports whether the subscription is in the "active" state.
func (hdr *SubscriptionState) IsActive() bool {
	return hdr != nil && util.EqFold(hdr.State, SubStateActive)
}

// IsPending reports whether the subscription is in the "pending" state.
func (hdr *SubscriptionState) IsPending() bool {
	return hdr != nil && util.EqFold(hdr.State, SubStatePending)
}

// IsTerminated reports whether the subscription is in the "terminated" state.
func (hdr *SubscriptionState) IsTerminated() bool {
	return hdr != nil && util.EqFold(hdr.State, SubStateTerminated)
}

// Reason returns the "reason" parameter of a terminated subscription.
func (hdr *SubscriptionState) Reason() (string, bool) {
	if hdr == nil {
		return "", false
	}
	return hdr.Params.Last("reason")
}

// Expires returns the remaining lifetime of the subscription.
func (hdr *SubscriptionState) Expires() (time.Duration, bool) {
	if hdr == nil {
		return 0, false
	}
	v, ok := hdr.Params.Last("expires")
	if !ok {
		return 0, false
	}
	sec, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return time.Duration(sec) * time.Second, true
}

// RetryAfter returns the "retry-after" parameter of a terminated subscription.
func (hdr *SubscriptionState) RetryAfter() (time.Duration, bool) {
	if hdr == nil {
		return 0, false
	}
	v, ok := hdr.Params.Last("retry-after")
	if !ok {
		return 0, false
	}
	sec, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return time.Duration(sec) * time.Second, true
}

func (hdr *SubscriptionState) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(ToJSON(hdr))
}

var zeroSubscriptionState SubscriptionState

func (hdr *SubscriptionState) UnmarshalJSON(data []byte) error {
	h, err := hdrFromJSON[*SubscriptionState](data)
	if err != nil {
		*hdr = zeroSubscriptionState
		if errors.Is(err, errNotHeaderJSON) {
			return nil
		}
		return errtrace.Wrap(err)
	}

	*hdr = *h
	return nil
}

func parseSubscriptionState(s string) (*SubscriptionState, error) {
	state, params := cutHdrParams(s)
	if state == "" {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("empty subscription state"))
	}
	return &SubscriptionState{State: util.LCase(state), Params: params}, nil
}
