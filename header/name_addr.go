package header

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/internal/errorutil"
	"github.com/signalpath/sipcore/internal/types"
	"github.com/signalpath/sipcore/internal/util"
	"github.com/signalpath/sipcore/uri"
)

// NameAddr represents a single element in From, To, Contact, Route headers.
// It contains a display name, URI, and parameters.
type NameAddr struct {
	DisplayName string
	URI         uri.URI
	Params      Values
}

// String returns the string representation of the NameAddr.
func (addr NameAddr) String() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	if addr.DisplayName != "" {
		fmt.Fprint(sb, util.Quote(addr.DisplayName), " ")
	}

	fmt.Fprint(sb, "<")
	if addr.URI != nil {
		addr.URI.RenderTo(sb, nil) //nolint:errcheck
	}
	fmt.Fprint(sb, ">")

	renderHdrParams(sb, addr.Params, false) //nolint:errcheck

	return sb.String()
}

// Format implements fmt.Formatter for custom formatting of the NameAddr.
func (addr NameAddr) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		fmt.Fprint(f, addr.String())
		return
	case 'q':
		fmt.Fprint(f, strconv.Quote(addr.String()))
		return
	default:
		if !f.Flag('+') && !f.Flag('#') {
			fmt.Fprint(f, addr.String())
			return
		}

		type hideMethods NameAddr
		type NameAddr hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), NameAddr(addr))
		return
	}
}

// Equal compares this NameAddr with another for equality.
func (addr NameAddr) Equal(val any) bool {
	var other NameAddr
	switch v := val.(type) {
	case NameAddr:
		other = v
	case *NameAddr:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}

	return types.IsEqual(addr.URI, other.URI) &&
		compareHdrParams(addr.Params, other.Params, map[string]bool{
			"q":       true,
			"tag":     true,
			"expires": true,
		})
}

// IsValid checks whether the NameAddr is syntactically valid.
func (addr NameAddr) IsValid() bool {
	return types.IsValid(addr.URI) && validateHdrParams(addr.Params)
}

// IsZero checks whether the NameAddr is empty.
func (addr NameAddr) IsZero() bool {
	return addr.DisplayName == "" && addr.URI == nil && len(addr.Params) == 0
}

// Clone returns a copy of the NameAddr.
func (addr NameAddr) Clone() NameAddr {
	addr.URI = types.Clone[uri.URI](addr.URI)
	addr.Params = addr.Params.Clone()
	return addr
}

func (addr NameAddr) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

func (addr *NameAddr) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*addr = NameAddr{}
		return nil
	}

	a, err := parseNameAddr(string(data))
	if err != nil {
		*addr = NameAddr{}
		return errtrace.Wrap(err)
	}

	*addr = a
	return nil
}

func (addr NameAddr) Tag() (string, bool) {
	return addr.Params.Last("tag")
}

func (addr NameAddr) Expires() (time.Duration, bool) {
	v, ok := addr.Params.Last("expires")
	if !ok {
		return 0, false
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(sec) * time.Second, true
}

func (addr NameAddr) Q() (float64, bool) {
	v, ok := addr.Params.Last("q")
	if !ok {
		return 0, false
	}
	q, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return q, true
}

// parseNameAddr parses a name-addr or addr-spec form with optional
// trailing header parameters.
func parseNameAddr(s string) (NameAddr, error) {
	var addr NameAddr
	s = util.TrimSP(s)
	if s == "" {
		return addr, errtrace.Wrap(errorutil.NewInvalidArgumentError("empty address"))
	}

	if i := strings.IndexByte(s, '<'); i >= 0 {
		if dname := util.TrimSP(s[:i]); dname != "" {
			addr.DisplayName = util.Unquote(dname)
		}

		rest := s[i+1:]
		j := strings.IndexByte(rest, '>')
		if j < 0 {
			return NameAddr{}, errtrace.Wrap(errorutil.NewInvalidArgumentError("unclosed angle bracket", s))
		}

		u, err := uri.Parse(rest[:j])
		if err != nil {
			return NameAddr{}, errtrace.Wrap(err)
		}
		addr.URI = u
		addr.Params = parseHdrParams(strings.TrimPrefix(util.TrimSP(rest[j+1:]), ";"))
		return addr, nil
	}

	// The addr-spec form without angle brackets: everything after the first
	// semicolon belongs to the header, not to the URI. RFC 8217.
	head, params := cutHdrParams(s)
	u, err := uri.Parse(head)
	if err != nil {
		return NameAddr{}, errtrace.Wrap(err)
	}
	addr.URI = u
	addr.Params = params
	return addr, nil
}
