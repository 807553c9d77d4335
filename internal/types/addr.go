package types

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/internal/errorutil"
	"github.com/signalpath/sipcore/internal/util"
)

// Addr is a container for host and optional port.
type Addr struct {
	host    string
	ip      netip.Addr
	port    uint16
	hasPort bool
}

// Host returns an [Addr] containing the provided host and no port.
func Host(host string) Addr {
	host = strings.Trim(host, "[]")
	ip, _ := netip.ParseAddr(host)
	return Addr{
		host: host,
		ip:   ip.Unmap(),
	}
}

// HostPort returns an [Addr] containing the provided host and port.
func HostPort(host string, port uint16) Addr {
	addr := Host(host)
	addr.port = port
	addr.hasPort = true
	return addr
}

// ParseAddr parses a "host[:port]" string into an [Addr].
func ParseAddr[T ~string | ~[]byte](s T) (Addr, error) {
	str := string(s)
	if str == "" {
		return Addr{}, errtrace.Wrap(errorutil.NewInvalidArgumentError("empty address"))
	}

	host, portStr, err := net.SplitHostPort(str)
	if err != nil {
		// no port part
		return Host(str), nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Addr{}, errtrace.Wrap(errorutil.NewInvalidArgumentError("malformed port in %q", str))
	}
	return HostPort(host, uint16(port)), nil
}

// Host returns the hostname portion of the address.
func (addr Addr) Host() string { return addr.host }

// IP returns the parsed IP representation when the host is an IP literal,
// otherwise the zero [netip.Addr].
func (addr Addr) IP() netip.Addr { return addr.ip }

// Port returns the port and a flag indicating whether it is set.
func (addr Addr) Port() (uint16, bool) { return addr.port, addr.hasPort }

// String formats the address as host[:port], adding brackets for IPv6 literals when required.
func (addr Addr) String() string {
	host := addr.host
	if addr.ip.IsValid() {
		host = addr.ip.String()
	}
	if !addr.hasPort {
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(int(addr.port)))
}

func (addr Addr) Format(f fmt.State, verb rune) {
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

		type hideMethods Addr
		type Addr hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), Addr(addr))
		return
	}
}

// Clone returns a copy of the address.
func (addr Addr) Clone() Addr { return addr }

// Equal reports whether the address equals the provided value, accepting Addr and *Addr.
func (addr Addr) Equal(val any) bool {
	var other Addr
	switch v := val.(type) {
	case Addr:
		other = v
	case *Addr:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}

	var hostMatch bool
	switch {
	case !addr.ip.IsValid() && !other.ip.IsValid():
		hostMatch = util.EqFold(addr.host, other.host)
	case addr.ip.IsValid() && other.ip.IsValid():
		hostMatch = addr.ip == other.ip
	default:
		return false
	}

	return hostMatch && addr.port == other.port && addr.hasPort == other.hasPort
}

// IsValid reports whether the address contains a syntactically valid host component.
func (addr Addr) IsValid() bool { return util.IsHost(addr.host) }

// IsZero reports whether the address has zero host, IP and port information.
func (addr Addr) IsZero() bool { return addr.host == "" && !addr.ip.IsValid() && !addr.hasPort }

// MarshalText encodes the address into its textual representation.
func (addr Addr) MarshalText() (text []byte, err error) {
	return []byte(addr.String()), nil
}

// UnmarshalText parses a textual representation of an address into the receiver.
func (addr *Addr) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*addr = Addr{}
		return nil
	}
	var err error
	*addr, err = ParseAddr(text)
	return errtrace.Wrap(err)
}
