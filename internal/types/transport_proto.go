package types

import "github.com/signalpath/sipcore/internal/util"

const (
	TransportProtoUDP TransportProto = "UDP"
	TransportProtoTCP TransportProto = "TCP"
	TransportProtoTLS TransportProto = "TLS"
	TransportProtoWS  TransportProto = "WS"
	TransportProtoWSS TransportProto = "WSS"
)

type TransportProto string

func (p TransportProto) ToUpper() TransportProto { return util.UCase(p) }

func (p TransportProto) ToLower() TransportProto { return util.LCase(p) }

func (p TransportProto) IsValid() bool { return util.IsToken(p) }

// IsReliable reports whether the transport guarantees delivery.
// UDP is the only unreliable transport here, unknown protocols are
// treated as reliable.
func (p TransportProto) IsReliable() bool { return !util.EqFold(p, TransportProtoUDP) }

func (p TransportProto) Equal(val any) bool {
	var other TransportProto
	switch v := val.(type) {
	case TransportProto:
		other = v
	case *TransportProto:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return util.EqFold(p, other)
}
