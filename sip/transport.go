package sip

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/netip"
	"strconv"
	"time"

	"github.com/signalpath/sipcore/header"
	"github.com/signalpath/sipcore/internal/log"
	"github.com/signalpath/sipcore/internal/types"
	"github.com/signalpath/sipcore/internal/util"
)

// msgSendTimeout is the default timeout for sending a message.
const msgSendTimeout = time.Minute

var zeroAddrPort netip.AddrPort

// ClientTransport represents a client transport.
// It is used to send requests and receive responses.
type ClientTransport interface {
	// SendRequest sends a request to the remote address.
	SendRequest(ctx context.Context, req *OutboundRequest, opts *SendRequestOptions) error
	// OnResponse registers a response callback.
	OnResponse(fn TransportResponseHandler) (cancel func())
}

// SendRequestOptions are options for sending a request.
type SendRequestOptions struct {
	// Timeout is the timeout for the request sending process.
	// If zero, the default timeout 1m is used.
	Timeout time.Duration `json:"timeout,omitempty"`
	// RenderCompact is the flag that indicates whether the message should be rendered in compact form.
	// See [RenderOptions] for more details.
	RenderCompact bool `json:"render_compact,omitempty"`
}

func (o *SendRequestOptions) timeout() time.Duration {
	if o == nil || o.Timeout == 0 {
		return msgSendTimeout
	}
	return o.Timeout
}

func (o *SendRequestOptions) rendOpts() *RenderOptions {
	if o == nil {
		return nil
	}
	return &RenderOptions{
		Compact: o.RenderCompact,
	}
}

func cloneSendReqOpts(opts *SendRequestOptions) *SendRequestOptions {
	if opts == nil {
		return nil
	}
	newOpts := *opts
	return &newOpts
}

type TransportResponseHandler = func(ctx context.Context, tp ClientTransport, res *InboundResponse)

const clnTranspCtxKey types.ContextKey = "client_transport"

// ClientTransportFromContext returns the [ClientTransport] from the given context.
func ClientTransportFromContext(ctx context.Context) (ClientTransport, bool) {
	tp, ok := ctx.Value(clnTranspCtxKey).(ClientTransport)
	return tp, ok
}

// ServerTransport represents a server transport.
// It is used to receive requests and send responses.
type ServerTransport interface {
	// SendResponse sends a response to a remote address resolved with steps
	// defined in RFC 3261 Section 18.2.2.
	SendResponse(ctx context.Context, res *OutboundResponse, opts *SendResponseOptions) error
	// OnRequest registers a request callback.
	OnRequest(fn TransportRequestHandler) (cancel func())
}

// SendResponseOptions are options for sending a response.
type SendResponseOptions struct {
	// Timeout is the timeout for the response sending process.
	// If zero, the default timeout 1m is used.
	Timeout time.Duration `json:"timeout,omitempty"`
	// RenderCompact is the flag that indicates whether the message should be rendered in compact form.
	// See [RenderOptions] for more details.
	RenderCompact bool `json:"render_compact,omitempty"`
}

func (o *SendResponseOptions) timeout() time.Duration {
	if o == nil || o.Timeout == 0 {
		return msgSendTimeout
	}
	return o.Timeout
}

func (o *SendResponseOptions) rendOpts() *RenderOptions {
	if o == nil {
		return nil
	}
	return &RenderOptions{
		Compact: o.RenderCompact,
	}
}

func cloneSendResOpts(opts *SendResponseOptions) *SendResponseOptions {
	if opts == nil {
		return nil
	}
	newOpts := *opts
	return &newOpts
}

type TransportRequestHandler = func(ctx context.Context, tp ServerTransport, req *InboundRequest)

const srvTranspCtxKey types.ContextKey = "server_transport"

// ServerTransportFromContext returns the [ServerTransport] from the given context.
func ServerTransportFromContext(ctx context.Context) (ServerTransport, bool) {
	tp, ok := ctx.Value(srvTranspCtxKey).(ServerTransport)
	return tp, ok
}

// Transport represents a combination of client and server transports.
type Transport interface {
	ClientTransport
	ServerTransport
	// Serve starts the transport read loop and blocks until the transport is closed.
	Serve() error
	// Close closes the transport.
	Close() error
}

func GetTransportProto(tp any) (TransportProto, bool) {
	if v, ok := tp.(interface{ Proto() TransportProto }); ok {
		return v.Proto(), true
	}
	return "", false
}

func GetTransportNetwork(tp any) (string, bool) {
	if v, ok := tp.(interface{ Network() string }); ok {
		return v.Network(), true
	}
	return "", false
}

func GetTransportLocalAddr(tp any) (netip.AddrPort, bool) {
	if v, ok := tp.(interface{ LocalAddr() netip.AddrPort }); ok {
		return v.LocalAddr(), true
	}
	return zeroAddrPort, false
}

func IsReliableTransport(tp any) bool {
	if v, ok := tp.(interface{ Reliable() bool }); ok {
		return v.Reliable()
	}
	return false
}

func IsSecuredTransport(tp any) bool {
	if v, ok := tp.(interface{ Secured() bool }); ok {
		return v.Secured()
	}
	return false
}

func IsStreamedTransport(tp any) bool {
	if v, ok := tp.(interface{ Streamed() bool }); ok {
		return v.Streamed()
	}
	return false
}

func GetTransportDefaultPort(tp any) (uint16, bool) {
	if v, ok := tp.(interface{ DefaultPort() uint16 }); ok {
		return v.DefaultPort(), true
	}
	return 0, false
}

func respondStateless(ctx context.Context, tp ServerTransport, req *InboundRequest, sts ResponseStatus) {
	logger := log.LoggerFromValues(ctx, tp)
	if tp == nil {
		logger.LogAttrs(ctx, slog.LevelError, "silently discard inbound request due to missing transport",
			slog.Any("request", req),
		)
		return
	}
	if req.Method().Equal(RequestMethodAck) {
		logger.LogAttrs(ctx, slog.LevelDebug, "silently discard inbound ACK request", slog.Any("request", req))
		return
	}

	var hdrs Headers
	if sts == ResponseStatusServerInternalError || sts == ResponseStatusServiceUnavailable {
		hdrs = make(Headers).Set(header.RetryAfter(60))
	}
	res, err := req.NewResponse(sts, &ResponseOptions{
		Headers:  hdrs,
		LocalTag: stableStatelessToTag(req),
	})
	if err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "failed to build response on inbound request",
			slog.Any("request", req),
			slog.Any("error", err),
		)
		return
	}

	if err := tp.SendResponse(ctx, res, nil); err != nil {
		if errors.Is(err, ErrInvalidMessage) {
			logger.LogAttrs(ctx, slog.LevelDebug, "silently discard inbound request due to invalid response",
				slog.Any("request", req),
				slog.Any("response", res),
				slog.Any("error", err),
			)
			return
		}

		logger.LogAttrs(ctx, slog.LevelError, "failed to respond on inbound request",
			slog.Any("request", req),
			slog.Any("response", res),
			slog.Any("error", err),
		)
		return
	}
}

// stableStatelessToTag derives a To tag from the request so that retransmissions
// of the same request get the same tag in stateless responses.
func stableStatelessToTag(req *InboundRequest) string {
	if req == nil {
		return ""
	}

	hdrs := req.Headers()
	if hdrs == nil {
		return ""
	}

	var reqURI string
	if uri := req.URI(); uri != nil {
		reqURI = util.LCase(uri.Render(nil))
	}

	var topVia string
	if via, ok := hdrs.FirstVia(); ok && via != nil {
		topVia = util.LCase(via.String())
	}

	callID, _ := hdrs.CallID()

	var fromTag string
	if from, ok := hdrs.From(); ok && from != nil {
		if t, ok := from.Tag(); ok {
			fromTag = t
		}
	}

	var cseqNum uint32
	var cseqMethod RequestMethod
	if cseq, ok := hdrs.CSeq(); ok && cseq != nil {
		cseqNum = cseq.SeqNum
		cseqMethod = util.UCase(cseq.Method)
	}

	key := make([]byte, 0, 96)
	key = append(key, "uri="...)
	key = append(key, reqURI...)
	key = append(key, "|via="...)
	key = append(key, topVia...)
	key = append(key, "|callid="...)
	key = append(key, callID...)
	key = append(key, "|fromtag="...)
	key = append(key, fromTag...)
	key = append(key, "|cseq="...)
	key = strconv.AppendUint(key, uint64(cseqNum), 10)
	key = append(key, "|cseqm="...)
	key = append(key, cseqMethod...)

	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}
