package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/header"
	"github.com/signalpath/sipcore/internal/log"
	"github.com/signalpath/sipcore/internal/syncutil"
	"github.com/signalpath/sipcore/internal/types"
	"github.com/signalpath/sipcore/internal/util"
)

// ServerRequestHandler handles a request dispatched by the user agent
// core. dlg is nil for out-of-dialog requests.
type ServerRequestHandler = func(ctx context.Context, dlg *Dialog, srv *UserAgentServer, req *InboundRequest)

// UserAgentDelegate routes incoming requests to the application layer.
// A nil handler causes the core to reject the request with
// 501 Not Implemented.
type UserAgentDelegate struct {
	// OnInvite handles INVITE requests.
	OnInvite ServerRequestHandler
	// OnMessage handles MESSAGE requests.
	OnMessage ServerRequestHandler
	// OnNotify handles NOTIFY requests not consumed by a pending
	// subscription.
	OnNotify ServerRequestHandler
	// OnRefer handles REFER requests.
	OnRefer ServerRequestHandler
	// OnSubscribe handles SUBSCRIBE requests.
	OnSubscribe ServerRequestHandler
	// OnRequest handles requests of any other method, and in-dialog ACK
	// requests that no transaction consumed. For ACK requests srv is nil.
	OnRequest ServerRequestHandler
}

func (d *UserAgentDelegate) handler(method RequestMethod) ServerRequestHandler {
	if d == nil {
		return nil
	}

	switch {
	case method.Equal(RequestMethodInvite):
		return d.OnInvite
	case method.Equal(RequestMethodMessage):
		return d.OnMessage
	case method.Equal(RequestMethodNotify):
		return d.OnNotify
	case method.Equal(RequestMethodRefer):
		return d.OnRefer
	case method.Equal(RequestMethodSubscribe):
		return d.OnSubscribe
	}
	return d.OnRequest
}

// UserAgentCoreOptions are the options for a [UserAgentCore].
type UserAgentCoreOptions struct {
	// TransactionManager used by the core.
	// If nil, a manager with default options is created.
	TransactionManager *TransactionManager
	// Timings is the SIP timing config used for transactions and
	// subscriptions created by the core.
	// If zero, the default SIP timing config is used.
	Timings TimingConfig
	// Credentials used to answer digest authentication challenges.
	// If zero, challenges are forwarded to the request delegate as
	// rejections.
	Credentials Credentials
	// Delegate receives incoming requests.
	Delegate *UserAgentDelegate
	// Logger is the logger.
	// If nil, the [log.Def] is used.
	Logger *slog.Logger
}

func (o *UserAgentCoreOptions) txm() *TransactionManager {
	if o == nil || o.TransactionManager == nil {
		return NewTransactionManager(nil)
	}
	return o.TransactionManager
}

func (o *UserAgentCoreOptions) timings() TimingConfig {
	if o == nil || o.Timings.IsZero() {
		return defTimingCfg
	}
	return o.Timings
}

func (o *UserAgentCoreOptions) creds() Credentials {
	if o == nil {
		return Credentials{}
	}
	return o.Credentials
}

func (o *UserAgentCoreOptions) delegate() *UserAgentDelegate {
	if o == nil {
		return nil
	}
	return o.Delegate
}

func (o *UserAgentCoreOptions) log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return log.Def
	}
	return o.Logger
}

// UserAgentCore is the transaction user layer defined in RFC 3261
// Section 8: it feeds inbound messages through the transaction manager,
// dispatches what falls out to the application delegate, tracks dialogs
// and subscriptions, and builds outgoing requests wrapped with the
// digest authentication guard.
type UserAgentCore struct {
	txm      *TransactionManager
	timings  TimingConfig
	creds    Credentials
	delegate *UserAgentDelegate
	log      *slog.Logger

	dialogs syncutil.RWMap[DialogID, *Dialog]
	subs    syncutil.RWMap[SubscriptionKey, *SubscriptionClient]
	clients syncutil.RWMap[ClientTransactionKey, *UserAgentClient]
	servers syncutil.RWMap[ServerTransactionKey, *UserAgentServer]

	reqRcv RequestReceiver
	resRcv ResponseReceiver
}

// NewUserAgentCore creates a new [UserAgentCore].
// Options are optional, if nil, default values are used (see [UserAgentCoreOptions]).
func NewUserAgentCore(opts *UserAgentCoreOptions) *UserAgentCore {
	ua := &UserAgentCore{
		txm:      opts.txm(),
		timings:  opts.timings(),
		creds:    opts.creds(),
		delegate: opts.delegate(),
		log:      opts.log(),
	}
	ua.reqRcv = ChainInboundRequest(
		[]InboundRequestInterceptor{ua.txm.InboundRequestInterceptor()},
		RequestReceiverFunc(ua.dispatchRequest),
	)
	ua.resRcv = ChainInboundResponse(
		[]InboundResponseInterceptor{ua.txm.InboundResponseInterceptor()},
		ResponseReceiverFunc(ua.dispatchResponse),
	)
	return ua
}

// TransactionManager returns the transaction manager used by the core.
func (ua *UserAgentCore) TransactionManager() *TransactionManager {
	return ua.txm
}

// RecvRequest feeds a request received by the transport layer into the
// core. Requests matching an existing server transaction are consumed
// by it, CANCEL requests are answered statelessly, everything else goes
// to the delegate after the in-dialog checks of RFC 3261 Section 12.2.2.
func (ua *UserAgentCore) RecvRequest(ctx context.Context, tp ServerTransport, req *InboundRequest) error {
	if tp == nil || req == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid transport or request"))
	}
	ctx = context.WithValue(ctx, srvTranspCtxKey, tp)

	err := ua.reqRcv.RecvRequest(ctx, req)
	var rejErr *RejectRequestError
	if errors.As(err, &rejErr) {
		ua.log.LogAttrs(ctx, rejErr.Level, "reject inbound request",
			slog.Any("request", req),
			slog.Any("error", rejErr.Err),
		)
		respondStateless(ctx, tp, req, rejErr.Status)
		return nil
	}
	return errtrace.Wrap(err)
}

// RecvResponse feeds a response received by the transport layer into
// the core. Responses matching a client transaction are consumed by it,
// anything else is discarded.
func (ua *UserAgentCore) RecvResponse(ctx context.Context, tp ClientTransport, res *InboundResponse) error {
	if tp == nil || res == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid transport or response"))
	}
	ctx = context.WithValue(ctx, clnTranspCtxKey, tp)

	err := ua.resRcv.RecvResponse(ctx, res)
	var rejErr *RejectResponseError
	if errors.As(err, &rejErr) {
		ua.log.LogAttrs(ctx, rejErr.Level, "drop inbound response",
			slog.Any("response", res),
			slog.Any("error", rejErr.Err),
		)
		return nil
	}
	return errtrace.Wrap(err)
}

func (ua *UserAgentCore) dispatchRequest(ctx context.Context, req *InboundRequest) error {
	tp, _ := ServerTransportFromContext(ctx)
	method := req.Method()

	if method.Equal(RequestMethodCancel) {
		ua.recvCancel(ctx, tp, req)
		return nil
	}

	var dlg *Dialog
	var dlgID DialogID
	if err := dlgID.FillFromMessage(req); err == nil && dlgID.IsValid() {
		dlg, _ = ua.dialogs.Get(dlgID)
	}

	if method.Equal(RequestMethodAck) {
		ua.recvAck(ctx, dlg, req)
		return nil
	}

	if dlg != nil && !dlg.CheckSequence(req) {
		dlg.Log().LogAttrs(ctx, slog.LevelDebug, "reject out of order request",
			slog.Any("request", req),
		)
		respondStateless(ctx, tp, req, ResponseStatusServerInternalError)
		return nil
	}

	if method.Equal(RequestMethodNotify) {
		if consumed, err := ua.recvSubscriptionNotify(ctx, tp, req); consumed || err != nil {
			return errtrace.Wrap(err)
		}
	}

	if method.Equal(RequestMethodSubscribe) {
		if _, ok := req.Headers().Event(); !ok {
			ua.log.LogAttrs(ctx, slog.LevelDebug, "reject SUBSCRIBE without Event header",
				slog.Any("request", req),
			)
			respondStateless(ctx, tp, req, ResponseStatusBadEvent)
			return nil
		}
	}

	hdl := ua.delegate.handler(method)
	if hdl == nil {
		ua.log.LogAttrs(ctx, slog.LevelDebug, "reject request of unhandled method",
			slog.Any("request", req),
		)
		respondStateless(ctx, tp, req, ResponseStatusNotImplemented)
		return nil
	}

	srv, err := ua.newServerTransaction(ctx, tp, req)
	if err != nil {
		return errtrace.Wrap(err)
	}
	hdl(ctx, dlg, srv, req)
	return nil
}

func (ua *UserAgentCore) dispatchResponse(ctx context.Context, res *InboundResponse) error {
	// responses are matched to client transactions by the transaction
	// manager interceptor, whatever ends up here matches none
	ua.log.LogAttrs(ctx, slog.LevelDebug, "discard response matching no transaction",
		slog.Any("response", res),
	)
	return nil
}

// recvCancel answers a CANCEL request statelessly, per RFC 3261
// Section 9.2: 200 OK when the transaction of the request being canceled
// exists and has not sent a final response yet, 481 otherwise. The
// targeted transaction itself is not affected, the cancellation is
// surfaced through [UserAgentServer.OnCancel].
func (ua *UserAgentCore) recvCancel(ctx context.Context, tp ServerTransport, req *InboundRequest) {
	var key ServerTransactionKey
	if err := key.FillFromMessage(req); err != nil {
		respondStateless(ctx, tp, req, ResponseStatusBadRequest)
		return
	}
	// a CANCEL matches the transaction of the request it cancels
	key.Method = string(RequestMethodInvite)

	tx, err := ua.txm.LoadServerTransaction(ctx, key)
	if err != nil || tx == nil {
		respondStateless(ctx, tp, req, ResponseStatusCallTransactionDoesNotExist)
		return
	}
	switch tx.State() {
	case TransactionStateTrying, TransactionStateProceeding:
	default:
		respondStateless(ctx, tp, req, ResponseStatusCallTransactionDoesNotExist)
		return
	}

	respondStateless(ctx, tp, req, ResponseStatusOK)
	if srv, ok := ua.servers.Get(tx.Key()); ok {
		srv.recvCancel(ctx, req)
	}
}

// recvAck handles an ACK for a 2xx response, which arrives with its own
// branch and matches no transaction, per RFC 3261 Section 13.2.2.4.
func (ua *UserAgentCore) recvAck(ctx context.Context, dlg *Dialog, req *InboundRequest) {
	if dlg == nil {
		ua.log.LogAttrs(ctx, slog.LevelDebug, "discard ACK matching no dialog",
			slog.Any("request", req),
		)
		return
	}
	if hdl := ua.delegate.handler(RequestMethodAck); hdl != nil {
		hdl(ctx, dlg, nil, req)
		return
	}
	dlg.Log().LogAttrs(ctx, slog.LevelDebug, "absorb ACK", slog.Any("request", req))
}

func (ua *UserAgentCore) newServerTransaction(
	ctx context.Context,
	tp ServerTransport,
	req *InboundRequest,
) (*UserAgentServer, error) {
	tx, err := ua.txm.NewServerTransaction(ctx, req, tp, ua.srvTxOpts())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	srv := newUserAgentServer(tx, req, ua.log)
	key := tx.Key()
	ua.servers.Set(key, srv)
	tx.OnStateChanged(func(_ context.Context, _, to TransactionState) {
		if to == TransactionStateTerminated {
			ua.servers.Del(key)
		}
	})
	return srv, nil
}

func (ua *UserAgentCore) clnTxOpts(sendOpts *SendRequestOptions) *ClientTransactionOptions {
	return &ClientTransactionOptions{
		Timings:     ua.timings,
		SendOptions: sendOpts,
		Log:         ua.log,
	}
}

func (ua *UserAgentCore) srvTxOpts() *ServerTransactionOptions {
	return &ServerTransactionOptions{
		Timings: ua.timings,
		Log:     ua.log,
	}
}

// ReplyStateless answers the request directly through the transport,
// without creating a server transaction.
func (ua *UserAgentCore) ReplyStateless(ctx context.Context, tp ServerTransport, req *InboundRequest, sts ResponseStatus) {
	respondStateless(ctx, tp, req, sts)
}

// AddDialog registers the dialog so in-dialog requests can be matched
// to it.
func (ua *UserAgentCore) AddDialog(dlg *Dialog) error {
	if dlg == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid dialog"))
	}
	id := dlg.ID()
	if !id.IsValid() {
		return errtrace.Wrap(NewInvalidArgumentError("invalid dialog ID %q", id))
	}
	ua.dialogs.Set(id, dlg)
	return nil
}

// Dialog returns the registered dialog with the given ID.
func (ua *UserAgentCore) Dialog(id DialogID) (*Dialog, error) {
	dlg, ok := ua.dialogs.Get(id)
	if !ok {
		return nil, errtrace.Wrap(ErrDialogNotFound)
	}
	return dlg, nil
}

// RemoveDialog removes the dialog with the given ID from the registry.
func (ua *UserAgentCore) RemoveDialog(id DialogID) {
	ua.dialogs.Del(id)
}

// Client returns the user agent client registered under the transaction
// key.
func (ua *UserAgentCore) Client(key ClientTransactionKey) (*UserAgentClient, bool) {
	return ua.clients.Get(key)
}

// Server returns the user agent server registered under the transaction
// key.
func (ua *UserAgentCore) Server(key ServerTransactionKey) (*UserAgentServer, bool) {
	return ua.servers.Get(key)
}

// Subscription returns the registered subscription with the given key.
func (ua *UserAgentCore) Subscription(key SubscriptionKey) (*SubscriptionClient, error) {
	sub, ok := ua.subs.Get(key)
	if !ok {
		return nil, errtrace.Wrap(ErrSubscriptionNotFound)
	}
	return sub, nil
}

// Invite sends an INVITE request to the given URI.
func (ua *UserAgentCore) Invite(ctx context.Context, tp ClientTransport, ruri URI, opts *ClientRequestOptions) (*UserAgentClient, error) {
	return errtrace.Wrap2(ua.Request(ctx, tp, RequestMethodInvite, ruri, opts))
}

// Message sends a MESSAGE request to the given URI.
func (ua *UserAgentCore) Message(ctx context.Context, tp ClientTransport, ruri URI, opts *ClientRequestOptions) (*UserAgentClient, error) {
	return errtrace.Wrap2(ua.Request(ctx, tp, RequestMethodMessage, ruri, opts))
}

// Publish sends a PUBLISH request to the given URI.
func (ua *UserAgentCore) Publish(ctx context.Context, tp ClientTransport, ruri URI, opts *ClientRequestOptions) (*UserAgentClient, error) {
	return errtrace.Wrap2(ua.Request(ctx, tp, RequestMethodPublish, ruri, opts))
}

// Register sends a REGISTER request to the given URI.
func (ua *UserAgentCore) Register(ctx context.Context, tp ClientTransport, ruri URI, opts *ClientRequestOptions) (*UserAgentClient, error) {
	return errtrace.Wrap2(ua.Request(ctx, tp, RequestMethodRegister, ruri, opts))
}

// Request builds a request of the given method and sends it through a
// new client transaction wrapped with the authentication guard.
func (ua *UserAgentCore) Request(
	ctx context.Context,
	tp ClientTransport,
	method RequestMethod,
	ruri URI,
	opts *ClientRequestOptions,
) (*UserAgentClient, error) {
	req, err := NewRequest(method, ruri, opts.reqOpts())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(ua.SendRequest(ctx, tp, req, opts))
}

// SendRequest sends an already built request through a new client
// transaction wrapped with the authentication guard.
func (ua *UserAgentCore) SendRequest(
	ctx context.Context,
	tp ClientTransport,
	req *OutboundRequest,
	opts *ClientRequestOptions,
) (*UserAgentClient, error) {
	uac := newUserAgentClient(ua, tp, req, opts.creds(ua.creds), opts.delegate(), ua.log)
	tx, err := ua.txm.NewClientTransaction(ctx, req, tp, ua.clnTxOpts(opts.sendOpts()))
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	ua.registerClient(tx, uac)
	uac.attach(tx)
	return uac, nil
}

// resendRequest sends the authorized request through a fresh client
// transaction on behalf of the user agent client.
func (ua *UserAgentCore) resendRequest(
	ctx context.Context,
	uac *UserAgentClient,
	req *OutboundRequest,
) (ClientTransaction, error) {
	tx, err := ua.txm.NewClientTransaction(ctx, req, uac.tp, ua.clnTxOpts(nil))
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	ua.registerClient(tx, uac)
	return tx, nil
}

func (ua *UserAgentCore) registerClient(tx ClientTransaction, uac *UserAgentClient) {
	key := tx.Key()
	ua.clients.Set(key, uac)
	tx.OnStateChanged(func(_ context.Context, _, to TransactionState) {
		if to == TransactionStateTerminated {
			ua.clients.Del(key)
		}
	})
}

// Close terminates all subscriptions and transactions created by the
// core.
func (ua *UserAgentCore) Close(ctx context.Context) error {
	for _, sub := range ua.subs.All() {
		sub.Dispose(ctx)
	}
	return errtrace.Wrap(ua.txm.Close(ctx))
}

// RequestOptions are options for [NewRequest].
type RequestOptions struct {
	// Via is the topmost Via hop of the request. A branch parameter is
	// generated when the hop carries none.
	Via header.ViaHop
	// From is the local address of record. A tag parameter is generated
	// when none is set.
	From header.NameAddr
	// To is the remote address of record. Defaults to the request URI.
	To header.NameAddr
	// CallID for the request. Generated when empty.
	CallID string
	// CSeqNum is the sequence number of the request. Defaults to 1.
	CSeqNum uint32
	// MaxForwards value for the request. Defaults to 70.
	MaxForwards uint8
	// Headers are additional headers of the request.
	Headers Headers
	// Body is the request body.
	Body []byte
}

func (o *RequestOptions) via() header.ViaHop {
	if o == nil {
		return header.ViaHop{}
	}
	return o.Via.Clone()
}

func (o *RequestOptions) from() header.NameAddr {
	if o == nil {
		return header.NameAddr{}
	}
	return o.From.Clone()
}

func (o *RequestOptions) to() header.NameAddr {
	if o == nil {
		return header.NameAddr{}
	}
	return o.To.Clone()
}

func (o *RequestOptions) callID() string {
	if o == nil || o.CallID == "" {
		return GenerateCallID()
	}
	return o.CallID
}

func (o *RequestOptions) cseqNum() uint32 {
	if o == nil || o.CSeqNum == 0 {
		return 1
	}
	return o.CSeqNum
}

func (o *RequestOptions) maxForwards() header.MaxForwards {
	if o == nil || o.MaxForwards == 0 {
		return header.MaxForwards(70)
	}
	return header.MaxForwards(o.MaxForwards)
}

func (o *RequestOptions) headers() Headers {
	if o == nil {
		return nil
	}
	return o.Headers
}

func (o *RequestOptions) body() []byte {
	if o == nil {
		return nil
	}
	return o.Body
}

// reqHdrs are headers built by [NewRequest] itself, additional headers
// from the options must not shadow them.
var reqHdrs = map[HeaderName]bool{
	"Via":          true,
	"From":         true,
	"To":           true,
	"Call-ID":      true,
	"CSeq":         true,
	"Max-Forwards": true,
}

// NewRequest builds an out-of-dialog request per RFC 3261 Section 8.1.1:
// the topmost Via hop gets a generated branch, the From header a
// generated tag, the To header defaults to the request URI and the CSeq
// number to 1.
func NewRequest(method RequestMethod, ruri URI, opts *RequestOptions) (*OutboundRequest, error) {
	if !method.IsValid() {
		return nil, errtrace.Wrap(NewInvalidArgumentError(fmt.Errorf("invalid method %q", method)))
	}
	if ruri == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid request URI"))
	}

	from := opts.from()
	if from.URI == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing From address"))
	}
	cseqNum := opts.cseqNum()
	if cseqNum > header.MaxCSeqNum {
		return nil, errtrace.Wrap(NewInvalidArgumentError("CSeq number %d out of range", cseqNum))
	}

	msg := &Request{
		Method:  method,
		URI:     types.Clone[URI](ruri),
		Proto:   ProtoVer20(),
		Headers: make(Headers, 8),
		Body:    opts.body(),
	}

	via := opts.via()
	if _, ok := via.Branch(); !ok {
		if via.Params == nil {
			via.Params = make(header.Values)
		}
		via.Params.Set("branch", GenerateBranch())
	}
	msg.Headers.Set(header.Via{via})

	if from.Params == nil {
		from.Params = make(header.Values)
	}
	if !from.Params.Has("tag") {
		from.Params.Set("tag", GenerateTag())
	}
	msg.Headers.Set((*header.From)(&from))

	to := opts.to()
	if to.URI == nil {
		to.URI = types.Clone[URI](ruri)
	}
	msg.Headers.Set((*header.To)(&to))

	msg.Headers.Set(header.CallID(opts.callID()))
	msg.Headers.Set(&header.CSeq{SeqNum: cseqNum, Method: util.UCase(method)})
	msg.Headers.Set(opts.maxForwards())
	for name, hdr := range opts.headers() {
		if reqHdrs[name] {
			continue
		}
		msg.Headers.Set(hdr)
	}

	return NewOutboundRequest(msg), nil
}

// ClientRequestOptions are options for requests sent through the
// user agent core.
type ClientRequestOptions struct {
	// Request are options for the request message, ignored when the
	// request is already built.
	Request RequestOptions
	// Credentials override the core credentials for the authentication
	// guard.
	Credentials *Credentials
	// Delegate receives the request lifecycle events.
	Delegate *ClientRequestDelegate
	// SendOptions are the options used to send the request.
	SendOptions *SendRequestOptions
}

func (o *ClientRequestOptions) reqOpts() *RequestOptions {
	if o == nil {
		return nil
	}
	return &o.Request
}

func (o *ClientRequestOptions) creds(def Credentials) Credentials {
	if o == nil || o.Credentials == nil {
		return def
	}
	return *o.Credentials
}

func (o *ClientRequestOptions) delegate() *ClientRequestDelegate {
	if o == nil {
		return nil
	}
	return o.Delegate
}

func (o *ClientRequestOptions) sendOpts() *SendRequestOptions {
	if o == nil {
		return nil
	}
	return o.SendOptions
}
