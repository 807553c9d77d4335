package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/header"
	"github.com/signalpath/sipcore/internal/errorutil"
)

// ClientRequestDelegate receives lifecycle notifications for an outgoing
// request. Transaction timeouts and transport errors are delivered
// through the same callbacks as network responses, as synthesized
// 408 Request Timeout and 503 Service Unavailable responses.
type ClientRequestDelegate struct {
	// OnTrying is called on a 100 Trying response.
	OnTrying ResponseHandler
	// OnProgress is called on any other provisional response.
	OnProgress ResponseHandler
	// OnAccept is called on a 2xx response.
	OnAccept ResponseHandler
	// OnRedirect is called on a 3xx response.
	OnRedirect ResponseHandler
	// OnReject is called on a 4xx-6xx response.
	OnReject ResponseHandler
}

func (d *ClientRequestDelegate) dispatch(ctx context.Context, res *InboundResponse) {
	if d == nil {
		return
	}

	var fn ResponseHandler
	switch sts := res.Status(); {
	case sts == ResponseStatusTrying:
		fn = d.OnTrying
	case sts.IsProvisional():
		fn = d.OnProgress
	case sts.IsSuccessful():
		fn = d.OnAccept
	case sts.IsRedirection():
		fn = d.OnRedirect
	default:
		fn = d.OnReject
	}
	if fn != nil {
		fn(ctx, res)
	}
}

// UserAgentClient drives a single outgoing request through its client
// transactions and applies the authentication guard of RFC 3261
// Section 22: a 401 or 407 challenge is answered at most once per unique
// challenge by resending the request with computed credentials through a
// fresh transaction. A challenge with a nonce that was already answered
// is forwarded to the delegate as a final rejection, except that a fresh
// nonce flagged stale grants exactly one more attempt.
type UserAgentClient struct {
	core     *UserAgentCore
	tp       ClientTransport
	creds    Credentials
	delegate *ClientRequestDelegate
	log      *slog.Logger

	mu          sync.Mutex
	req         *OutboundRequest
	tx          ClientTransaction
	triedNonces map[string]bool
	done        bool // a final response or a synthesized error was forwarded
}

func newUserAgentClient(
	core *UserAgentCore,
	tp ClientTransport,
	req *OutboundRequest,
	creds Credentials,
	delegate *ClientRequestDelegate,
	logger *slog.Logger,
) *UserAgentClient {
	return &UserAgentClient{
		core:     core,
		tp:       tp,
		creds:    creds,
		delegate: delegate,
		log:      logger,
		req:      req,
	}
}

// Request returns the request being sent.
func (uac *UserAgentClient) Request() *OutboundRequest {
	if uac == nil {
		return nil
	}

	uac.mu.Lock()
	defer uac.mu.Unlock()
	return uac.req
}

// Transaction returns the current client transaction. After an
// authentication retry it is the transaction of the resent request.
func (uac *UserAgentClient) Transaction() ClientTransaction {
	if uac == nil {
		return nil
	}

	uac.mu.Lock()
	defer uac.mu.Unlock()
	return uac.tx
}

// LogValue implements [slog.LogValuer].
func (uac *UserAgentClient) LogValue() slog.Value {
	if uac == nil {
		return slog.Value{}
	}
	tx := uac.Transaction()
	if tx == nil {
		return slog.Value{}
	}
	return tx.LogValue()
}

func (uac *UserAgentClient) attach(tx ClientTransaction) {
	uac.mu.Lock()
	uac.tx = tx
	uac.mu.Unlock()

	tx.OnResponse(uac.recvResponse)
	tx.OnError(uac.recvError)
}

func (uac *UserAgentClient) recvResponse(ctx context.Context, _ ClientTransaction, res *InboundResponse) {
	sts := res.Status()
	if (sts == ResponseStatusUnauthorized || sts == ResponseStatusProxyAuthenticationRequired) &&
		!uac.creds.IsZero() {
		if uac.retryWithAuth(ctx, res) {
			return
		}
	}

	uac.updateDialog(ctx, res)

	if sts.IsFinal() {
		uac.mu.Lock()
		uac.done = true
		uac.mu.Unlock()
	}
	uac.delegate.dispatch(ctx, res)
}

// updateDialog maintains the dialog registry for a dialog-establishing
// request, per RFC 3261 Section 12.1.2: a provisional response with a To
// tag creates an early dialog, the first 2xx confirms it and fixes the
// route set, and a non-2xx final response discards the early dialog.
func (uac *UserAgentClient) updateDialog(ctx context.Context, res *InboundResponse) {
	req := uac.Request()
	if req.Method() != RequestMethodInvite {
		return
	}

	var id DialogID
	if err := id.FillFromMessage(res); err != nil || !id.IsValid() {
		return
	}
	dlg, err := uac.core.Dialog(id)

	switch sts := res.Status(); {
	case sts == ResponseStatusTrying:
	case sts.IsProvisional():
		if err != nil {
			uac.addDialog(ctx, req, res)
		}
	case sts.IsSuccessful():
		if err != nil {
			if dlg = uac.addDialog(ctx, req, res); dlg == nil {
				return
			}
		}
		dlg.Confirm()
		dlg.RecomputeRouteSet(res)
	default:
		if err == nil && dlg.Early() {
			uac.core.RemoveDialog(id)
		}
	}
}

func (uac *UserAgentClient) addDialog(ctx context.Context, req *OutboundRequest, res *InboundResponse) *Dialog {
	dlg, err := NewClientDialog(req, res, &DialogOptions{Logger: uac.log})
	if err != nil {
		uac.log.LogAttrs(ctx, slog.LevelDebug, "failed to create dialog",
			slog.Any("response", res),
			slog.Any("error", err),
		)
		return nil
	}
	if err := uac.core.AddDialog(dlg); err != nil {
		// lost the race to a concurrent response
		if dlg, err = uac.core.Dialog(dlg.ID()); err == nil {
			return dlg
		}
		return nil
	}
	uac.log.LogAttrs(ctx, slog.LevelDebug, "dialog created", slog.Any("dialog", dlg))
	return dlg
}

// retryWithAuth resends the request with an answer to the challenge.
// It returns false when the challenge must be forwarded to the delegate
// instead.
func (uac *UserAgentClient) retryWithAuth(ctx context.Context, res *InboundResponse) bool {
	chal, _, err := challengeFromResponse(res)
	if err != nil {
		uac.log.LogAttrs(ctx, slog.LevelDebug, "unusable authentication challenge",
			slog.Any("response", res),
			slog.Any("error", err),
		)
		return false
	}

	uac.mu.Lock()
	allowed := !uac.triedNonces[chal.Nonce] &&
		(len(uac.triedNonces) == 0 || (len(uac.triedNonces) == 1 && chal.Stale))
	if allowed {
		if uac.triedNonces == nil {
			uac.triedNonces = make(map[string]bool, 2)
		}
		uac.triedNonces[chal.Nonce] = true
	}
	uac.mu.Unlock()
	if !allowed {
		return false
	}

	// The previous transaction still owns its request, so the
	// credentials are stamped into a copy.
	retry := uac.Request().Clone().(*OutboundRequest) //nolint:forcetypeassert
	if err := authorizeRequest(retry, res, uac.creds); err != nil {
		uac.log.LogAttrs(ctx, slog.LevelWarn, "failed to authorize request",
			slog.Any("request", retry),
			slog.Any("error", err),
		)
		return false
	}

	tx, err := uac.core.resendRequest(ctx, uac, retry)
	if err != nil {
		uac.log.LogAttrs(ctx, slog.LevelError, "failed to resend authorized request",
			slog.Any("request", retry),
			slog.Any("error", err),
		)
		return false
	}

	uac.log.LogAttrs(ctx, slog.LevelDebug, "resend request with credentials",
		slog.Any("request", retry),
	)
	uac.mu.Lock()
	uac.req = retry
	uac.mu.Unlock()
	uac.attach(tx)
	return true
}

// recvError synthesizes a response for a transaction error: timeouts
// become 408 Request Timeout, transport failures 503 Service
// Unavailable. The response takes the same delegate path as a network
// response.
func (uac *UserAgentClient) recvError(ctx context.Context, err error) {
	uac.mu.Lock()
	if uac.done {
		uac.mu.Unlock()
		return
	}
	uac.done = true
	req := uac.req
	uac.mu.Unlock()

	sts := ResponseStatusServiceUnavailable
	if errors.Is(err, ErrTransactionTimedOut) || errorutil.IsTimeoutErr(err) {
		sts = ResponseStatusRequestTimeout
	}

	uac.log.LogAttrs(ctx, slog.LevelDebug, "synthesize response for transaction error",
		slog.Any("request", req),
		slog.Any("status", sts),
		slog.Any("error", err),
	)
	uac.delegate.dispatch(ctx, synthesizeResponse(req, sts))
}

// Cancel sends a CANCEL for the request, per RFC 3261 Section 9.1.
// The request can be canceled only while its transaction awaits a final
// response.
func (uac *UserAgentClient) Cancel(ctx context.Context) error {
	uac.mu.Lock()
	req, tx := uac.req, uac.tx
	uac.mu.Unlock()
	if tx == nil {
		return errtrace.Wrap(ErrActionNotAllowed)
	}

	switch tx.State() {
	case TransactionStateCalling, TransactionStateTrying, TransactionStateProceeding:
	default:
		return errtrace.Wrap(ErrActionNotAllowed)
	}

	cancel := buildCancelRequest(req)
	_, err := uac.core.txm.NewClientTransaction(ctx, cancel, uac.tp, uac.core.clnTxOpts(nil))
	if err != nil {
		return errtrace.Wrap(fmt.Errorf("send CANCEL request: %w", err))
	}
	return nil
}

// buildCancelRequest builds a CANCEL matching the request it cancels:
// same request URI, Call-ID, From, To and Route, the CSeq number of the
// original with the CANCEL method and a single Via hop carrying the
// original branch.
func buildCancelRequest(req *OutboundRequest) *OutboundRequest {
	cancel := req.Clone().(*OutboundRequest) //nolint:forcetypeassert
	cancel.msg.Method = RequestMethodCancel
	cancel.msg.Body = nil

	if via, ok := cancel.msg.Headers.FirstVia(); ok {
		cancel.msg.Headers.Set(header.Via{*via})
	}
	if cseq, ok := cancel.msg.Headers.CSeq(); ok {
		cseq.Method = RequestMethodCancel
	}
	cancel.msg.Headers.
		Del("Content-Type").
		Del("Content-Length").
		Del("Record-Route")
	return cancel
}

var resCopyHdrs = []HeaderName{"Via", "From", "To", "Call-ID", "CSeq"}

// synthesizeResponse builds a locally generated response to the request,
// carrying the headers a remote final response would echo back.
func synthesizeResponse(req *OutboundRequest, sts ResponseStatus) *InboundResponse {
	req.mu.RLock()
	hdrs := make(Headers, len(resCopyHdrs)).CopyFrom(req.msg.Headers, resCopyHdrs...)
	proto := req.msg.Proto
	req.mu.RUnlock()

	msg := &Response{
		Status:  sts,
		Proto:   proto,
		Headers: hdrs,
	}
	return NewInboundResponse(msg, netip.AddrPort{}, netip.AddrPort{})
}
