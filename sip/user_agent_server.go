package sip

import (
	"context"
	"log/slog"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/internal/types"
)

// UserAgentServer answers a single incoming request through its server
// transaction, per RFC 3261 Section 8.2. Each response operation checks
// the response status class and the transaction state, so sending a
// final response twice returns [ErrActionNotAllowed] instead of
// reaching the transaction.
type UserAgentServer struct {
	tx  ServerTransaction
	req *InboundRequest
	log *slog.Logger

	onCancel types.CallbackManager[RequestHandler]
	canceled atomic.Bool
}

func newUserAgentServer(tx ServerTransaction, req *InboundRequest, logger *slog.Logger) *UserAgentServer {
	return &UserAgentServer{
		tx:  tx,
		req: req,
		log: logger,
	}
}

// Request returns the request being answered.
func (uas *UserAgentServer) Request() *InboundRequest {
	if uas == nil {
		return nil
	}
	return uas.req
}

// Transaction returns the underlying server transaction.
func (uas *UserAgentServer) Transaction() ServerTransaction {
	if uas == nil {
		return nil
	}
	return uas.tx
}

// Key returns the server transaction key.
func (uas *UserAgentServer) Key() ServerTransactionKey {
	if uas == nil {
		return zeroSrvTxKey
	}
	return uas.tx.Key()
}

// LogValue implements [slog.LogValuer].
func (uas *UserAgentServer) LogValue() slog.Value {
	if uas == nil {
		return slog.Value{}
	}
	return uas.tx.LogValue()
}

// respondable reports whether a response can still be sent,
// that is no final response went out yet.
func (uas *UserAgentServer) respondable() bool {
	switch uas.tx.State() {
	case TransactionStateTrying, TransactionStateProceeding:
		return true
	}
	return false
}

// Trying sends a 100 Trying provisional response.
func (uas *UserAgentServer) Trying(ctx context.Context) error {
	if !uas.respondable() {
		return errtrace.Wrap(ErrActionNotAllowed)
	}
	return errtrace.Wrap(uas.tx.Respond(ctx, ResponseStatusTrying, nil))
}

// Progress sends a non-100 provisional response.
func (uas *UserAgentServer) Progress(ctx context.Context, sts ResponseStatus, opts *RespondOptions) error {
	if !sts.IsProvisional() || sts == ResponseStatusTrying {
		return errtrace.Wrap(NewInvalidArgumentError("invalid provisional status %q", sts))
	}
	if !uas.respondable() {
		return errtrace.Wrap(ErrActionNotAllowed)
	}
	return errtrace.Wrap(uas.tx.Respond(ctx, sts, opts))
}

// Accept sends a 2xx final response.
func (uas *UserAgentServer) Accept(ctx context.Context, sts ResponseStatus, opts *RespondOptions) error {
	if !sts.IsSuccessful() {
		return errtrace.Wrap(NewInvalidArgumentError("invalid success status %q", sts))
	}
	if !uas.respondable() {
		return errtrace.Wrap(ErrActionNotAllowed)
	}
	return errtrace.Wrap(uas.tx.Respond(ctx, sts, opts))
}

// Redirect sends a 3xx final response.
func (uas *UserAgentServer) Redirect(ctx context.Context, sts ResponseStatus, opts *RespondOptions) error {
	if !sts.IsRedirection() {
		return errtrace.Wrap(NewInvalidArgumentError("invalid redirection status %q", sts))
	}
	if !uas.respondable() {
		return errtrace.Wrap(ErrActionNotAllowed)
	}
	return errtrace.Wrap(uas.tx.Respond(ctx, sts, opts))
}

// Reject sends a 4xx-6xx final response.
func (uas *UserAgentServer) Reject(ctx context.Context, sts ResponseStatus, opts *RespondOptions) error {
	if !sts.IsRequestFailure() && !sts.IsServerFailure() && !sts.IsGlobalFailure() {
		return errtrace.Wrap(NewInvalidArgumentError("invalid failure status %q", sts))
	}
	if !uas.respondable() {
		return errtrace.Wrap(ErrActionNotAllowed)
	}
	return errtrace.Wrap(uas.tx.Respond(ctx, sts, opts))
}

// RetransmitResponse resends the accepted 2xx response of an INVITE
// transaction, see [InviteServerTransaction.RetransmitResponse].
func (uas *UserAgentServer) RetransmitResponse(ctx context.Context) error {
	if tx, ok := uas.tx.(*InviteServerTransaction); ok {
		return errtrace.Wrap(tx.RetransmitResponse(ctx))
	}
	return errtrace.Wrap(ErrActionNotAllowed)
}

// OnAck registers a callback for ACK requests absorbed by an INVITE
// transaction. For non-INVITE transactions the callback is never called.
func (uas *UserAgentServer) OnAck(fn RequestHandler) (cancel func()) {
	if tx, ok := uas.tx.(*InviteServerTransaction); ok {
		return tx.OnAck(fn)
	}
	return func() {}
}

// OnCancel registers a callback to be called when a CANCEL targeting
// this transaction arrives. The request passed to the callback is the
// CANCEL itself; answering the original request with 487 Request
// Terminated is up to the application.
func (uas *UserAgentServer) OnCancel(fn RequestHandler) (cancel func()) {
	return uas.onCancel.Add(fn)
}

// Canceled returns whether a CANCEL targeting this transaction arrived.
func (uas *UserAgentServer) Canceled() bool {
	if uas == nil {
		return false
	}
	return uas.canceled.Load()
}

func (uas *UserAgentServer) recvCancel(ctx context.Context, req *InboundRequest) {
	uas.canceled.Store(true)
	uas.log.LogAttrs(ctx, slog.LevelDebug, "transaction canceled",
		slog.Any("transaction", uas.tx),
		slog.Any("request", req),
	)
	uas.onCancel.Range(func(fn RequestHandler) bool {
		fn(ctx, req)
		return true
	})
}
