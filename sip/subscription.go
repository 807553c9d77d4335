package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"

	"github.com/signalpath/sipcore/header"
	"github.com/signalpath/sipcore/internal/timeutil"
)

// SubscriptionState is a state of the subscription FSM.
type SubscriptionState string

const (
	SubscriptionStateInitial    SubscriptionState = "initial"
	SubscriptionStateNotifyWait SubscriptionState = "notify_wait"
	SubscriptionStatePending    SubscriptionState = "pending"
	SubscriptionStateActive     SubscriptionState = "active"
	SubscriptionStateTerminated SubscriptionState = "terminated"
)

// SubscriptionKey identifies a subscription on the subscriber side:
// the Call-ID together with the subscriber's local tag.
type SubscriptionKey struct {
	CallID   string `json:"call_id"`
	LocalTag string `json:"loc_tag"`
}

// IsValid returns whether the key is fully populated.
func (key SubscriptionKey) IsValid() bool {
	return key.CallID != "" && key.LocalTag != ""
}

// String returns the string representation of the key.
func (key SubscriptionKey) String() string {
	return key.CallID + ";" + key.LocalTag
}

// LogValue implements [slog.LogValuer] for structured logging.
func (key SubscriptionKey) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("call_id", key.CallID),
		slog.String("loc_tag", key.LocalTag),
	)
}

// subscriptionKeyFromNotify builds the key an inbound NOTIFY is matched
// with: the notifier echoes the subscriber's tag in the To header.
func subscriptionKeyFromNotify(req *InboundRequest) SubscriptionKey {
	hdrs := req.Headers()
	callID, _ := hdrs.CallID()
	to, _ := hdrs.To()
	toTag, _ := to.Tag()
	return SubscriptionKey{CallID: string(callID), LocalTag: toTag}
}

// SubscriptionDelegate receives subscription lifecycle events.
type SubscriptionDelegate struct {
	// OnNotify is called for the NOTIFY establishing the subscription.
	OnNotify func(ctx context.Context, sub *SubscriptionClient, req *InboundRequest)
	// OnTerminate is called once when the subscription terminates,
	// with the reason of the termination.
	OnTerminate func(ctx context.Context, sub *SubscriptionClient, reason error)
}

// SubscribeOptions are options for [UserAgentCore.Subscribe].
type SubscribeOptions struct {
	// Request are options for the SUBSCRIBE request message.
	Request RequestOptions
	// Expires is the requested subscription duration in seconds.
	// Zero leaves the choice to the notifier.
	Expires uint32
	// Credentials override the core credentials for the authentication
	// guard.
	Credentials *Credentials
	// ResponseDelegate receives the SUBSCRIBE response lifecycle events.
	ResponseDelegate *ClientRequestDelegate
	// Delegate receives the subscription lifecycle events.
	Delegate *SubscriptionDelegate
}

func (o *SubscribeOptions) reqOpts() *RequestOptions {
	if o == nil {
		return nil
	}
	return &o.Request
}

func (o *SubscribeOptions) expires() uint32 {
	if o == nil {
		return 0
	}
	return o.Expires
}

func (o *SubscribeOptions) creds() *Credentials {
	if o == nil {
		return nil
	}
	return o.Credentials
}

func (o *SubscribeOptions) resDelegate() *ClientRequestDelegate {
	if o == nil {
		return nil
	}
	return o.ResponseDelegate
}

func (o *SubscribeOptions) delegate() *SubscriptionDelegate {
	if o == nil {
		return nil
	}
	return o.Delegate
}

const (
	subEvtSubscribeSent = "subscribe_sent"
	subEvtNotifyPending = "notify_pending"
	subEvtNotifyActive  = "notify_active"
	subEvtTimerN        = "timer_N"
	subEvtTerminate     = "terminate"
)

// SubscriptionClient is the subscriber side of an RFC 6665 subscription.
// It drives the initial SUBSCRIBE through the authentication-guarded
// user agent client, waits for the subscription-establishing NOTIFY
// under Timer N and attaches the dialog that NOTIFY creates. Subsequent
// in-dialog NOTIFYs flow through the dialog dispatch of the core, not
// through this state machine.
type SubscriptionClient struct {
	core     *UserAgentCore
	key      SubscriptionKey
	evt      *header.Event
	delegate *SubscriptionDelegate
	fsm      *stateless.StateMachine
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	uac        atomic.Pointer[UserAgentClient]
	dlg        atomic.Pointer[Dialog]
	tmrN       atomic.Pointer[timeutil.SerializableTimer]
	grantedExp atomic.Int64 // granted expiration as a duration
	termOnce   sync.Once
}

// Subscribe creates a subscription per RFC 6665 Section 4.1: a SUBSCRIBE
// request with the given Event is sent through the authentication-guarded
// client, and the returned subscription waits for the establishing NOTIFY
// under Timer N.
func (ua *UserAgentCore) Subscribe(
	ctx context.Context,
	tp ClientTransport,
	ruri URI,
	evt *header.Event,
	opts *SubscribeOptions,
) (*SubscriptionClient, error) {
	if !evt.IsValid() {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid event"))
	}

	req, err := NewRequest(RequestMethodSubscribe, ruri, opts.reqOpts())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	req.msg.Headers.Set(evt.Clone())
	if exp := opts.expires(); exp > 0 {
		req.msg.Headers.Set(header.Expires(exp))
	}

	callID, _ := req.msg.Headers.CallID()
	from, _ := req.msg.Headers.From()
	locTag, _ := from.Tag()

	sub := &SubscriptionClient{
		core:     ua,
		key:      SubscriptionKey{CallID: string(callID), LocalTag: locTag},
		evt:      evt.Clone().(*header.Event), //nolint:forcetypeassert
		delegate: opts.delegate(),
	}
	sub.ctx, sub.cancel = context.WithCancel(context.Background())
	sub.log = ua.log.With(slog.Any("subscription", sub))
	sub.initFSM()

	uac, err := ua.SendRequest(ctx, tp, req, &ClientRequestOptions{
		Credentials: opts.creds(),
		Delegate:    sub.responseDelegate(opts.resDelegate()),
	})
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	sub.uac.Store(uac)
	ua.subs.Set(sub.key, sub)

	if err := sub.fsm.FireCtx(ctx, subEvtSubscribeSent); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", subEvtSubscribeSent, sub.State(), err))
	}
	return sub, nil
}

func (sub *SubscriptionClient) initFSM() {
	fsm := stateless.NewStateMachineWithMode(SubscriptionStateInitial, stateless.FiringImmediate)

	fsm.Configure(SubscriptionStateInitial).
		Permit(subEvtSubscribeSent, SubscriptionStateNotifyWait).
		Permit(subEvtTerminate, SubscriptionStateTerminated)

	fsm.Configure(SubscriptionStateNotifyWait).
		OnEntry(sub.actNotifyWait).
		Permit(subEvtNotifyPending, SubscriptionStatePending).
		Permit(subEvtNotifyActive, SubscriptionStateActive).
		Permit(subEvtTimerN, SubscriptionStateTerminated).
		Permit(subEvtTerminate, SubscriptionStateTerminated)

	fsm.Configure(SubscriptionStatePending).
		OnEntry(sub.actEstablished).
		Ignore(subEvtNotifyPending).
		Ignore(subEvtTimerN).
		Permit(subEvtNotifyActive, SubscriptionStateActive).
		Permit(subEvtTerminate, SubscriptionStateTerminated)

	fsm.Configure(SubscriptionStateActive).
		OnEntry(sub.actEstablished).
		Ignore(subEvtNotifyPending).
		Ignore(subEvtNotifyActive).
		Ignore(subEvtTimerN).
		Permit(subEvtTerminate, SubscriptionStateTerminated)

	fsm.Configure(SubscriptionStateTerminated).
		OnEntry(sub.actTerminated).
		Ignore(subEvtTimerN).
		Ignore(subEvtTerminate)

	sub.fsm = fsm
}

// State returns the current subscription state.
func (sub *SubscriptionClient) State() SubscriptionState {
	if sub == nil || sub.fsm == nil {
		return ""
	}
	state, _ := sub.fsm.MustState().(SubscriptionState)
	return state
}

// Key returns the subscription key.
func (sub *SubscriptionClient) Key() SubscriptionKey {
	if sub == nil {
		return SubscriptionKey{}
	}
	return sub.key
}

// Event returns the event package of the subscription.
func (sub *SubscriptionClient) Event() *header.Event {
	if sub == nil {
		return nil
	}
	return sub.evt.Clone().(*header.Event) //nolint:forcetypeassert
}

// Dialog returns the dialog established by the initial NOTIFY,
// nil until the NOTIFY arrives.
func (sub *SubscriptionClient) Dialog() *Dialog {
	if sub == nil {
		return nil
	}
	return sub.dlg.Load()
}

// Client returns the user agent client driving the SUBSCRIBE request.
func (sub *SubscriptionClient) Client() *UserAgentClient {
	if sub == nil {
		return nil
	}
	return sub.uac.Load()
}

// GrantedExpires returns the subscription duration granted by the
// notifier, zero until an accepted SUBSCRIBE response or an establishing
// NOTIFY carried one.
func (sub *SubscriptionClient) GrantedExpires() time.Duration {
	if sub == nil {
		return 0
	}
	return time.Duration(sub.grantedExp.Load())
}

// LogValue implements [slog.LogValuer].
func (sub *SubscriptionClient) LogValue() slog.Value {
	if sub == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("key", sub.key),
		slog.Any("event", sub.evt),
	)
}

// responseDelegate wraps the user delegate for the SUBSCRIBE responses:
// an accepted response records the granted expiration, a rejection
// terminates the subscription.
func (sub *SubscriptionClient) responseDelegate(next *ClientRequestDelegate) *ClientRequestDelegate {
	d := &ClientRequestDelegate{
		OnAccept: func(ctx context.Context, res *InboundResponse) {
			if exp, ok := res.Headers().Expires(); ok {
				sub.grantedExp.Store(int64(exp.Duration()))
			}
			if next != nil && next.OnAccept != nil {
				next.OnAccept(ctx, res)
			}
		},
		OnReject: func(ctx context.Context, res *InboundResponse) {
			sub.terminate(ctx,
				fmt.Errorf("%w: subscribe rejected with %q", ErrSubscriptionTerminated, res.Status()),
				true,
			)
			if next != nil && next.OnReject != nil {
				next.OnReject(ctx, res)
			}
		},
	}
	if next != nil {
		d.OnTrying = next.OnTrying
		d.OnProgress = next.OnProgress
		d.OnRedirect = next.OnRedirect
	}
	return d
}

func (sub *SubscriptionClient) actNotifyWait(ctx context.Context, _ ...any) error {
	dur := sub.core.timings.TimeN()
	sub.log.LogAttrs(ctx, slog.LevelDebug, "wait for initial NOTIFY",
		slog.Duration("timeout", dur),
	)
	sub.tmrN.Store(timeutil.AfterFunc(dur, sub.onTimerN))
	return nil
}

func (sub *SubscriptionClient) onTimerN() {
	if sub.State() != SubscriptionStateNotifyWait {
		return
	}

	ctx := sub.ctx
	if err := sub.fsm.FireCtx(ctx, subEvtTimerN); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", subEvtTimerN, sub.State(), err))
	}
	sub.core.subs.Del(sub.key)
	sub.notifyTerminated(ctx,
		fmt.Errorf("%w: no NOTIFY before timer N", ErrSubscriptionTerminated))
}

//nolint:unparam
func (sub *SubscriptionClient) actEstablished(ctx context.Context, _ ...any) error {
	sub.log.LogAttrs(ctx, slog.LevelDebug, "subscription established",
		slog.Any("state", sub.State()),
	)
	return nil
}

//nolint:unparam
func (sub *SubscriptionClient) actTerminated(ctx context.Context, _ ...any) error {
	sub.log.LogAttrs(ctx, slog.LevelDebug, "subscription terminated")

	if tmr := sub.tmrN.Load(); tmr != nil {
		tmr.Stop()
	}
	sub.cancel()
	return nil
}

// recvNotify handles a NOTIFY matching the subscription key.
// It returns false when the NOTIFY belongs to the established dialog and
// must be dispatched through the method handler instead.
func (sub *SubscriptionClient) recvNotify(ctx context.Context, tp ServerTransport, req *InboundRequest) (bool, error) {
	switch sub.State() {
	case SubscriptionStateNotifyWait:
	case SubscriptionStatePending, SubscriptionStateActive:
		return false, nil
	default:
		// a late NOTIFY after the wait was abandoned
		respondStateless(ctx, tp, req, ResponseStatusCallTransactionDoesNotExist)
		return true, nil
	}

	hdrs := req.Headers()

	evt, ok := hdrs.Event()
	if !ok {
		sub.log.LogAttrs(ctx, slog.LevelDebug, "reject NOTIFY without Event header",
			slog.Any("request", req),
		)
		respondStateless(ctx, tp, req, ResponseStatusBadEvent)
		sub.terminate(ctx, fmt.Errorf("%w: NOTIFY without Event header", ErrSubscriptionTerminated), true)
		return true, nil
	}
	if !sub.evt.Equal(evt) {
		sub.log.LogAttrs(ctx, slog.LevelDebug, "reject NOTIFY with mismatched Event header",
			slog.Any("request", req),
			slog.Any("event", evt),
		)
		respondStateless(ctx, tp, req, ResponseStatusCallTransactionDoesNotExist)
		sub.terminate(ctx, fmt.Errorf("%w: NOTIFY Event mismatch", ErrSubscriptionTerminated), true)
		return true, nil
	}

	subState, ok := hdrs.SubscriptionState()
	if !ok {
		sub.log.LogAttrs(ctx, slog.LevelDebug, "reject NOTIFY without Subscription-State header",
			slog.Any("request", req),
		)
		respondStateless(ctx, tp, req, ResponseStatusCallTransactionDoesNotExist)
		sub.terminate(ctx, fmt.Errorf("%w: NOTIFY without Subscription-State header", ErrSubscriptionTerminated), true)
		return true, nil
	}

	// answer through a server transaction so retransmissions are absorbed
	srv, err := sub.core.newServerTransaction(ctx, tp, req)
	if err != nil {
		return true, errtrace.Wrap(err)
	}
	if err := srv.Accept(ctx, ResponseStatusOK, nil); err != nil {
		sub.log.LogAttrs(ctx, slog.LevelWarn, "failed to accept NOTIFY",
			slog.Any("request", req),
			slog.Any("error", err),
		)
	}

	if subState.IsTerminated() {
		reason, _ := subState.Reason()
		if reason == "" {
			reason = "terminated by notifier"
		}
		sub.terminate(ctx, fmt.Errorf("%w: %s", ErrSubscriptionTerminated, reason), true)
		return true, nil
	}

	// the initial NOTIFY establishes the subscription dialog
	dlg, err := NewServerDialog(req, sub.key.LocalTag, false, &DialogOptions{Logger: sub.log})
	if err != nil {
		return true, errtrace.Wrap(err)
	}
	sub.dlg.Store(dlg)
	sub.core.AddDialog(dlg) //nolint:errcheck

	if exp, ok := subState.Expires(); ok {
		sub.grantedExp.Store(int64(exp))
	}

	if tmr := sub.tmrN.Load(); tmr != nil {
		tmr.Stop()
	}

	evtName := subEvtNotifyActive
	if subState.IsPending() {
		evtName = subEvtNotifyPending
	}
	if err := sub.fsm.FireCtx(ctx, evtName); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evtName, sub.State(), err))
	}

	if sub.delegate != nil && sub.delegate.OnNotify != nil {
		sub.delegate.OnNotify(ctx, sub, req)
	}
	return true, nil
}

// Refresh resends SUBSCRIBE within the subscription dialog to extend
// the subscription, per RFC 6665 Section 4.1.2.2.
func (sub *SubscriptionClient) Refresh(ctx context.Context, expires uint32) (*UserAgentClient, error) {
	switch sub.State() {
	case SubscriptionStatePending, SubscriptionStateActive:
	default:
		return nil, errtrace.Wrap(ErrActionNotAllowed)
	}
	dlg := sub.dlg.Load()
	uac := sub.uac.Load()
	if dlg == nil || uac == nil {
		return nil, errtrace.Wrap(ErrActionNotAllowed)
	}

	via, ok := uac.Request().Headers().FirstVia()
	if !ok {
		return nil, errtrace.Wrap(NewInvalidMessageError(newMissHdrErr("Via")))
	}

	req, err := dlg.NewRequest(RequestMethodSubscribe, &DialogRequestOptions{
		Via: header.ViaHop{Proto: via.Proto, Transport: via.Transport, Addr: via.Addr},
		Headers: make(Headers, 2).
			Set(sub.evt.Clone()).
			Set(header.Expires(expires)),
	})
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	return errtrace.Wrap2(sub.core.SendRequest(ctx, uac.tp, req, &ClientRequestOptions{
		Credentials: &uac.creds,
		Delegate: &ClientRequestDelegate{
			OnAccept: func(_ context.Context, res *InboundResponse) {
				if exp, ok := res.Headers().Expires(); ok {
					sub.grantedExp.Store(int64(exp.Duration()))
				}
			},
		},
	}))
}

// StopWaiting abandons the wait for the initial NOTIFY: the subscription
// terminates but stays registered, so a late NOTIFY is answered with
// 481 instead of 200.
func (sub *SubscriptionClient) StopWaiting(ctx context.Context) {
	if sub.State() != SubscriptionStateNotifyWait {
		return
	}
	sub.terminate(ctx, ErrSubscriptionTerminated, false)
}

// Dispose terminates the subscription and removes it from the core
// registry.
func (sub *SubscriptionClient) Dispose(ctx context.Context) {
	sub.terminate(ctx, ErrSubscriptionTerminated, true)
}

func (sub *SubscriptionClient) terminate(ctx context.Context, reason error, deregister bool) {
	if sub.State() != SubscriptionStateTerminated {
		if err := sub.fsm.FireCtx(ctx, subEvtTerminate); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", subEvtTerminate, sub.State(), err))
		}
	}
	if deregister {
		sub.core.subs.Del(sub.key)
	}
	sub.notifyTerminated(ctx, reason)
}

func (sub *SubscriptionClient) notifyTerminated(ctx context.Context, reason error) {
	sub.termOnce.Do(func() {
		if sub.delegate != nil && sub.delegate.OnTerminate != nil {
			sub.delegate.OnTerminate(ctx, sub, reason)
		}
	})
}

// recvSubscriptionNotify routes a NOTIFY to the subscription awaiting
// it. NOTIFYs matching no subscription and no dialog are answered with
// 481, per RFC 6665 Section 4.4.1.
func (ua *UserAgentCore) recvSubscriptionNotify(ctx context.Context, tp ServerTransport, req *InboundRequest) (bool, error) {
	key := subscriptionKeyFromNotify(req)
	sub, ok := ua.subs.Get(key)
	if !ok {
		var dlgID DialogID
		if err := dlgID.FillFromMessage(req); err == nil && ua.dialogs.Has(dlgID) {
			// in-dialog NOTIFY, dispatched through the method handler
			return false, nil
		}
		ua.log.LogAttrs(ctx, slog.LevelDebug, "reject NOTIFY matching no subscription",
			slog.Any("request", req),
		)
		respondStateless(ctx, tp, req, ResponseStatusCallTransactionDoesNotExist)
		return true, nil
	}
	return errtrace.Wrap2(sub.recvNotify(ctx, tp, req))
}
