package sip_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/signalpath/sipcore/header"
	"github.com/signalpath/sipcore/sip"
)

type subscriptionFixture struct {
	ua  *sip.UserAgentCore
	tp  *testTransport
	sub *sip.SubscriptionClient
	req *sip.OutboundRequest

	notifyCh chan *sip.InboundRequest
	termCh   chan error
}

func subscribePresence(t *testing.T, coreOpts *sip.UserAgentCoreOptions) *subscriptionFixture {
	t.Helper()

	f := &subscriptionFixture{
		tp:       newTestTransport(true),
		notifyCh: make(chan *sip.InboundRequest, 2),
		termCh:   make(chan error, 1),
	}
	f.ua = newTestCore(t, coreOpts)

	sub, err := f.ua.Subscribe(context.Background(), f.tp,
		mustParseURI(t, "sip:bob@server.test.invalid"),
		&header.Event{Type: "presence"},
		&sip.SubscribeOptions{
			Request: sip.RequestOptions{
				Via:  testViaHop(sip.TransportProtoTCP),
				From: header.NameAddr{URI: mustParseURI(t, "sip:alice@client.test.invalid")},
			},
			Expires: 120,
			Delegate: &sip.SubscriptionDelegate{
				OnNotify: func(_ context.Context, _ *sip.SubscriptionClient, req *sip.InboundRequest) {
					f.notifyCh <- req
				},
				OnTerminate: func(_ context.Context, _ *sip.SubscriptionClient, reason error) {
					select {
					case f.termCh <- reason:
					default:
					}
				},
			},
		})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	f.sub = sub
	f.req = waitSentRequest(t, f.tp)
	return f
}

// notify builds the NOTIFY a notifier would send for the subscription.
func (f *subscriptionFixture) notify(t *testing.T, evt *header.Event, state *header.SubscriptionState, cseq uint32) *sip.InboundRequest {
	t.Helper()

	hdrs := f.req.Headers()
	callID, _ := hdrs.CallID()
	from, _ := hdrs.From()
	locTag, _ := from.Tag()

	msg := &sip.Request{
		Method:  sip.RequestMethodNotify,
		URI:     mustParseURI(t, "sip:alice@client.test.invalid"),
		Proto:   sip.ProtoVer20(),
		Headers: make(sip.Headers, 10),
	}
	msg.Headers.
		Set(header.Via{{
			Proto:     sip.ProtoVer20(),
			Transport: sip.TransportProtoTCP,
			Addr:      header.HostPort("server.test.invalid", 5060),
			Params:    header.Values{}.Set("branch", sip.GenerateBranch()),
		}}).
		Set(&header.From{
			URI:    mustParseURI(t, "sip:bob@server.test.invalid"),
			Params: header.Values{}.Set("tag", "notifier-tag"),
		}).
		Set(&header.To{
			URI:    mustParseURI(t, "sip:alice@client.test.invalid"),
			Params: header.Values{}.Set("tag", locTag),
		}).
		Set(callID).
		Set(&header.CSeq{SeqNum: cseq, Method: sip.RequestMethodNotify}).
		Set(header.MaxForwards(70)).
		Set(header.Contact{{URI: mustParseURI(t, "sip:bob@203.0.113.5:5060")}})
	if evt != nil {
		msg.Headers.Set(evt)
	}
	if state != nil {
		msg.Headers.Set(state)
	}
	return sip.NewInboundRequest(msg, testLocAddr, testRmtAddr)
}

func activeState(expires uint32) *header.SubscriptionState {
	return &header.SubscriptionState{
		State:  header.SubStateActive,
		Params: header.Values{}.Set("expires", strconv.FormatUint(uint64(expires), 10)),
	}
}

func TestSubscriptionEstablishedByNotify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dlgNotifyCh := make(chan *sip.InboundRequest, 1)
	f := subscribePresence(t, &sip.UserAgentCoreOptions{
		Delegate: &sip.UserAgentDelegate{
			OnNotify: func(ctx context.Context, _ *sip.Dialog, srv *sip.UserAgentServer, req *sip.InboundRequest) {
				dlgNotifyCh <- req
				_ = srv.Accept(ctx, sip.ResponseStatusOK, nil)
			},
		},
	})

	if got := f.sub.State(); got != sip.SubscriptionStateNotifyWait {
		t.Fatalf("sub.State() = %q, want %q", got, sip.SubscriptionStateNotifyWait)
	}
	if evt, ok := f.req.Headers().Event(); !ok || evt.Type != "presence" {
		t.Errorf("SUBSCRIBE Event = %v, want presence", evt)
	}
	if exp, ok := f.req.Headers().Expires(); !ok || exp != 120 {
		t.Errorf("SUBSCRIBE Expires = %v, want 120", exp)
	}

	// the establishing NOTIFY is answered and activates the subscription
	if err := f.ua.RecvRequest(ctx, f.tp, f.notify(t, &header.Event{Type: "presence"}, activeState(90), 1)); err != nil {
		t.Fatalf("RecvRequest(NOTIFY) error: %v", err)
	}
	waitSentStatus(t, f.tp, sip.ResponseStatusOK)

	select {
	case <-f.notifyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("establishing NOTIFY not delivered to the delegate")
	}
	if got := f.sub.State(); got != sip.SubscriptionStateActive {
		t.Errorf("sub.State() = %q, want %q", got, sip.SubscriptionStateActive)
	}
	if got := f.sub.GrantedExpires(); got != 90*time.Second {
		t.Errorf("sub.GrantedExpires() = %v, want %v", got, 90*time.Second)
	}
	dlg := f.sub.Dialog()
	if dlg == nil {
		t.Fatal("sub.Dialog() = nil for an active subscription")
	}
	if got, err := f.ua.Dialog(dlg.ID()); err != nil || got != dlg {
		t.Errorf("ua.Dialog(%v) = %v, %v, want the subscription dialog", dlg.ID(), got, err)
	}

	// subsequent NOTIFYs travel through the dialog to the core delegate
	if err := f.ua.RecvRequest(ctx, f.tp, f.notify(t, &header.Event{Type: "presence"}, activeState(90), 2)); err != nil {
		t.Fatalf("RecvRequest(second NOTIFY) error: %v", err)
	}
	select {
	case <-dlgNotifyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("in-dialog NOTIFY not delivered to the core delegate")
	}
	waitSentStatus(t, f.tp, sip.ResponseStatusOK)
}

func TestSubscriptionTimerN(t *testing.T) {
	t.Parallel()

	f := subscribePresence(t, nil)

	// no NOTIFY at all: timer N gives up the subscription
	select {
	case reason := <-f.termCh:
		if reason == nil {
			t.Error("termination reason = nil, want an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not terminated by timer N")
	}
	if got := f.sub.State(); got != sip.SubscriptionStateTerminated {
		t.Errorf("sub.State() = %q, want %q", got, sip.SubscriptionStateTerminated)
	}
	if _, err := f.ua.Subscription(f.sub.Key()); !errors.Is(err, sip.ErrSubscriptionNotFound) {
		t.Errorf("ua.Subscription() error = %v, want %v", err, sip.ErrSubscriptionNotFound)
	}
}

func TestSubscriptionRejectsForeignEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := subscribePresence(t, nil)

	if err := f.ua.RecvRequest(ctx, f.tp, f.notify(t, &header.Event{Type: "dialog"}, activeState(90), 1)); err != nil {
		t.Fatalf("RecvRequest(NOTIFY) error: %v", err)
	}
	waitSentStatus(t, f.tp, sip.ResponseStatusCallTransactionDoesNotExist)

	select {
	case <-f.termCh:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not terminated on an event mismatch")
	}
	if got := f.sub.State(); got != sip.SubscriptionStateTerminated {
		t.Errorf("sub.State() = %q, want %q", got, sip.SubscriptionStateTerminated)
	}
}

func TestSubscriptionRejectsNotifyWithoutState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := subscribePresence(t, nil)

	if err := f.ua.RecvRequest(ctx, f.tp, f.notify(t, &header.Event{Type: "presence"}, nil, 1)); err != nil {
		t.Fatalf("RecvRequest(NOTIFY) error: %v", err)
	}
	waitSentStatus(t, f.tp, sip.ResponseStatusCallTransactionDoesNotExist)

	select {
	case <-f.termCh:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not terminated on a NOTIFY without Subscription-State")
	}
}

func TestSubscriptionTerminatedByNotifier(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := subscribePresence(t, nil)

	state := &header.SubscriptionState{
		State:  header.SubStateTerminated,
		Params: header.Values{}.Set("reason", header.SubReasonTimeout),
	}
	if err := f.ua.RecvRequest(ctx, f.tp, f.notify(t, &header.Event{Type: "presence"}, state, 1)); err != nil {
		t.Fatalf("RecvRequest(NOTIFY) error: %v", err)
	}
	waitSentStatus(t, f.tp, sip.ResponseStatusOK)

	select {
	case reason := <-f.termCh:
		if reason == nil {
			t.Error("termination reason = nil, want an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not terminated by the notifier")
	}
	if got := f.sub.State(); got != sip.SubscriptionStateTerminated {
		t.Errorf("sub.State() = %q, want %q", got, sip.SubscriptionStateTerminated)
	}
}

func TestSubscriptionStopWaiting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := subscribePresence(t, nil)

	f.sub.StopWaiting(ctx)
	if got := f.sub.State(); got != sip.SubscriptionStateTerminated {
		t.Fatalf("sub.State() = %q, want %q", got, sip.SubscriptionStateTerminated)
	}

	// the subscription stays registered so a late NOTIFY gets a
	// deterministic answer instead of falling through
	if _, err := f.ua.Subscription(f.sub.Key()); err != nil {
		t.Errorf("ua.Subscription() error = %v after StopWaiting", err)
	}
	if err := f.ua.RecvRequest(ctx, f.tp, f.notify(t, &header.Event{Type: "presence"}, activeState(90), 1)); err != nil {
		t.Fatalf("RecvRequest(late NOTIFY) error: %v", err)
	}
	waitSentStatus(t, f.tp, sip.ResponseStatusCallTransactionDoesNotExist)
}

func TestSubscriptionRefresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := subscribePresence(t, nil)

	// refreshing before any NOTIFY has no dialog to run on
	if _, err := f.sub.Refresh(ctx, 60); !errors.Is(err, sip.ErrActionNotAllowed) {
		t.Errorf("Refresh() before establishment error = %v, want %v", err, sip.ErrActionNotAllowed)
	}

	if err := f.ua.RecvRequest(ctx, f.tp, f.notify(t, &header.Event{Type: "presence"}, activeState(90), 1)); err != nil {
		t.Fatalf("RecvRequest(NOTIFY) error: %v", err)
	}
	waitSentStatus(t, f.tp, sip.ResponseStatusOK)

	if _, err := f.sub.Refresh(ctx, 60); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	refresh := waitSentMethod(t, f.tp, sip.RequestMethodSubscribe)
	if got := toTag(t, refresh.Headers()); got != "notifier-tag" {
		t.Errorf("refresh To tag = %q, want %q", got, "notifier-tag")
	}
	if evt, ok := refresh.Headers().Event(); !ok || evt.Type != "presence" {
		t.Errorf("refresh Event = %v, want presence", evt)
	}
	if exp, ok := refresh.Headers().Expires(); !ok || exp != 60 {
		t.Errorf("refresh Expires = %v, want 60", exp)
	}
}

func TestSubscriptionRejectedSubscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := subscribePresence(t, nil)

	if err := f.ua.RecvResponse(ctx, f.tp, newInboundResponse(t, f.req, sip.ResponseStatusForbidden, "uas-1")); err != nil {
		t.Fatalf("RecvResponse(403) error: %v", err)
	}

	select {
	case reason := <-f.termCh:
		if reason == nil {
			t.Error("termination reason = nil, want an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not terminated on a rejected SUBSCRIBE")
	}
	if got := f.sub.State(); got != sip.SubscriptionStateTerminated {
		t.Errorf("sub.State() = %q, want %q", got, sip.SubscriptionStateTerminated)
	}
}
