package sip_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalpath/sipcore/sip"
)

// serverFor dispatches an INVITE through the core and returns the
// server handle passed to the delegate.
func serverFor(t *testing.T, tp *testTransport) *sip.UserAgentServer {
	t.Helper()

	srvCh := make(chan *sip.UserAgentServer, 1)
	ua := newTestCore(t, &sip.UserAgentCoreOptions{
		Delegate: &sip.UserAgentDelegate{
			OnInvite: func(_ context.Context, _ *sip.Dialog, srv *sip.UserAgentServer, _ *sip.InboundRequest) {
				srvCh <- srv
			},
		},
	})

	req := newInboundRequest(t, sip.RequestMethodInvite, "z9hG4bK.uas-"+t.Name())
	if err := ua.RecvRequest(context.Background(), tp, req); err != nil {
		t.Fatalf("RecvRequest(INVITE) error: %v", err)
	}

	select {
	case srv := <-srvCh:
		return srv
	case <-time.After(2 * time.Second):
		t.Fatal("delegate not called for the INVITE")
		return nil
	}
}

func TestUserAgentServerRespondsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tp := newTestTransport(true)
	srv := serverFor(t, tp)

	if err := srv.Progress(ctx, sip.ResponseStatusRinging, nil); err != nil {
		t.Fatalf("Progress(180) error: %v", err)
	}
	waitSentStatus(t, tp, sip.ResponseStatusRinging)

	if err := srv.Accept(ctx, sip.ResponseStatusOK, nil); err != nil {
		t.Fatalf("Accept(200) error: %v", err)
	}
	waitSentStatus(t, tp, sip.ResponseStatusOK)

	// the final response went out, every further answer is refused
	if err := srv.Accept(ctx, sip.ResponseStatusOK, nil); !errors.Is(err, sip.ErrActionNotAllowed) {
		t.Errorf("second Accept() error = %v, want %v", err, sip.ErrActionNotAllowed)
	}
	if err := srv.Reject(ctx, sip.ResponseStatusBusyHere, nil); !errors.Is(err, sip.ErrActionNotAllowed) {
		t.Errorf("Reject() after final error = %v, want %v", err, sip.ErrActionNotAllowed)
	}
	if err := srv.Trying(ctx); !errors.Is(err, sip.ErrActionNotAllowed) {
		t.Errorf("Trying() after final error = %v, want %v", err, sip.ErrActionNotAllowed)
	}
	if err := srv.Progress(ctx, sip.ResponseStatusRinging, nil); !errors.Is(err, sip.ErrActionNotAllowed) {
		t.Errorf("Progress() after final error = %v, want %v", err, sip.ErrActionNotAllowed)
	}
	noSentResponse(t, tp, 30*time.Millisecond)
}

func TestUserAgentServerValidatesStatusClass(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tp := newTestTransport(true)
	srv := serverFor(t, tp)

	if err := srv.Accept(ctx, sip.ResponseStatusNotFound, nil); !errors.Is(err, sip.ErrInvalidArgument) {
		t.Errorf("Accept(404) error = %v, want %v", err, sip.ErrInvalidArgument)
	}
	if err := srv.Progress(ctx, sip.ResponseStatusTrying, nil); !errors.Is(err, sip.ErrInvalidArgument) {
		t.Errorf("Progress(100) error = %v, want %v", err, sip.ErrInvalidArgument)
	}
	if err := srv.Redirect(ctx, sip.ResponseStatusOK, nil); !errors.Is(err, sip.ErrInvalidArgument) {
		t.Errorf("Redirect(200) error = %v, want %v", err, sip.ErrInvalidArgument)
	}
	if err := srv.Reject(ctx, sip.ResponseStatusRinging, nil); !errors.Is(err, sip.ErrInvalidArgument) {
		t.Errorf("Reject(180) error = %v, want %v", err, sip.ErrInvalidArgument)
	}
	noSentResponse(t, tp, 30*time.Millisecond)
}
