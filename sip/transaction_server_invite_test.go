package sip_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalpath/sipcore/sip"
)

func TestInviteServerTransactionAutoTrying(t *testing.T) {
	t.Parallel()

	inv := newInboundRequest(t, sip.RequestMethodInvite, "z9hG4bK.ist-auto100")
	tp := newTestTransport(false)
	tx, err := sip.NewInviteServerTransaction(inv, tp, &sip.ServerTransactionOptions{Timings: testTimingsAuto100()})
	if err != nil {
		t.Fatalf("NewInviteServerTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)

	if got := tx.State(); got != sip.TransactionStateProceeding {
		t.Errorf("tx.State() = %q, want %q", got, sip.TransactionStateProceeding)
	}
	waitSentStatus(t, tp, sip.ResponseStatusTrying)
}

func TestInviteServerTransactionRejectsNonInvite(t *testing.T) {
	t.Parallel()

	req := newInboundRequest(t, sip.RequestMethodMessage, "z9hG4bK.ist-badmethod")
	tp := newTestTransport(false)
	tx, err := sip.NewInviteServerTransaction(req, tp, &sip.ServerTransactionOptions{Timings: testTimings()})
	if err == nil {
		tx.Terminate(context.Background())
		t.Fatal("NewInviteServerTransaction() error = nil, want invalid argument")
	}
	if !errors.Is(err, sip.ErrInvalidArgument) {
		t.Errorf("NewInviteServerTransaction() error = %v, want %v", err, sip.ErrInvalidArgument)
	}
}

func TestInviteServerTransactionResendsProvisional(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inv := newInboundRequest(t, sip.RequestMethodInvite, "z9hG4bK.ist-prov")
	tp := newTestTransport(false)
	tx, err := sip.NewInviteServerTransaction(inv, tp, &sip.ServerTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewInviteServerTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)

	if err := tx.Respond(ctx, sip.ResponseStatusRinging, nil); err != nil {
		t.Fatalf("Respond(180) error: %v", err)
	}
	waitSentStatus(t, tp, sip.ResponseStatusRinging)

	// an INVITE retransmission replays the last provisional
	if err := tx.RecvRequest(ctx, inv); err != nil {
		t.Fatalf("RecvRequest(retransmission) error: %v", err)
	}
	waitSentStatus(t, tp, sip.ResponseStatusRinging)
	if got := tx.State(); got != sip.TransactionStateProceeding {
		t.Errorf("tx.State() = %q, want %q", got, sip.TransactionStateProceeding)
	}
}

func TestInviteServerTransactionAccepted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inv := newInboundRequest(t, sip.RequestMethodInvite, "z9hG4bK.ist-accept")
	tp := newTestTransport(false)
	tx, err := sip.NewInviteServerTransaction(inv, tp, &sip.ServerTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewInviteServerTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)

	// 2xx retransmission is an application concern, not available before
	if err := tx.RetransmitResponse(ctx); !errors.Is(err, sip.ErrActionNotAllowed) {
		t.Errorf("RetransmitResponse() before accept error = %v, want %v", err, sip.ErrActionNotAllowed)
	}

	var (
		mu   sync.Mutex
		acks int
	)
	tx.OnAck(func(context.Context, *sip.InboundRequest) {
		mu.Lock()
		acks++
		mu.Unlock()
	})

	if err := tx.Respond(ctx, sip.ResponseStatusOK, nil); err != nil {
		t.Fatalf("Respond(200) error: %v", err)
	}
	if got := tx.State(); got != sip.TransactionStateAccepted {
		t.Fatalf("tx.State() = %q, want %q", got, sip.TransactionStateAccepted)
	}
	res := waitSentStatus(t, tp, sip.ResponseStatusOK)

	if err := tx.RetransmitResponse(ctx); err != nil {
		t.Fatalf("RetransmitResponse() error: %v", err)
	}
	waitSentStatus(t, tp, sip.ResponseStatusOK)

	ack := newInboundAck(t, inv, toTag(t, res.Headers()))
	if err := tx.RecvRequest(ctx, ack); err != nil {
		t.Fatalf("RecvRequest(ACK) error: %v", err)
	}
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return acks == 1
	}, "ACK not passed to the handler")

	// timer L reaps the transaction
	waitTransactionState(t, tx, sip.TransactionStateTerminated)
}

func TestInviteServerTransactionRejectionLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inv := newInboundRequest(t, sip.RequestMethodInvite, "z9hG4bK.ist-reject")
	tp := newTestTransport(false)
	tx, err := sip.NewInviteServerTransaction(inv, tp, &sip.ServerTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewInviteServerTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)

	if err := tx.Respond(ctx, sip.ResponseStatusBusyHere, nil); err != nil {
		t.Fatalf("Respond(486) error: %v", err)
	}
	if got := tx.State(); got != sip.TransactionStateCompleted {
		t.Fatalf("tx.State() = %q, want %q", got, sip.TransactionStateCompleted)
	}
	res := waitSentStatus(t, tp, sip.ResponseStatusBusyHere)

	// timer G replays the rejection on an unreliable transport
	waitSentStatus(t, tp, sip.ResponseStatusBusyHere)

	// so does an INVITE retransmission
	if err := tx.RecvRequest(ctx, inv); err != nil {
		t.Fatalf("RecvRequest(retransmission) error: %v", err)
	}
	waitSentStatus(t, tp, sip.ResponseStatusBusyHere)

	ack := newInboundAck(t, inv, toTag(t, res.Headers()))
	if err := tx.RecvRequest(ctx, ack); err != nil {
		t.Fatalf("RecvRequest(ACK) error: %v", err)
	}
	if got := tx.State(); got != sip.TransactionStateConfirmed {
		t.Fatalf("tx.State() = %q, want %q", got, sip.TransactionStateConfirmed)
	}

	// timer I reaps the transaction
	waitTransactionState(t, tx, sip.TransactionStateTerminated)
}

func TestInviteServerTransactionTimesOutWithoutAck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inv := newInboundRequest(t, sip.RequestMethodInvite, "z9hG4bK.ist-noack")
	tp := newTestTransport(true)
	tx, err := sip.NewInviteServerTransaction(inv, tp, &sip.ServerTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewInviteServerTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)

	errCh := make(chan error, 1)
	tx.OnError(func(_ context.Context, err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	if err := tx.Respond(ctx, sip.ResponseStatusBusyHere, nil); err != nil {
		t.Fatalf("Respond(486) error: %v", err)
	}
	waitSentStatus(t, tp, sip.ResponseStatusBusyHere)

	select {
	case err := <-errCh:
		if !errors.Is(err, sip.ErrTransactionTimedOut) {
			t.Errorf("transaction error = %v, want %v", err, sip.ErrTransactionTimedOut)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transaction error before timer H")
	}
	waitTransactionState(t, tx, sip.TransactionStateTerminated)
}

func TestInviteServerTransactionSnapshotRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inv := newInboundRequest(t, sip.RequestMethodInvite, "z9hG4bK.ist-restore")
	tp := newTestTransport(true)
	tx, err := sip.NewInviteServerTransaction(inv, tp, &sip.ServerTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewInviteServerTransaction() error: %v", err)
	}
	if err := tx.Respond(ctx, sip.ResponseStatusBusyHere, nil); err != nil {
		t.Fatalf("Respond(486) error: %v", err)
	}
	waitSentStatus(t, tp, sip.ResponseStatusBusyHere)

	snap := tx.Snapshot()
	if err := tx.Terminate(ctx); err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}

	tp2 := newTestTransport(true)
	tx2, err := sip.RestoreInviteServerTransaction(snap, tp2, &sip.ServerTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("RestoreInviteServerTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx2)

	if got := tx2.State(); got != sip.TransactionStateCompleted {
		t.Errorf("restored tx.State() = %q, want %q", got, sip.TransactionStateCompleted)
	}
	noSentResponse(t, tp2, 30*time.Millisecond)

	// a retransmitted INVITE replays the rejection on the new transport
	if err := tx2.RecvRequest(ctx, inv); err != nil {
		t.Fatalf("RecvRequest(retransmission) error: %v", err)
	}
	waitSentStatus(t, tp2, sip.ResponseStatusBusyHere)
}
