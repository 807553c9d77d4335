package sip_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalpath/sipcore/sip"
)

func TestNonInviteClientTransactionCompletes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tp := newTestTransport(false)
	req := newOutboundRequest(t, sip.RequestMethodMessage)
	tx, err := sip.NewNonInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewNonInviteClientTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)

	if got := tx.State(); got != sip.TransactionStateTrying {
		t.Fatalf("tx.State() = %q, want %q", got, sip.TransactionStateTrying)
	}
	waitSentRequest(t, tp)

	var (
		mu  sync.Mutex
		got []sip.ResponseStatus
	)
	tx.OnResponse(func(_ context.Context, _ sip.ClientTransaction, res *sip.InboundResponse) {
		mu.Lock()
		got = append(got, res.Status())
		mu.Unlock()
	})

	if err := tx.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusTrying, "")); err != nil {
		t.Fatalf("RecvResponse(100) error: %v", err)
	}
	if got := tx.State(); got != sip.TransactionStateProceeding {
		t.Fatalf("tx.State() = %q, want %q", got, sip.TransactionStateProceeding)
	}

	if err := tx.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusOK, "uas-1")); err != nil {
		t.Fatalf("RecvResponse(200) error: %v", err)
	}
	if got := tx.State(); got != sip.TransactionStateCompleted {
		t.Fatalf("tx.State() = %q, want %q", got, sip.TransactionStateCompleted)
	}

	mu.Lock()
	want := []sip.ResponseStatus{sip.ResponseStatusTrying, sip.ResponseStatusOK}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("delivered responses = %v, want %v", got, want)
	}
	mu.Unlock()

	// timer K reaps the transaction
	waitTransactionState(t, tx, sip.TransactionStateTerminated)
}

func TestNonInviteClientTransactionRetransmits(t *testing.T) {
	t.Parallel()

	tp := newTestTransport(false)
	req := newOutboundRequest(t, sip.RequestMethodMessage)
	tx, err := sip.NewNonInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewNonInviteClientTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)

	// the initial send and then a timer E retransmission
	waitSentRequest(t, tp)
	waitSentRequest(t, tp)
}

func TestNonInviteClientTransactionReliableTerminatesOnFinal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tp := newTestTransport(true)
	req := newOutboundRequest(t, sip.RequestMethodOptions)
	tx, err := sip.NewNonInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewNonInviteClientTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)
	waitSentRequest(t, tp)

	// responses received before any handler registration are queued
	if err := tx.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusNotFound, "uas-1")); err != nil {
		t.Fatalf("RecvResponse(404) error: %v", err)
	}

	statusCh := make(chan sip.ResponseStatus, 1)
	tx.OnResponse(func(_ context.Context, _ sip.ClientTransaction, res *sip.InboundResponse) {
		select {
		case statusCh <- res.Status():
		default:
		}
	})
	select {
	case sts := <-statusCh:
		if sts != sip.ResponseStatusNotFound {
			t.Errorf("delivered status = %d, want %d", sts, sip.ResponseStatusNotFound)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued response not delivered on handler registration")
	}

	// timer K is zero on a reliable transport
	waitTransactionState(t, tx, sip.TransactionStateTerminated)
}

func TestNonInviteClientTransactionTimesOut(t *testing.T) {
	t.Parallel()

	tp := newTestTransport(true)
	req := newOutboundRequest(t, sip.RequestMethodMessage)
	tx, err := sip.NewNonInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewNonInviteClientTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)
	waitSentRequest(t, tp)

	errCh := make(chan error, 1)
	tx.OnError(func(_ context.Context, err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	select {
	case err := <-errCh:
		if !errors.Is(err, sip.ErrTransactionTimedOut) {
			t.Errorf("transaction error = %v, want %v", err, sip.ErrTransactionTimedOut)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transaction error before timer F")
	}
	waitTransactionState(t, tx, sip.TransactionStateTerminated)
}

func TestNonInviteClientTransactionSnapshotRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tp := newTestTransport(true)
	req := newOutboundRequest(t, sip.RequestMethodMessage)
	tx, err := sip.NewNonInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewNonInviteClientTransaction() error: %v", err)
	}
	waitSentRequest(t, tp)
	if err := tx.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusTrying, "")); err != nil {
		t.Fatalf("RecvResponse(100) error: %v", err)
	}

	snap := tx.Snapshot()
	if err := tx.Terminate(ctx); err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}

	tp2 := newTestTransport(true)
	tx2, err := sip.RestoreNonInviteClientTransaction(snap, tp2, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("RestoreNonInviteClientTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx2)

	if got := tx2.State(); got != sip.TransactionStateProceeding {
		t.Errorf("restored tx.State() = %q, want %q", got, sip.TransactionStateProceeding)
	}
	noSentRequest(t, tp2, 30*time.Millisecond)

	if err := tx2.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusOK, "uas-1")); err != nil {
		t.Fatalf("RecvResponse(200) error: %v", err)
	}
	waitTransactionState(t, tx2, sip.TransactionStateTerminated)
}
