package sip_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/signalpath/sipcore/sip"
)

func TestInviteClientTransactionRetransmitsOnUnreliableTransport(t *testing.T) {
	t.Parallel()

	tp := newTestTransport(false)
	req := newOutboundRequest(t, sip.RequestMethodInvite)
	tx, err := sip.NewInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewInviteClientTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)

	if got := waitSentRequest(t, tp).Method(); got != sip.RequestMethodInvite {
		t.Errorf("sent request method = %q, want %q", got, sip.RequestMethodInvite)
	}
	// timer A fires and the INVITE goes out again
	if got := waitSentRequest(t, tp).Method(); got != sip.RequestMethodInvite {
		t.Errorf("retransmitted request method = %q, want %q", got, sip.RequestMethodInvite)
	}
	if got := tx.State(); got != sip.TransactionStateCalling {
		t.Errorf("tx.State() = %q, want %q", got, sip.TransactionStateCalling)
	}
}

func TestInviteClientTransactionNoRetransmitOnReliableTransport(t *testing.T) {
	t.Parallel()

	tp := newTestTransport(true)
	req := newOutboundRequest(t, sip.RequestMethodInvite)
	tx, err := sip.NewInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewInviteClientTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)

	waitSentRequest(t, tp)
	noSentRequest(t, tp, 50*time.Millisecond)
}

func TestInviteClientTransactionSendFailure(t *testing.T) {
	t.Parallel()

	tp := newTestTransport(false)
	tp.failSends(io.ErrClosedPipe)
	req := newOutboundRequest(t, sip.RequestMethodInvite)
	tx, err := sip.NewInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err == nil {
		tx.Terminate(context.Background())
		t.Fatal("NewInviteClientTransaction() error = nil, want transport error")
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("NewInviteClientTransaction() error = %v, want %v", err, io.ErrClosedPipe)
	}
}

func TestInviteClientTransactionAccepted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tp := newTestTransport(true)
	req := newOutboundRequest(t, sip.RequestMethodInvite)
	tx, err := sip.NewInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewInviteClientTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)
	waitSentRequest(t, tp)

	var (
		mu   sync.Mutex
		got  []sip.ResponseStatus
		tags []string
	)
	tx.OnResponse(func(_ context.Context, _ sip.ClientTransaction, res *sip.InboundResponse) {
		mu.Lock()
		got = append(got, res.Status())
		tags = append(tags, toTag(t, res.Headers()))
		mu.Unlock()
	})

	if err := tx.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusRinging, "uas-1")); err != nil {
		t.Fatalf("RecvResponse(180) error: %v", err)
	}
	if got := tx.State(); got != sip.TransactionStateProceeding {
		t.Fatalf("tx.State() = %q, want %q", got, sip.TransactionStateProceeding)
	}

	if err := tx.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusOK, "uas-1")); err != nil {
		t.Fatalf("RecvResponse(200) error: %v", err)
	}
	if got := tx.State(); got != sip.TransactionStateAccepted {
		t.Fatalf("tx.State() = %q, want %q", got, sip.TransactionStateAccepted)
	}

	// the 2xx retransmission is absorbed, a forked 2xx with a fresh
	// remote tag goes up
	if err := tx.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusOK, "uas-1")); err != nil {
		t.Fatalf("RecvResponse(200 retransmission) error: %v", err)
	}
	if err := tx.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusOK, "uas-2")); err != nil {
		t.Fatalf("RecvResponse(200 fork) error: %v", err)
	}

	mu.Lock()
	wantSts := []sip.ResponseStatus{sip.ResponseStatusRinging, sip.ResponseStatusOK, sip.ResponseStatusOK}
	wantTags := []string{"uas-1", "uas-1", "uas-2"}
	if len(got) != len(wantSts) {
		t.Fatalf("delivered %d responses %v, want %d", len(got), got, len(wantSts))
	}
	for i := range wantSts {
		if got[i] != wantSts[i] || tags[i] != wantTags[i] {
			t.Errorf("response[%d] = %d tag %q, want %d tag %q", i, got[i], tags[i], wantSts[i], wantTags[i])
		}
	}
	mu.Unlock()

	// timer M reaps the transaction
	waitTransactionState(t, tx, sip.TransactionStateTerminated)
}

func TestInviteClientTransactionAcksRejection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tp := newTestTransport(false)
	req := newOutboundRequest(t, sip.RequestMethodInvite)
	tx, err := sip.NewInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewInviteClientTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)
	waitSentRequest(t, tp)

	if err := tx.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusBusyHere, "uas-1")); err != nil {
		t.Fatalf("RecvResponse(486) error: %v", err)
	}
	if got := tx.State(); got != sip.TransactionStateCompleted {
		t.Fatalf("tx.State() = %q, want %q", got, sip.TransactionStateCompleted)
	}

	ack := waitSentMethod(t, tp, sip.RequestMethodAck)
	if got, want := topViaBranch(t, ack.Headers()), topViaBranch(t, req.Headers()); got != want {
		t.Errorf("ACK branch = %q, want the INVITE branch %q", got, want)
	}
	if got := toTag(t, ack.Headers()); got != "uas-1" {
		t.Errorf("ACK To tag = %q, want %q", got, "uas-1")
	}
	cseq, _ := ack.Headers().CSeq()
	if cseq == nil || cseq.Method != sip.RequestMethodAck {
		t.Errorf("ACK CSeq = %v, want method %q", cseq, sip.RequestMethodAck)
	}

	// a retransmitted final response triggers another ACK
	if err := tx.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusBusyHere, "uas-1")); err != nil {
		t.Fatalf("RecvResponse(486 retransmission) error: %v", err)
	}
	waitSentMethod(t, tp, sip.RequestMethodAck)

	// timer D reaps the transaction
	waitTransactionState(t, tx, sip.TransactionStateTerminated)
}

func TestInviteClientTransactionTimesOut(t *testing.T) {
	t.Parallel()

	tp := newTestTransport(true)
	req := newOutboundRequest(t, sip.RequestMethodInvite)
	tx, err := sip.NewInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewInviteClientTransaction() error: %v", err)
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
		t.Fatal("no transaction error before timer B")
	}
	waitTransactionState(t, tx, sip.TransactionStateTerminated)
}

func TestInviteClientTransactionSnapshotRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tp := newTestTransport(true)
	req := newOutboundRequest(t, sip.RequestMethodInvite)
	tx, err := sip.NewInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewInviteClientTransaction() error: %v", err)
	}
	waitSentRequest(t, tp)
	if err := tx.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusRinging, "uas-1")); err != nil {
		t.Fatalf("RecvResponse(180) error: %v", err)
	}

	snap := tx.Snapshot()
	if err := tx.Terminate(ctx); err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}

	tp2 := newTestTransport(true)
	tx2, err := sip.RestoreInviteClientTransaction(snap, tp2, &sip.ClientTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("RestoreInviteClientTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx2)

	if got := tx2.State(); got != sip.TransactionStateProceeding {
		t.Errorf("restored tx.State() = %q, want %q", got, sip.TransactionStateProceeding)
	}
	if got, want := tx2.Key(), tx.Key(); !got.Equal(want) {
		t.Errorf("restored tx.Key() = %v, want %v", got, want)
	}
	// no resend on restore
	noSentRequest(t, tp2, 30*time.Millisecond)

	statusCh := make(chan sip.ResponseStatus, 1)
	tx2.OnResponse(func(_ context.Context, _ sip.ClientTransaction, res *sip.InboundResponse) {
		select {
		case statusCh <- res.Status():
		default:
		}
	})
	if err := tx2.RecvResponse(ctx, newInboundResponse(t, req, sip.ResponseStatusNotFound, "uas-1")); err != nil {
		t.Fatalf("RecvResponse(404) error: %v", err)
	}
	select {
	case sts := <-statusCh:
		if sts != sip.ResponseStatusNotFound {
			t.Errorf("delivered status = %d, want %d", sts, sip.ResponseStatusNotFound)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("final response not delivered after restore")
	}
}
