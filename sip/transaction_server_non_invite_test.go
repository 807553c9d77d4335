package sip_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalpath/sipcore/sip"
)

func TestNonInviteServerTransactionLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	req := newInboundRequest(t, sip.RequestMethodMessage, "z9hG4bK.nist-life")
	tp := newTestTransport(false)
	tx, err := sip.NewNonInviteServerTransaction(req, tp, &sip.ServerTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewNonInviteServerTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)

	if got := tx.State(); got != sip.TransactionStateTrying {
		t.Fatalf("tx.State() = %q, want %q", got, sip.TransactionStateTrying)
	}
	// no automatic 100 Trying for non-INVITE requests
	noSentResponse(t, tp, 30*time.Millisecond)

	if err := tx.Respond(ctx, sip.ResponseStatusTrying, nil); err != nil {
		t.Fatalf("Respond(100) error: %v", err)
	}
	if got := tx.State(); got != sip.TransactionStateProceeding {
		t.Fatalf("tx.State() = %q, want %q", got, sip.TransactionStateProceeding)
	}
	waitSentStatus(t, tp, sip.ResponseStatusTrying)

	if err := tx.Respond(ctx, sip.ResponseStatusOK, nil); err != nil {
		t.Fatalf("Respond(200) error: %v", err)
	}
	if got := tx.State(); got != sip.TransactionStateCompleted {
		t.Fatalf("tx.State() = %q, want %q", got, sip.TransactionStateCompleted)
	}
	waitSentStatus(t, tp, sip.ResponseStatusOK)

	// a request retransmission replays the final response
	if err := tx.RecvRequest(ctx, req); err != nil {
		t.Fatalf("RecvRequest(retransmission) error: %v", err)
	}
	waitSentStatus(t, tp, sip.ResponseStatusOK)

	// timer J reaps the transaction
	waitTransactionState(t, tx, sip.TransactionStateTerminated)
}

func TestNonInviteServerTransactionRejectsRingingResponse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	req := newInboundRequest(t, sip.RequestMethodMessage, "z9hG4bK.nist-ringing")
	tp := newTestTransport(false)
	tx, err := sip.NewNonInviteServerTransaction(req, tp, &sip.ServerTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewNonInviteServerTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)

	if err := tx.Respond(ctx, sip.ResponseStatusRinging, nil); !errors.Is(err, sip.ErrActionNotAllowed) {
		t.Errorf("Respond(180) error = %v, want %v", err, sip.ErrActionNotAllowed)
	}
	noSentResponse(t, tp, 30*time.Millisecond)
}

func TestNonInviteServerTransactionReliableTerminatesOnFinal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	req := newInboundRequest(t, sip.RequestMethodOptions, "z9hG4bK.nist-rel")
	tp := newTestTransport(true)
	tx, err := sip.NewNonInviteServerTransaction(req, tp, &sip.ServerTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewNonInviteServerTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx)

	if err := tx.Respond(ctx, sip.ResponseStatusNotFound, nil); err != nil {
		t.Fatalf("Respond(404) error: %v", err)
	}
	waitSentStatus(t, tp, sip.ResponseStatusNotFound)

	// timer J is zero on a reliable transport
	waitTransactionState(t, tx, sip.TransactionStateTerminated)
}

func TestNonInviteServerTransactionSnapshotRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	req := newInboundRequest(t, sip.RequestMethodMessage, "z9hG4bK.nist-restore")
	tp := newTestTransport(false)
	tx, err := sip.NewNonInviteServerTransaction(req, tp, &sip.ServerTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("NewNonInviteServerTransaction() error: %v", err)
	}
	if err := tx.Respond(ctx, sip.ResponseStatusOK, nil); err != nil {
		t.Fatalf("Respond(200) error: %v", err)
	}
	waitSentStatus(t, tp, sip.ResponseStatusOK)

	snap := tx.Snapshot()
	if err := tx.Terminate(ctx); err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}

	tp2 := newTestTransport(false)
	tx2, err := sip.RestoreNonInviteServerTransaction(snap, tp2, &sip.ServerTransactionOptions{Timings: testTimings()})
	if err != nil {
		t.Fatalf("RestoreNonInviteServerTransaction() error: %v", err)
	}
	terminateOnCleanup(t, tx2)

	if got := tx2.State(); got != sip.TransactionStateCompleted {
		t.Errorf("restored tx.State() = %q, want %q", got, sip.TransactionStateCompleted)
	}

	if err := tx2.RecvRequest(ctx, req); err != nil {
		t.Fatalf("RecvRequest(retransmission) error: %v", err)
	}
	waitSentStatus(t, tp2, sip.ResponseStatusOK)
}
