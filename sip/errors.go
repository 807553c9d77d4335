package sip

import (
	"log/slog"

	"github.com/signalpath/sipcore/internal/errorutil"
)

// Common errors.
const (
	ErrInvalidArgument        = errorutil.ErrInvalidArgument
	ErrActionNotAllowed Error = "action not allowed"
)

// Transaction errors.
const (
	ErrTransactionNotFound      Error = "transaction not found"
	ErrTransactionNotMatched    Error = "transaction not matched"
	ErrTransactionTimedOut      Error = "transaction timed out"
	ErrTransactionManagerClosed Error = "transaction manager closed"
)

// Dialog errors.
const (
	ErrDialogNotFound   Error = "dialog not found"
	ErrDialogTerminated Error = "dialog terminated"
	ErrCSeqExhausted    Error = "local sequence number exhausted"
)

// Subscription errors.
const (
	ErrSubscriptionNotFound   Error = "subscription not found"
	ErrSubscriptionTerminated Error = "subscription terminated"
)

// Transport errors.
const (
	// ErrTransportClosed is returned when attempting to use a closed transport.
	ErrTransportClosed Error = "transport closed"
	// ErrNoTarget is returned when no target for the message is resolved.
	ErrNoTarget Error = "no target resolved"
	// ErrUnhandledMessage is returned when the message wasn't handled by any receiver or sender.
	ErrUnhandledMessage Error = "unhandled message"
)

// Message errors.
const (
	ErrInvalidMessage    Error = "invalid message"
	ErrMethodNotAllowed  Error = "request method not allowed"
	ErrMessageNotMatched Error = "message not matched"

	errMissHdrs Error = "missing mandatory headers"
)

// Error represents a SIP error.
// See [errorutil.Error].
type Error = errorutil.Error

// NewInvalidArgumentError creates a new error with [ErrInvalidArgument] or
// wraps provided error with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}

// NewInvalidMessageError creates a new error with [ErrInvalidMessage] or
// wraps provided error with [ErrInvalidMessage].
func NewInvalidMessageError(args ...any) error {
	return errorutil.NewWrapperError(ErrInvalidMessage, args...) //errtrace:skip
}

// RejectRequestError signals to the transport chain that an inbound request
// must be rejected with the given status code instead of being processed.
type RejectRequestError struct {
	Err    error
	Status ResponseStatus
	Level  slog.Level
}

// NewRejectRequestError wraps err into a [RejectRequestError] carrying
// the response status to reject with and the level to log the event at.
func NewRejectRequestError(err error, sts ResponseStatus, lvl slog.Level) error {
	return &RejectRequestError{Err: err, Status: sts, Level: lvl}
}

func (e *RejectRequestError) Error() string {
	if e.Err == nil {
		return "reject request"
	}
	return "reject request: " + e.Err.Error()
}

func (e *RejectRequestError) Unwrap() error { return e.Err }

// RejectResponseError signals to the transport chain that an inbound response
// must be dropped.
type RejectResponseError struct {
	Err   error
	Level slog.Level
}

// NewRejectResponseError wraps err into a [RejectResponseError] carrying
// the level to log the event at.
func NewRejectResponseError(err error, lvl slog.Level) error {
	return &RejectResponseError{Err: err, Level: lvl}
}

func (e *RejectResponseError) Error() string {
	if e.Err == nil {
		return "reject response"
	}
	return "reject response: " + e.Err.Error()
}

func (e *RejectResponseError) Unwrap() error { return e.Err }
