package sip

import (
	"context"
	"encoding"
	"fmt"
	"iter"
	"log/slog"
	"reflect"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"

	"github.com/signalpath/sipcore/internal/syncutil"
	"github.com/signalpath/sipcore/internal/types"
)

// TransactionState is a state of the transaction FSM.
type TransactionState string

const (
	TransactionStateCalling    TransactionState = "calling"
	TransactionStateTrying     TransactionState = "trying"
	TransactionStateProceeding TransactionState = "proceeding"
	TransactionStateCompleted  TransactionState = "completed"
	TransactionStateAccepted   TransactionState = "accepted"
	TransactionStateConfirmed  TransactionState = "confirmed"
	TransactionStateTerminated TransactionState = "terminated"
)

// TransactionType is a type of the transaction.
type TransactionType string

const (
	TransactionTypeClientInvite    TransactionType = "client_invite"
	TransactionTypeClientNonInvite TransactionType = "client_non_invite"
	TransactionTypeServerInvite    TransactionType = "server_invite"
	TransactionTypeServerNonInvite TransactionType = "server_non_invite"
)

// Transaction represents a SIP transaction.
type Transaction interface {
	slog.LogValuer
	// Context returns the transaction context.
	// It is canceled when the transaction terminates.
	Context() context.Context
	// Type returns the transaction type.
	Type() TransactionType
	// State returns the current transaction state.
	State() TransactionState
	// Terminate forces the transaction to the terminated state.
	Terminate(ctx context.Context) error
	// OnStateChanged registers a callback to be called on each state transition.
	OnStateChanged(fn TransactionStateHandler) (cancel func())
	// OnError registers a callback to be called on transaction errors,
	// like transport failures or timeouts.
	OnError(fn ErrorHandler) (cancel func())
}

const transactCtxKey types.ContextKey = "transaction"

// ContextWithTransaction returns a new context carrying the transaction.
func ContextWithTransaction(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, transactCtxKey, tx)
}

// TransactionFromContext returns the [Transaction] from the given context.
func TransactionFromContext(ctx context.Context) (Transaction, bool) {
	tx, ok := ctx.Value(transactCtxKey).(Transaction)
	return tx, ok
}

const (
	txEvtTranspErr = "transport_err"
	txEvtTerminate = "terminate"
)

type transactImpl interface {
	Transaction
}

type baseTransact struct {
	ctx    context.Context
	cancel context.CancelFunc
	typ    TransactionType
	impl   transactImpl
	fsm    *stateless.StateMachine
	log    *slog.Logger

	onState types.CallbackManager[TransactionStateHandler]
	onErr   types.CallbackManager[ErrorHandler]
}

func newBaseTransact(ctx context.Context, typ TransactionType, impl transactImpl, logger *slog.Logger) *baseTransact {
	ctx, cancel := context.WithCancel(ctx)
	return &baseTransact{
		ctx:    ctx,
		cancel: cancel,
		typ:    typ,
		impl:   impl,
		log:    logger,
	}
}

func (tx *baseTransact) initFSM(start TransactionState) error {
	if start == "" {
		return errtrace.Wrap(NewInvalidArgumentError("invalid start state"))
	}

	fsm := stateless.NewStateMachineWithMode(start, stateless.FiringImmediate)
	fsm.SetTriggerParameters(txEvtTranspErr, reflect.TypeOf((*error)(nil)).Elem())
	fsm.OnTransitioned(func(ctx context.Context, tr stateless.Transition) {
		from, _ := tr.Source.(TransactionState)
		to, _ := tr.Destination.(TransactionState)
		tx.onState.Range(func(fn TransactionStateHandler) bool {
			fn(ctx, from, to)
			return true
		})
	})
	tx.fsm = fsm
	return nil
}

// Context returns the transaction context.
func (tx *baseTransact) Context() context.Context {
	if tx == nil {
		return context.Background()
	}
	return tx.ctx
}

// Type returns the transaction type.
func (tx *baseTransact) Type() TransactionType {
	if tx == nil {
		return ""
	}
	return tx.typ
}

// State returns the current transaction state.
func (tx *baseTransact) State() TransactionState {
	if tx == nil || tx.fsm == nil {
		return ""
	}
	state, _ := tx.fsm.MustState().(TransactionState)
	return state
}

// Terminate forces the transaction to the terminated state.
// Terminating an already terminated transaction is a no-op.
func (tx *baseTransact) Terminate(ctx context.Context) error {
	if tx.State() == TransactionStateTerminated {
		return nil
	}
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtTerminate))
}

// OnStateChanged registers a callback to be called on each state transition.
//
// The callback can be canceled by calling the returned cancel function.
// Multiple callbacks can be registered.
func (tx *baseTransact) OnStateChanged(fn TransactionStateHandler) (cancel func()) {
	return tx.onState.Add(fn)
}

// OnError registers a callback to be called on transaction errors.
//
// The callback can be canceled by calling the returned cancel function.
// Multiple callbacks can be registered.
func (tx *baseTransact) OnError(fn ErrorHandler) (cancel func()) {
	return tx.onErr.Add(fn)
}

func (tx *baseTransact) emitErr(ctx context.Context, err error) {
	if tx.onErr.Len() == 0 {
		tx.log.LogAttrs(ctx, slog.LevelWarn, "transaction error",
			slog.Any("transaction", tx.impl),
			slog.Any("error", err),
		)
		return
	}
	tx.onErr.Range(func(fn ErrorHandler) bool {
		fn(ctx, err)
		return true
	})
}

//nolint:unparam
func (tx *baseTransact) actNoop(context.Context, ...any) error { return nil }

func (tx *baseTransact) actTranspErr(ctx context.Context, args ...any) error {
	err, _ := args[0].(error)

	tx.emitErr(ctx, err)
	return nil
}

//nolint:unparam
func (tx *baseTransact) actTimedOut(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction timed out", slog.Any("transaction", tx.impl))

	tx.emitErr(ctx, ErrTransactionTimedOut)
	return nil
}

//nolint:unparam
func (tx *baseTransact) actTerminated(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction terminated", slog.Any("transaction", tx.impl))

	tx.cancel()
	return nil
}

// TransactionStore keeps transactions indexed by their keys.
type TransactionStore[K any, V any] interface {
	// Store saves the transaction in the store.
	Store(ctx context.Context, tx V) error
	// Load returns the transaction by its key.
	// Returns [ErrTransactionNotFound] if there is no transaction with the key.
	Load(ctx context.Context, key K) (V, error)
	// Delete removes the transaction from the store.
	// Returns [ErrTransactionNotFound] if there is no such transaction.
	Delete(ctx context.Context, tx V) error
	// All returns an iterator over all stored transactions.
	All(ctx context.Context) (iter.Seq[V], error)
	// LookupMatched returns the transaction matching the message.
	// Returns [ErrTransactionNotFound] if there is no matching transaction,
	// [ErrInvalidArgument] if a transaction key can not be built from the message.
	LookupMatched(ctx context.Context, msg Message) (V, error)
}

// NewMemoryTransactionStore creates an in-memory [TransactionStore].
func NewMemoryTransactionStore[K encoding.BinaryMarshaler, V any]() TransactionStore[K, V] {
	return &memTransactionStore[K, V]{}
}

type memTransactionStore[K encoding.BinaryMarshaler, V any] struct {
	txs syncutil.RWMap[string, V]
}

func (s *memTransactionStore[K, V]) Store(_ context.Context, tx V) error {
	key, ok := getTxKey[K](tx)
	if !ok {
		return errtrace.Wrap(NewInvalidArgumentError("transaction key is not available"))
	}
	hash, err := hashTxKey(key)
	if err != nil {
		return errtrace.Wrap(NewInvalidArgumentError(err))
	}

	s.txs.Set(hash, tx)
	return nil
}

func (s *memTransactionStore[K, V]) Load(_ context.Context, key K) (V, error) {
	hash, err := hashTxKey(key)
	if err != nil {
		var zero V
		return zero, errtrace.Wrap(NewInvalidArgumentError(err))
	}

	tx, ok := s.txs.Get(hash)
	if !ok {
		var zero V
		return zero, errtrace.Wrap(ErrTransactionNotFound)
	}
	return tx, nil
}

func (s *memTransactionStore[K, V]) Delete(_ context.Context, tx V) error {
	key, ok := getTxKey[K](tx)
	if !ok {
		return errtrace.Wrap(NewInvalidArgumentError("transaction key is not available"))
	}
	hash, err := hashTxKey(key)
	if err != nil {
		return errtrace.Wrap(NewInvalidArgumentError(err))
	}

	if _, ok := s.txs.GetAndDel(hash); !ok {
		return errtrace.Wrap(ErrTransactionNotFound)
	}
	return nil
}

func (s *memTransactionStore[K, V]) All(context.Context) (iter.Seq[V], error) {
	return func(yield func(V) bool) {
		for _, tx := range s.txs.All() {
			if !yield(tx) {
				return
			}
		}
	}, nil
}

func (s *memTransactionStore[K, V]) LookupMatched(ctx context.Context, msg Message) (V, error) {
	var (
		zero V
		key  K
	)
	filler, ok := any(&key).(interface{ FillFromMessage(Message) error })
	if !ok {
		return zero, errtrace.Wrap(NewInvalidArgumentError("unsupported key type %T", key))
	}
	if err := filler.FillFromMessage(msg); err != nil {
		return zero, errtrace.Wrap(NewInvalidArgumentError(err))
	}

	return errtrace.Wrap2(s.Load(ctx, key))
}

func getTxKey[K any](tx any) (K, bool) {
	if v, ok := tx.(interface{ Key() K }); ok {
		return v.Key(), true
	}
	var zero K
	return zero, false
}

func hashTxKey(key encoding.BinaryMarshaler) (string, error) {
	data, err := key.MarshalBinary()
	if err != nil {
		return "", errtrace.Wrap(fmt.Errorf("marshal transaction key: %w", err))
	}
	return string(data), nil
}
