package sip

import "context"

// Handler type aliases.
type (
	ErrorHandler = func(ctx context.Context, err error)

	RequestHandler  = func(ctx context.Context, req *InboundRequest)
	ResponseHandler = func(ctx context.Context, res *InboundResponse)

	TransactionStateHandler  = func(ctx context.Context, from, to TransactionState)
	ClientTransactionHandler = func(ctx context.Context, tx ClientTransaction)
	ServerTransactionHandler = func(ctx context.Context, tx ServerTransaction)
)
