package transactions

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fastprodman/farmpay/internal/services/payments"
)

var (
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrSourceInUse          = payments.ErrSourceInUse
	ErrNotFound             = errors.New("transaction not found")
)

// Record is a stored transaction plus the server-only columns.
type Record struct {
	payments.Transaction

	Authorization  payments.AuthorizationHandle
	TransferID     string
	IdempotencyKey string
	RequestHash    string
}

type Transactions interface {
	Insert(ctx context.Context, tx *sql.Tx, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	GetByIdempotencyKey(ctx context.Context, key string) (Record, error)
	GetOpenBySource(ctx context.Context, sourceType payments.SourceType, sourceID string) (Record, error)
	LockByID(ctx context.Context, tx *sql.Tx, id string) (Record, error)

	SetAuthorization(ctx context.Context, tx *sql.Tx, id string, h payments.AuthorizationHandle) error
	// Advance moves id to status to only from one of its predecessors.
	// It returns payments.ErrInvalidTransition otherwise.
	Advance(ctx context.Context, tx *sql.Tx, id string, to payments.Status) error
	SetPayment(ctx context.Context, tx *sql.Tx, id string, p payments.Payment) error
	SetTransfer(ctx context.Context, tx *sql.Tx, id, transferID string) error
	// SetPayout records the payout variant once; a second call returns
	// payments.ErrPayoutAlreadySet.
	SetPayout(ctx context.Context, tx *sql.Tx, id string, p payments.PayoutState) error
	// CompletePayout flips a pending payout identified by its processor id
	// to completed. It is a no-op for unknown ids.
	CompletePayout(ctx context.Context, payoutID string) error
}
