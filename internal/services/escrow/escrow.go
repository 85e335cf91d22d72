// Package escrow is the server side of the payment lifecycle: it opens
// transactions, holds the buyer's funds until delivery, and moves the
// seller's share to their connected account and bank.
package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/repos/payouts"
	pgpayouts "github.com/fastprodman/farmpay/internal/repos/payouts/postgres"
	"github.com/fastprodman/farmpay/internal/repos/sellers"
	pgsellers "github.com/fastprodman/farmpay/internal/repos/sellers/postgres"
	"github.com/fastprodman/farmpay/internal/repos/transactions"
	pgtransactions "github.com/fastprodman/farmpay/internal/repos/transactions/postgres"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/internal/services/tracker"
	"github.com/fastprodman/farmpay/pkg/money"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrForbidden      = errors.New("caller is not a party to this transaction")
	ErrInvalidRequest = errors.New("invalid request")
	ErrProcessor      = errors.New("payment processor error")
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmpay_transaction_transitions_total",
		Help: "Transaction status transitions committed to storage",
	}, []string{"to"})

	processorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmpay_processor_calls_total",
		Help: "Calls to the payment processor",
	}, []string{"op", "result"})
)

type AuthorizationRequest struct {
	TransactionID  string
	Amount         money.Money
	IdempotencyKey string
}

// AuthorizationInfo is the processor's current view of an authorization.
type AuthorizationInfo struct {
	Status payments.IntentStatus
	Amount money.Money
}

type TransferRequest struct {
	AccountID      string
	Amount         money.Money
	TransactionID  string
	IdempotencyKey string
}

// ProcessorPayout is a payout from a connected account to its bank.
type ProcessorPayout struct {
	ID        string
	Status    string
	ArrivalAt *time.Time
}

// Processor is the server-side slice of the payment processor. Every
// mutating call takes an idempotency key so retries are safe.
type Processor interface {
	CreateAuthorization(ctx context.Context, req AuthorizationRequest) (payments.AuthorizationHandle, error)
	AuthorizationStatus(ctx context.Context, reference string) (AuthorizationInfo, error)
	Capture(ctx context.Context, reference, idempotencyKey string) error

	CreateConnectedAccount(ctx context.Context, email string) (string, error)
	AttachBankAccount(ctx context.Context, accountID, token string) error
	Transfer(ctx context.Context, req TransferRequest) (string, error)
	Payout(ctx context.Context, accountID string, amount money.Money, idempotencyKey string) (ProcessorPayout, error)
	ConnectedBalance(ctx context.Context, accountID string) (money.Money, error)
	PayoutStatus(ctx context.Context, accountID, payoutID string) (ProcessorPayout, error)
}

type Service struct {
	db       *sql.DB
	txns     transactions.Transactions
	sellers  sellers.Sellers
	payouts  payouts.Payouts
	proc     Processor
	notifier tracker.Notifier
	text     *bluemonday.Policy
}

type Option func(*Service)

// WithNotifier receives a Changed event after every committed transition.
func WithNotifier(n tracker.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func New(db *sql.DB, proc Processor, opts ...Option) *Service {
	s := &Service{
		db:       db,
		txns:     pgtransactions.New(db),
		sellers:  pgsellers.New(db),
		payouts:  pgpayouts.New(db),
		proc:     proc,
		notifier: tracker.LogNotifier{},
		text:     bluemonday.StrictPolicy(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Transaction returns a transaction visible to its buyer or seller. An
// unsettled transaction with an authorization is first reconciled with the
// processor, so an authorization the buyer's client never reported still
// reaches payment_held.
func (s *Service) Transaction(ctx context.Context, caller, id string) (payments.Transaction, error) {
	rec, err := s.txns.Get(ctx, id)
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}

	if caller != rec.BuyerID && caller != rec.SellerID {
		return payments.Transaction{}, ErrForbidden
	}

	if !awaitingAuthorization(rec) {
		return rec.Transaction, nil
	}

	out, err := s.syncAuthorization(ctx, rec)
	if err != nil {
		logging.FromContext(ctx).Warn("reconcile authorization on read", "transactionId", id, "err", err)

		return rec.Transaction, nil
	}

	return out, nil
}

func awaitingAuthorization(rec transactions.Record) bool {
	return rec.Authorization.Reference != "" &&
		(rec.Status == payments.StatusPending || rec.Status == payments.StatusProcessing)
}

// SellerShare is what the seller receives once funds are released: the
// bid amount minus the platform fee. The processing fee is paid by the
// buyer on top of the amount.
func SellerShare(tx payments.Transaction) money.Money {
	return tx.Amount.Sub(tx.Fees.Platform)
}

// changes collects transitions made inside a DB transaction so they are
// published only after commit.
type changes []step

type step struct{ from, to payments.Status }

func (s *Service) advance(ctx context.Context, tx *sql.Tx, c *changes, rec *transactions.Record, to payments.Status) error {
	err := s.txns.Advance(ctx, tx, rec.ID, to)
	if err != nil {
		return fmt.Errorf("advance %s -> %s: %w", rec.Status, to, err)
	}

	*c = append(*c, step{from: rec.Status, to: to})
	rec.Status = to

	return nil
}

func (s *Service) publish(ctx context.Context, id string, c changes) {
	if len(c) == 0 {
		return
	}

	after, err := s.txns.Get(ctx, id)
	if err != nil {
		logging.FromContext(ctx).Error("reload transaction for notification", "transactionId", id, "err", err)
		return
	}

	for i, st := range c {
		transitionsTotal.WithLabelValues(string(st.to)).Inc()

		ev := after.Transaction
		if i < len(c)-1 {
			ev.Status = st.to
		}

		s.notifier.Notify(ctx, tracker.Changed{Transaction: ev, Previous: st.from})
	}
}

func observe(op string, err error) error {
	result := "ok"
	if err != nil {
		result = "error"
	}

	processorCalls.WithLabelValues(op, result).Inc()

	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrProcessor, err)
	}

	return nil
}
