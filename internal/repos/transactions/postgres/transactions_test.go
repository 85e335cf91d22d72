package transactions

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/fastprodman/farmpay/internal/infra/pgtestutil"
	"github.com/fastprodman/farmpay/internal/infra/pgutils"
	"github.com/fastprodman/farmpay/internal/repos/transactions"
	"github.com/fastprodman/farmpay/internal/services/fees"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/pkg/money"
	"github.com/google/uuid"
)

func newRecord(t *testing.T, sourceID, key string) Record {
	t.Helper()

	b, err := fees.Calculate(money.MustParse("100.00"))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	return Record{
		Transaction: payments.Transaction{
			ID:         uuid.NewString(),
			SourceType: payments.SourceAuction,
			SourceID:   sourceID,
			BuyerID:    "buyer-1",
			SellerID:   "seller-1",
			Amount:     b.Subtotal,
			Fees:       b.Fees,
			Total:      b.Total,
			Status:     payments.StatusPending,
		},
		IdempotencyKey: key,
		RequestHash:    "hash-" + key,
	}
}

func insert(t *testing.T, db *sql.DB, repo *transactionsRepo, rec Record) error {
	t.Helper()

	return pgutils.WithTx(t.Context(), db, func(tx *sql.Tx) error {
		return repo.Insert(t.Context(), tx, rec)
	})
}

func TestTransactions_Insert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seed    func(t *testing.T, db *sql.DB, repo *transactionsRepo)
		rec     func(t *testing.T) Record
		wantErr error
	}{
		{
			name:    "ok_insert",
			rec:     func(t *testing.T) Record { return newRecord(t, "auction-1", "k1") },
			wantErr: nil,
		},
		{
			name: "duplicate_idempotency_key",
			seed: func(t *testing.T, db *sql.DB, repo *transactionsRepo) {
				err := insert(t, db, repo, newRecord(t, "auction-2", "dup"))
				if err != nil {
					t.Fatalf("seed: %v", err)
				}
			},
			rec:     func(t *testing.T) Record { return newRecord(t, "auction-3", "dup") },
			wantErr: transactions.ErrDuplicateTransaction,
		},
		{
			name: "source_already_open",
			seed: func(t *testing.T, db *sql.DB, repo *transactionsRepo) {
				err := insert(t, db, repo, newRecord(t, "auction-4", "k4"))
				if err != nil {
					t.Fatalf("seed: %v", err)
				}
			},
			rec:     func(t *testing.T) Record { return newRecord(t, "auction-4", "k5") },
			wantErr: transactions.ErrSourceInUse,
		},
		{
			name: "total_check_constraint",
			rec: func(t *testing.T) Record {
				r := newRecord(t, "auction-6", "k6")
				r.Total++

				return r
			},
			wantErr: errors.New("check violation"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, cleanup := pgtestutil.NewTestDB(t)
			defer cleanup()

			repo := New(db)

			if tt.seed != nil {
				tt.seed(t, db, repo)
			}

			err := insert(t, db, repo, tt.rec(t))

			switch {
			case tt.wantErr == nil:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			case errors.Is(tt.wantErr, transactions.ErrDuplicateTransaction), errors.Is(tt.wantErr, transactions.ErrSourceInUse):
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
			default:
				if err == nil {
					t.Fatalf("expected an error")
				}
			}
		})
	}
}

func TestTransactions_AdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)
	rec := newRecord(t, "auction-10", "k10")

	err := insert(t, db, repo, rec)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	advance := func(to payments.Status) error {
		return pgutils.WithTx(t.Context(), db, func(tx *sql.Tx) error {
			return repo.Advance(t.Context(), tx, rec.ID, to)
		})
	}

	for _, s := range []payments.Status{payments.StatusProcessing, payments.StatusPaymentHeld, payments.StatusCompleted} {
		err = advance(s)
		if err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}

	err = advance(payments.StatusPaymentHeld)
	if !errors.Is(err, payments.ErrInvalidTransition) {
		t.Fatalf("completed -> payment_held: want ErrInvalidTransition, got %v", err)
	}

	err = advance(payments.StatusFailed)
	if !errors.Is(err, payments.ErrInvalidTransition) {
		t.Fatalf("completed -> failed: want ErrInvalidTransition, got %v", err)
	}

	got, err := repo.Get(t.Context(), rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.Status != payments.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}

	err = pgutils.WithTx(t.Context(), db, func(tx *sql.Tx) error {
		return repo.Advance(t.Context(), tx, uuid.NewString(), payments.StatusProcessing)
	})
	if !errors.Is(err, transactions.ErrNotFound) {
		t.Fatalf("unknown id: want ErrNotFound, got %v", err)
	}
}

func TestTransactions_PayoutSetOnce(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)
	rec := newRecord(t, "contract-1", "k20")
	ctx := context.Background()

	err := insert(t, db, repo, rec)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	setPayout := func() error {
		return pgutils.WithTx(ctx, db, func(tx *sql.Tx) error {
			return repo.SetPayout(ctx, tx, rec.ID, payments.PendingPayout(money.MustParse("95.00"), "po_1"))
		})
	}

	err = setPayout()
	if !errors.Is(err, payments.ErrPayoutAlreadySet) {
		t.Fatalf("payout while pending must be refused, got %v", err)
	}

	err = pgutils.WithTx(ctx, db, func(tx *sql.Tx) error {
		return repo.Advance(ctx, tx, rec.ID, payments.StatusPaymentHeld)
	})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	err = setPayout()
	if err != nil {
		t.Fatalf("first payout: %v", err)
	}

	err = setPayout()
	if !errors.Is(err, payments.ErrPayoutAlreadySet) {
		t.Fatalf("second payout: want ErrPayoutAlreadySet, got %v", err)
	}

	got, err := repo.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.Payout.Kind != payments.PayoutPending || got.Payout.TransferID != "po_1" {
		t.Fatalf("payout = %+v", got.Payout)
	}

	err = repo.CompletePayout(ctx, "po_1")
	if err != nil {
		t.Fatalf("complete payout: %v", err)
	}

	got, err = repo.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.Payout.Kind != payments.PayoutCompleted {
		t.Fatalf("payout kind = %s, want completed", got.Payout.Kind)
	}

	err = got.Verify()
	if err != nil {
		t.Fatalf("stored transaction fails Verify: %v", err)
	}
}

func TestTransactions_Lookups(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)
	rec := newRecord(t, "auction-30", "k30")

	err := insert(t, db, repo, rec)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	byKey, err := repo.GetByIdempotencyKey(t.Context(), "k30")
	if err != nil || byKey.ID != rec.ID {
		t.Fatalf("by key = %v, %v", byKey.ID, err)
	}

	bySource, err := repo.GetOpenBySource(t.Context(), payments.SourceAuction, "auction-30")
	if err != nil || bySource.ID != rec.ID {
		t.Fatalf("by source = %v, %v", bySource.ID, err)
	}

	_, err = repo.Get(t.Context(), uuid.NewString())
	if !errors.Is(err, transactions.ErrNotFound) {
		t.Fatalf("missing: want ErrNotFound, got %v", err)
	}
}
