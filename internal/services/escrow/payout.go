package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/infra/pgutils"
	"github.com/fastprodman/farmpay/internal/repos/payouts"
	"github.com/fastprodman/farmpay/internal/repos/sellers"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/internal/services/tracker"
)

// ProcessPayout pays the seller's share of one transaction out to their
// bank. Held funds are released first; the payout variant is set once.
func (s *Service) ProcessPayout(ctx context.Context, caller, id string) (payments.Transaction, error) {
	rec, err := s.txns.Get(ctx, id)
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}

	if caller != rec.SellerID {
		return payments.Transaction{}, ErrForbidden
	}

	seller, err := s.payableSeller(ctx, caller)
	if err != nil {
		return payments.Transaction{}, err
	}

	if !rec.Status.AllowsPayout() {
		return payments.Transaction{}, fmt.Errorf("process payout: %w: %s", payments.ErrPayoutNotAllowed, rec.Status)
	}

	if rec.Payout.Requested() {
		return payments.Transaction{}, payments.ErrPayoutAlreadySet
	}

	if rec.Status == payments.StatusPaymentHeld {
		err = s.complete(ctx, &rec)
		if err != nil {
			return payments.Transaction{}, err
		}
	}

	if rec.TransferID == "" {
		err = s.transfer(ctx, &rec, seller.AccountID)
		if err != nil {
			return payments.Transaction{}, err
		}
	}

	share := SellerShare(rec.Transaction)

	po, err := s.proc.Payout(ctx, seller.AccountID, share, "payout-"+rec.ID)

	err = observe("payout", err)
	if err != nil {
		return payments.Transaction{}, err
	}

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := s.txns.SetPayout(ctx, tx, rec.ID, payments.PendingPayout(share, po.ID))
		if err != nil {
			return err
		}

		return s.payouts.Insert(ctx, tx, payouts.Payout{
			ID:            po.ID,
			SellerID:      seller.UserID,
			TransactionID: rec.ID,
			Amount:        share,
			Status:        payoutStatus(po.Status),
			ArrivalAt:     po.ArrivalAt,
		})
	})
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("record payout: %w", err)
	}

	logging.FromContext(ctx).Info("payout scheduled",
		"transactionId", rec.ID, "payoutId", po.ID, "amount", share.Minor())

	after, err := s.txns.Get(ctx, rec.ID)
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("reload transaction: %w", err)
	}

	s.notifier.Notify(ctx, tracker.Changed{Transaction: after.Transaction, Previous: after.Status})

	return after.Transaction, nil
}

// payableSeller loads the caller's seller record and enforces the
// bank-account precondition shared by every payout path.
func (s *Service) payableSeller(ctx context.Context, userID string) (sellers.Seller, error) {
	seller, err := s.sellers.Get(ctx, userID)
	if errors.Is(err, sellers.ErrSellerNotFound) {
		return sellers.Seller{}, payments.ErrConnectedAccountRequired
	}

	if err != nil {
		return sellers.Seller{}, fmt.Errorf("get seller: %w", err)
	}

	if !seller.BankAccountAdded {
		return sellers.Seller{}, payments.ErrBankAccountRequired
	}

	return seller, nil
}

// payoutStatus folds processor payout states into the three we store.
func payoutStatus(s string) string {
	switch s {
	case "paid", payments.TransferCompleted:
		return payments.TransferCompleted
	case "failed", "canceled":
		return payments.TransferFailed
	default:
		return payments.TransferPending
	}
}
