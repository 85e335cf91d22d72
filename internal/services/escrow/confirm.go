package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/infra/pgutils"
	"github.com/fastprodman/farmpay/internal/repos/sellers"
	"github.com/fastprodman/farmpay/internal/repos/transactions"
	"github.com/fastprodman/farmpay/internal/services/payments"
)

// RecordConfirmation reconciles a transaction with the processor after the
// buyer confirmed the authorization. The processor's answer, not the
// client's, decides the new status.
func (s *Service) RecordConfirmation(ctx context.Context, caller, id string, req payments.ConfirmationRequest) (payments.Transaction, error) {
	rec, err := s.txns.Get(ctx, id)
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}

	if caller != rec.BuyerID {
		return payments.Transaction{}, ErrForbidden
	}

	if req.Reference == "" || req.Reference != rec.Authorization.Reference {
		return payments.Transaction{}, fmt.Errorf("%w: reference does not match the transaction", ErrInvalidRequest)
	}

	if rec.Status.AllowsPayout() {
		return rec.Transaction, nil
	}

	if rec.Status.Terminal() {
		return payments.Transaction{}, fmt.Errorf("confirm %s: %w", rec.Status, payments.ErrInvalidTransition)
	}

	out, err := s.syncAuthorization(ctx, rec)
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("record confirmation: %w", err)
	}

	return out, nil
}

// syncAuthorization applies the processor's current view of rec's
// authorization and returns the stored result.
func (s *Service) syncAuthorization(ctx context.Context, rec transactions.Record) (payments.Transaction, error) {
	info, err := s.proc.AuthorizationStatus(ctx, rec.Authorization.Reference)

	err = observe("authorization status", err)
	if err != nil {
		return payments.Transaction{}, err
	}

	var c changes

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		locked, err := s.txns.LockByID(ctx, tx, rec.ID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}

		return s.reconcile(ctx, tx, &c, &locked, info)
	})
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("reconcile authorization: %w", err)
	}

	s.publish(ctx, rec.ID, c)

	return s.reload(ctx, rec.ID)
}

func (s *Service) reconcile(ctx context.Context, tx *sql.Tx, c *changes, rec *transactions.Record, info AuthorizationInfo) error {
	if rec.Status.AllowsPayout() || rec.Status.Terminal() {
		return nil
	}

	switch {
	case info.Status.Authorized():
		if info.Amount != rec.Total {
			logging.FromContext(ctx).Error("authorized amount differs from total",
				"transactionId", rec.ID, "authorized", info.Amount.Minor(), "total", rec.Total.Minor())

			return s.advance(ctx, tx, c, rec, payments.StatusFailed)
		}

		if rec.Status == payments.StatusPending {
			err := s.advance(ctx, tx, c, rec, payments.StatusProcessing)
			if err != nil {
				return err
			}
		}

		err := s.txns.SetPayment(ctx, tx, rec.ID, payments.Payment{
			Reference: rec.Authorization.Reference,
			Status:    string(info.Status),
		})
		if err != nil {
			return err
		}

		return s.advance(ctx, tx, c, rec, payments.StatusPaymentHeld)

	case info.Status.NeedsAuthentication(), info.Status == payments.IntentRequiresConfirmation:
		if rec.Status == payments.StatusPending {
			return s.advance(ctx, tx, c, rec, payments.StatusProcessing)
		}

		return nil

	case info.Status == payments.IntentCanceled:
		return s.advance(ctx, tx, c, rec, payments.StatusFailed)

	default:
		// requires_payment_method: the buyer retries with another instrument
		return nil
	}
}

// ConfirmDelivery is the buyer's release of held funds: the authorization
// is captured, the transaction completes, and the seller's share moves to
// their connected account when they have one.
func (s *Service) ConfirmDelivery(ctx context.Context, caller, id string) (payments.Transaction, error) {
	rec, err := s.txns.Get(ctx, id)
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}

	if caller != rec.BuyerID {
		return payments.Transaction{}, ErrForbidden
	}

	if rec.Status != payments.StatusCompleted {
		err = s.complete(ctx, &rec)
		if err != nil {
			return payments.Transaction{}, err
		}
	}

	if rec.TransferID == "" {
		seller, err := s.sellers.Get(ctx, rec.SellerID)

		switch {
		case errors.Is(err, sellers.ErrSellerNotFound):
			// transferred when the seller processes the payout
		case err != nil:
			logging.FromContext(ctx).Error("load seller for transfer", "sellerId", rec.SellerID, "err", err)
		default:
			err = s.transfer(ctx, &rec, seller.AccountID)
			if err != nil {
				logging.FromContext(ctx).Error("transfer seller share", "transactionId", rec.ID, "err", err)
			}
		}
	}

	return s.reload(ctx, id)
}

// complete captures a held authorization and moves the transaction to
// completed.
func (s *Service) complete(ctx context.Context, rec *transactions.Record) error {
	if rec.Status != payments.StatusPaymentHeld {
		return fmt.Errorf("release funds in status %s: %w", rec.Status, payments.ErrInvalidTransition)
	}

	err := observe("capture", s.proc.Capture(ctx, rec.Authorization.Reference, "capture-"+rec.ID))
	if err != nil {
		return err
	}

	var c changes

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		locked, err := s.txns.LockByID(ctx, tx, rec.ID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}

		if locked.Status == payments.StatusCompleted {
			return nil
		}

		err = s.txns.SetPayment(ctx, tx, rec.ID, payments.Payment{
			Reference: rec.Authorization.Reference,
			Status:    string(payments.IntentSucceeded),
		})
		if err != nil {
			return err
		}

		return s.advance(ctx, tx, &c, &locked, payments.StatusCompleted)
	})
	if err != nil {
		return fmt.Errorf("complete transaction: %w", err)
	}

	s.publish(ctx, rec.ID, c)
	rec.Status = payments.StatusCompleted

	return nil
}

func (s *Service) transfer(ctx context.Context, rec *transactions.Record, accountID string) error {
	transferID, err := s.proc.Transfer(ctx, TransferRequest{
		AccountID:      accountID,
		Amount:         SellerShare(rec.Transaction),
		TransactionID:  rec.ID,
		IdempotencyKey: "transfer-" + rec.ID,
	})

	err = observe("transfer", err)
	if err != nil {
		return err
	}

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.txns.SetTransfer(ctx, tx, rec.ID, transferID)
	})
	if err != nil && !errors.Is(err, transactions.ErrNotFound) {
		return fmt.Errorf("store transfer: %w", err)
	}

	rec.TransferID = transferID

	return nil
}

func (s *Service) reload(ctx context.Context, id string) (payments.Transaction, error) {
	rec, err := s.txns.Get(ctx, id)
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("reload transaction: %w", err)
	}

	return rec.Transaction, nil
}
