package escrow

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/infra/pgutils"
	"github.com/fastprodman/farmpay/internal/repos/transactions"
	"github.com/fastprodman/farmpay/internal/services/fees"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/google/uuid"
)

// Open creates the transaction for a won auction or accepted contract and
// a manual-capture authorization for its total.
//
// Replaying the same idempotency key with the same body returns the
// original transaction; a different body fails with
// payments.ErrIdempotencyReused. A source that already has a live
// transaction for the same buyer and amount returns that transaction.
func (s *Service) Open(
	ctx context.Context,
	caller string,
	sourceType payments.SourceType,
	req payments.InitiateRequest,
	idempotencyKey string,
) (payments.InitiateResponse, error) {
	if req.BuyerID == "" {
		req.BuyerID = caller
	}

	err := validateOpen(caller, sourceType, req, idempotencyKey)
	if err != nil {
		return payments.InitiateResponse{}, err
	}

	quote, err := fees.Calculate(req.Amount)
	if err != nil {
		return payments.InitiateResponse{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	hash, err := requestHash(sourceType, req)
	if err != nil {
		return payments.InitiateResponse{}, err
	}

	existing, err := s.replay(ctx, sourceType, req, idempotencyKey, hash)
	if err == nil {
		return s.ensureAuthorization(ctx, existing)
	}

	if !errors.Is(err, transactions.ErrNotFound) {
		return payments.InitiateResponse{}, err
	}

	rec := transactions.Record{
		Transaction: payments.Transaction{
			ID:         uuid.NewString(),
			SourceType: sourceType,
			SourceID:   req.SourceID,
			BidID:      req.BidID,
			BuyerID:    req.BuyerID,
			SellerID:   req.SellerID,
			Amount:     quote.Subtotal,
			Fees:       quote.Fees,
			Total:      quote.Total,
			Status:     payments.StatusPending,
			Payout:     payments.NotRequested(),
		},
		IdempotencyKey: idempotencyKey,
		RequestHash:    hash,
	}

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.txns.Insert(ctx, tx, rec)
	})
	if errors.Is(err, transactions.ErrDuplicateTransaction) || errors.Is(err, transactions.ErrSourceInUse) {
		// lost a race with a concurrent identical request
		existing, rerr := s.replay(ctx, sourceType, req, idempotencyKey, hash)
		if errors.Is(rerr, transactions.ErrNotFound) {
			rerr = err
		}

		if rerr != nil {
			return payments.InitiateResponse{}, fmt.Errorf("open transaction: %w", rerr)
		}

		return s.ensureAuthorization(ctx, existing)
	}

	if err != nil {
		return payments.InitiateResponse{}, fmt.Errorf("open transaction: %w", err)
	}

	transitionsTotal.WithLabelValues(string(payments.StatusPending)).Inc()
	logging.FromContext(ctx).Info("transaction opened",
		"transactionId", rec.ID, "sourceType", sourceType, "sourceId", req.SourceID, "total", rec.Total.Minor())

	return s.ensureAuthorization(ctx, rec)
}

// replay finds the transaction an equivalent earlier request created.
// It returns transactions.ErrNotFound when there is none.
func (s *Service) replay(
	ctx context.Context,
	sourceType payments.SourceType,
	req payments.InitiateRequest,
	key, hash string,
) (transactions.Record, error) {
	rec, err := s.txns.GetByIdempotencyKey(ctx, key)
	if err == nil {
		if rec.RequestHash != hash {
			return transactions.Record{}, payments.ErrIdempotencyReused
		}

		return rec, nil
	}

	if !errors.Is(err, transactions.ErrNotFound) {
		return transactions.Record{}, fmt.Errorf("lookup idempotency key: %w", err)
	}

	rec, err = s.txns.GetOpenBySource(ctx, sourceType, req.SourceID)
	if errors.Is(err, transactions.ErrNotFound) {
		return transactions.Record{}, err
	}

	if err != nil {
		return transactions.Record{}, fmt.Errorf("lookup open transaction: %w", err)
	}

	if rec.BuyerID != req.BuyerID || rec.Amount != req.Amount || rec.SellerID != req.SellerID {
		return transactions.Record{}, transactions.ErrSourceInUse
	}

	return rec, nil
}

// ensureAuthorization creates the processor authorization for rec unless
// it already has one. A processor failure fails the transaction so the
// source can be paid through a fresh one.
func (s *Service) ensureAuthorization(ctx context.Context, rec transactions.Record) (payments.InitiateResponse, error) {
	if !rec.Authorization.Empty() || rec.Status != payments.StatusPending {
		return payments.InitiateResponse{Transaction: rec.Transaction, Authorization: rec.Authorization}, nil
	}

	handle, err := s.proc.CreateAuthorization(ctx, AuthorizationRequest{
		TransactionID:  rec.ID,
		Amount:         rec.Total,
		IdempotencyKey: "authorize-" + rec.ID,
	})

	err = observe("create authorization", err)
	if err != nil {
		var c changes

		ferr := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			return s.advance(ctx, tx, &c, &rec, payments.StatusFailed)
		})
		if ferr != nil {
			logging.FromContext(ctx).Error("fail transaction after authorization error", "transactionId", rec.ID, "err", ferr)
		}

		s.publish(ctx, rec.ID, c)

		return payments.InitiateResponse{}, err
	}

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.txns.SetAuthorization(ctx, tx, rec.ID, handle)
	})
	if err != nil {
		return payments.InitiateResponse{}, fmt.Errorf("store authorization: %w", err)
	}

	return payments.InitiateResponse{Transaction: rec.Transaction, Authorization: handle}, nil
}

func validateOpen(caller string, sourceType payments.SourceType, req payments.InitiateRequest, key string) error {
	switch {
	case caller == "":
		return ErrForbidden
	case req.BuyerID != caller:
		return fmt.Errorf("%w: buyer must be the caller", ErrForbidden)
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: missing idempotency key", ErrInvalidRequest)
	case strings.TrimSpace(req.SourceID) == "":
		return fmt.Errorf("%w: missing source id", ErrInvalidRequest)
	case strings.TrimSpace(req.SellerID) == "":
		return fmt.Errorf("%w: missing seller id", ErrInvalidRequest)
	case req.SellerID == req.BuyerID:
		return fmt.Errorf("%w: buyer and seller must differ", ErrInvalidRequest)
	case req.Amount.Minor() <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	_, err := payments.ParseSourceType(string(sourceType))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	return nil
}

func requestHash(sourceType payments.SourceType, req payments.InitiateRequest) (string, error) {
	body, err := json.Marshal(struct {
		SourceType payments.SourceType `json:"sourceType"`
		payments.InitiateRequest
	}{sourceType, req})
	if err != nil {
		return "", fmt.Errorf("hash request: %w", err)
	}

	sum := sha256.Sum256(body)

	return hex.EncodeToString(sum[:]), nil
}
