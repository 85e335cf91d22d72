package transactions

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/farmpay/internal/repos/transactions"
	"github.com/fastprodman/farmpay/internal/services/fees"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/pkg/money"
)

type Record = transactions.Record

func scanRecord(row *sql.Row, op string) (Record, error) {
	var (
		rec                                 Record
		amount, platform, processing, total int64
		status, payoutStatus                string
		paymentRef, paymentStatus           string
		payoutAmount                        int64
		payoutTransferID                    string
	)

	err := row.Scan(
		&rec.ID, &rec.SourceType, &rec.SourceID, &rec.BidID, &rec.BuyerID, &rec.SellerID,
		&amount, &platform, &processing, &total,
		&status, &rec.Authorization.Reference, &rec.Authorization.ClientSecret, &paymentRef, &paymentStatus,
		&rec.TransferID, &payoutStatus, &payoutAmount, &payoutTransferID,
		&rec.IdempotencyKey, &rec.RequestHash, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, transactions.ErrNotFound
	}

	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}

	rec.Status, err = payments.ParseStatus(status)
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}

	rec.Amount = money.FromMinor(amount)
	rec.Fees = fees.Fees{Platform: money.FromMinor(platform), Processing: money.FromMinor(processing)}
	rec.Total = money.FromMinor(total)

	if paymentRef != "" {
		rec.Payment = &payments.Payment{Reference: paymentRef, Status: paymentStatus}
	}

	rec.Payout = payments.PayoutState{
		Kind:       payments.PayoutKind(payoutStatus),
		Amount:     money.FromMinor(payoutAmount),
		TransferID: payoutTransferID,
	}.Normalized()

	return rec, nil
}
