package payouts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/pkg/money"
)

var (
	ErrDuplicatePayout = errors.New("duplicate payout")
	ErrPayoutNotFound  = errors.New("payout not found")
)

// Payout mirrors a processor payout from a seller's connected account.
// TransactionID is empty for balance payouts not tied to a transaction.
type Payout struct {
	ID            string
	SellerID      string
	TransactionID string
	Amount        money.Money
	Status        string
	ArrivalAt     *time.Time
	CreatedAt     time.Time
}

func (p Payout) Transfer() payments.Transfer {
	return payments.Transfer{
		ID:            p.ID,
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
		Status:        p.Status,
		CreatedAt:     p.CreatedAt,
		ArrivalAt:     p.ArrivalAt,
	}
}

type Payouts interface {
	Insert(ctx context.Context, tx *sql.Tx, p Payout) error
	// ListBySeller returns newest first.
	ListBySeller(ctx context.Context, sellerID string) ([]Payout, error)
	UpdateStatus(ctx context.Context, id, status string, arrivalAt *time.Time) error
}
