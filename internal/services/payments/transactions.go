package payments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fastprodman/farmpay/internal/services/fees"
	"github.com/fastprodman/farmpay/pkg/money"
)

type SourceType string

const (
	SourceAuction  SourceType = "auction"
	SourceContract SourceType = "contract"
)

// ParseSourceType accepts the path/CLI spelling of a funding source.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(strings.ToLower(strings.TrimSpace(s))) {
	case SourceAuction:
		return SourceAuction, nil
	case SourceContract:
		return SourceContract, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSourceType, s)
	}
}

// Payment is the processor-side reference attached once confirmation
// succeeds.
type Payment struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Transaction is the backend-tracked record of a buyer paying for an
// auction win or a contract fulfillment.
type Transaction struct {
	ID         string      `json:"id"`
	SourceType SourceType  `json:"sourceType"`
	SourceID   string      `json:"sourceId"`
	BidID      string      `json:"bidId,omitempty"`
	BuyerID    string      `json:"buyerId"`
	SellerID   string      `json:"sellerId"`
	Amount     money.Money `json:"amount"`
	Fees       fees.Fees   `json:"fees"`
	Total      money.Money `json:"total"`
	Status     Status      `json:"status"`
	Payment    *Payment    `json:"payment,omitempty"`
	Payout     PayoutState `json:"payout"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

var (
	ErrInvalidSourceType  = errors.New("invalid source type")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrPayoutNotAllowed   = errors.New("payout not allowed in current status")
	ErrPayoutAlreadySet   = errors.New("payout already requested")
	ErrTransactionInvalid = errors.New("transaction invariant violated")
	ErrIdempotencyReused  = errors.New("idempotency key reused with a different request")
	ErrSourceInUse        = errors.New("funding source already has an open transaction")
	ErrInsufficientFunds  = errors.New("insufficient funds")
)

// Verify checks that the fees and total carried by t are exactly what the
// fee calculator derives from t.Amount.
func (t Transaction) Verify() error {
	err := fees.Verify(t.Amount, t.Fees, t.Total)
	if err != nil {
		return fmt.Errorf("transaction %s: %w", t.ID, err)
	}

	if t.Payout.Requested() && !t.Status.AllowsPayout() {
		return fmt.Errorf("transaction %s: %w: payout set in status %s", t.ID, ErrTransactionInvalid, t.Status)
	}

	return nil
}

// Advance moves t to the next status, enforcing monotonicity.
func (t *Transaction) Advance(to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	t.Status = to

	return nil
}

// RequestPayout sets the payout variant. It can happen once, and only after
// funds are held.
func (t *Transaction) RequestPayout(p PayoutState) error {
	if !t.Status.AllowsPayout() {
		return fmt.Errorf("%w: %s", ErrPayoutNotAllowed, t.Status)
	}

	if t.Payout.Requested() {
		return ErrPayoutAlreadySet
	}

	t.Payout = p

	return nil
}
