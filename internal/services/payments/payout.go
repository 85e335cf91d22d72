package payments

import (
	"errors"
	"time"

	"github.com/fastprodman/farmpay/pkg/money"
)

type PayoutKind string

const (
	PayoutNotRequested PayoutKind = "not_requested"
	PayoutPending      PayoutKind = "pending"
	PayoutCompleted    PayoutKind = "completed"
)

// PayoutState is the payout sub-record of a transaction. The zero value is
// "not requested"; Amount and TransferID are meaningful only otherwise.
type PayoutState struct {
	Kind       PayoutKind  `json:"status"`
	Amount     money.Money `json:"amount,omitempty"`
	TransferID string      `json:"transferId,omitempty"`
}

func NotRequested() PayoutState {
	return PayoutState{Kind: PayoutNotRequested}
}

func PendingPayout(amount money.Money, transferID string) PayoutState {
	return PayoutState{Kind: PayoutPending, Amount: amount, TransferID: transferID}
}

func (p PayoutState) Requested() bool {
	return p.Kind == PayoutPending || p.Kind == PayoutCompleted
}

// Normalized maps the zero value to an explicit "not requested".
func (p PayoutState) Normalized() PayoutState {
	if p.Kind == "" {
		return NotRequested()
	}

	return p
}

// Transfer is a payout from a seller's connected account to their bank.
type Transfer struct {
	ID            string      `json:"id"`
	TransactionID string      `json:"transactionId,omitempty"`
	Amount        money.Money `json:"amount"`
	Status        string      `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
	ArrivalAt     *time.Time  `json:"arrivalAt,omitempty"`
}

const (
	TransferPending   = "pending"
	TransferCompleted = "completed"
	TransferFailed    = "failed"
)

// Seller preconditions; the API reports them as 409 with a stable code.
var (
	ErrConnectedAccountRequired = errors.New("connected account required")
	ErrBankAccountRequired      = errors.New("bank account required")
)
