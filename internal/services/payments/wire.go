package payments

import (
	"time"

	"github.com/fastprodman/farmpay/pkg/money"
)

// Request and response bodies shared by the HTTP API and its client.

type InitiateRequest struct {
	SourceID string      `json:"sourceId"`
	BidID    string      `json:"bidId,omitempty"`
	BuyerID  string      `json:"buyerId"`
	SellerID string      `json:"sellerId"`
	Amount   money.Money `json:"amount"`
}

// AuthorizationHandle identifies a processor-side payment that has been
// created with manual capture but not yet confirmed.
type AuthorizationHandle struct {
	Reference    string `json:"reference"`
	ClientSecret string `json:"clientSecret"`
}

func (h AuthorizationHandle) Empty() bool {
	return h.Reference == ""
}

type InitiateResponse struct {
	Transaction   Transaction         `json:"transaction"`
	Authorization AuthorizationHandle `json:"authorization"`
}

type ConfirmationRequest struct {
	Reference string `json:"reference"`
}

type Account struct {
	AccountID        string `json:"accountId"`
	BankAccountAdded bool   `json:"bankAccountAdded"`
}

type CreateAccountRequest struct {
	Email string `json:"email"`
}

// BankAccountRequest carries a processor token for the bank account; raw
// account numbers never reach this service.
type BankAccountRequest struct {
	Token             string `json:"token"`
	AccountHolderName string `json:"accountHolderName"`
}

type PayoutRecord struct {
	Amount money.Money `json:"amount"`
	Date   time.Time   `json:"date"`
}

type Balance struct {
	Available     money.Money    `json:"available"`
	PayoutHistory []PayoutRecord `json:"payoutHistory"`
}

type Transfers struct {
	Completed []Transfer `json:"completed"`
	Pending   []Transfer `json:"pending"`
}

type PayoutRequest struct {
	Amount money.Money `json:"amount"`
}

// ErrorBody is the JSON error envelope. Code is stable and machine
// readable; Error is for humans.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

const (
	CodeConnectedAccountRequired = "connected_account_required"
	CodeBankAccountRequired      = "bank_account_required"
	CodeFeeMismatch              = "fee_mismatch"
	CodeInvalidTransition        = "invalid_transition"
	CodePayoutAlreadyRequested   = "payout_already_requested"
	CodeIdempotencyMismatch      = "idempotency_mismatch"
	CodeSourceInUse              = "source_in_use"
	CodeRateLimited              = "rate_limited"
	CodeNotFound                 = "not_found"
	CodeForbidden                = "forbidden"
	CodeUnauthorized             = "unauthorized"
	CodeBadRequest               = "bad_request"
	CodeInsufficientFunds        = "insufficient_funds"
	CodeProcessor                = "processor_error"
	CodeInternal                 = "internal"
)
