// Package checkout turns a buyer's intent to pay into a captured
// authorization: the Initiator opens one transaction per funding source and
// the Flow drives the processor authorization to a settled state.
package checkout

import (
	"context"
	"errors"

	"github.com/fastprodman/farmpay/internal/services/payments"
)

var (
	ErrNoHandle        = errors.New("no authorization handle")
	ErrConfirmInFlight = errors.New("confirmation already in flight")
	ErrNoInstrument    = errors.New("no payment instrument supplied")
	ErrInvalidRequest  = errors.New("invalid payment request")

	// ErrConfirmationUnreported means the processor accepted the
	// authorization but the backend has not recorded it yet.
	ErrConfirmationUnreported = errors.New("authorization not recorded by the backend")
)

// Backend is the subset of the REST surface the checkout needs.
type Backend interface {
	CreateTransaction(
		ctx context.Context,
		sourceType payments.SourceType,
		req payments.InitiateRequest,
		idempotencyKey string,
	) (payments.InitiateResponse, error)
	ReportConfirmation(ctx context.Context, transactionID string, req payments.ConfirmationRequest) (payments.Transaction, error)
}

// Card is a tokenized card collected by a capture widget. Raw numbers never
// pass through this package.
type Card struct {
	Token string
}

// Instrument is either an existing payment method or a freshly collected
// card; exactly one must be set.
type Instrument struct {
	MethodID string
	Card     *Card
}

func (i Instrument) valid() bool {
	return (i.MethodID != "") != (i.Card != nil && i.Card.Token != "")
}

// Confirmation is the processor's answer to a confirm or retrieve call.
type Confirmation struct {
	Status    payments.IntentStatus
	Reference string
}

// Processor is the client-side half of the payment processor.
type Processor interface {
	CreatePaymentMethod(ctx context.Context, card Card) (string, error)
	Confirm(ctx context.Context, handle payments.AuthorizationHandle, methodID string) (Confirmation, error)
	Retrieve(ctx context.Context, handle payments.AuthorizationHandle) (Confirmation, error)
}
