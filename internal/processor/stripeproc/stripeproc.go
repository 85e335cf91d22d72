// Package stripeproc adapts Stripe to the processor interfaces used by the
// checkout flow and the escrow service. Authorizations use manual capture;
// seller funds move through Connect accounts.
package stripeproc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fastprodman/farmpay/internal/services/checkout"
	"github.com/fastprodman/farmpay/internal/services/escrow"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/pkg/money"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

var (
	_ escrow.Processor   = (*Processor)(nil)
	_ checkout.Processor = (*Processor)(nil)
)

var ErrNoBalance = errors.New("no balance in configured currency")

type Config struct {
	SecretKey string
	Currency  string
	// BaseURL overrides the Stripe API endpoint (stripe-mock, tests).
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int64
}

type Processor struct {
	api      *client.API
	currency string
}

func New(cfg Config) *Processor {
	currency := cfg.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	retries := cfg.MaxRetries

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: &retries,
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}

	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}

	return &Processor{
		api:      client.New(cfg.SecretKey, backends),
		currency: currency,
	}
}

func (p *Processor) CreateAuthorization(ctx context.Context, req escrow.AuthorizationRequest) (payments.AuthorizationHandle, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount.Minor()),
		Currency:      stripe.String(p.currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("transaction_id", req.TransactionID)

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return payments.AuthorizationHandle{}, fmt.Errorf("create payment intent: %w", err)
	}

	return payments.AuthorizationHandle{Reference: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (p *Processor) AuthorizationStatus(ctx context.Context, reference string) (escrow.AuthorizationInfo, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Get(reference, params)
	if err != nil {
		return escrow.AuthorizationInfo{}, fmt.Errorf("get payment intent: %w", err)
	}

	return escrow.AuthorizationInfo{
		Status: payments.IntentStatus(pi.Status),
		Amount: money.FromMinor(pi.Amount),
	}, nil
}

func (p *Processor) Capture(ctx context.Context, reference, idempotencyKey string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	_, err := p.api.PaymentIntents.Capture(reference, params)
	if err != nil {
		return fmt.Errorf("capture payment intent: %w", err)
	}

	return nil
}

func (p *Processor) CreatePaymentMethod(ctx context.Context, card checkout.Card) (string, error) {
	params := &stripe.PaymentMethodParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		Card: &stripe.PaymentMethodCardParams{Token: stripe.String(card.Token)},
	}
	params.Context = ctx

	pm, err := p.api.PaymentMethods.New(params)
	if err != nil {
		return "", fmt.Errorf("create payment method: %w", err)
	}

	return pm.ID, nil
}

func (p *Processor) Confirm(ctx context.Context, handle payments.AuthorizationHandle, methodID string) (checkout.Confirmation, error) {
	params := &stripe.PaymentIntentConfirmParams{PaymentMethod: stripe.String(methodID)}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Confirm(handle.Reference, params)
	if err != nil {
		return checkout.Confirmation{}, fmt.Errorf("confirm payment intent: %w", err)
	}

	return checkout.Confirmation{Status: payments.IntentStatus(pi.Status), Reference: pi.ID}, nil
}

func (p *Processor) Retrieve(ctx context.Context, handle payments.AuthorizationHandle) (checkout.Confirmation, error) {
	info, err := p.AuthorizationStatus(ctx, handle.Reference)
	if err != nil {
		return checkout.Confirmation{}, err
	}

	return checkout.Confirmation{Status: info.Status, Reference: handle.Reference}, nil
}

func (p *Processor) CreateConnectedAccount(ctx context.Context, email string) (string, error) {
	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx

	acct, err := p.api.Accounts.New(params)
	if err != nil {
		return "", fmt.Errorf("create connected account: %w", err)
	}

	return acct.ID, nil
}

func (p *Processor) AttachBankAccount(ctx context.Context, accountID, token string) error {
	params := &stripe.BankAccountParams{
		Account: stripe.String(accountID),
		Token:   stripe.String(token),
	}
	params.Context = ctx

	_, err := p.api.BankAccounts.New(params)
	if err != nil {
		return fmt.Errorf("attach bank account: %w", err)
	}

	return nil
}

func (p *Processor) Transfer(ctx context.Context, req escrow.TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.Amount.Minor()),
		Currency:      stripe.String(p.currency),
		Destination:   stripe.String(req.AccountID),
		TransferGroup: stripe.String(req.TransactionID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	tr, err := p.api.Transfers.New(params)
	if err != nil {
		return "", fmt.Errorf("create transfer: %w", err)
	}

	return tr.ID, nil
}

func (p *Processor) Payout(ctx context.Context, accountID string, amount money.Money, idempotencyKey string) (escrow.ProcessorPayout, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(amount.Minor()),
		Currency: stripe.String(p.currency),
	}
	params.Context = ctx
	params.SetStripeAccount(accountID)
	params.SetIdempotencyKey(idempotencyKey)

	po, err := p.api.Payouts.New(params)
	if err != nil {
		return escrow.ProcessorPayout{}, fmt.Errorf("create payout: %w", err)
	}

	return payoutOf(po), nil
}

func (p *Processor) PayoutStatus(ctx context.Context, accountID, payoutID string) (escrow.ProcessorPayout, error) {
	params := &stripe.PayoutParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	po, err := p.api.Payouts.Get(payoutID, params)
	if err != nil {
		return escrow.ProcessorPayout{}, fmt.Errorf("get payout: %w", err)
	}

	return payoutOf(po), nil
}

func (p *Processor) ConnectedBalance(ctx context.Context, accountID string) (money.Money, error) {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	bal, err := p.api.Balance.Get(params)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}

	for _, a := range bal.Available {
		if string(a.Currency) == p.currency {
			return money.FromMinor(a.Amount), nil
		}
	}

	if len(bal.Available) == 0 {
		return 0, nil
	}

	return 0, fmt.Errorf("get balance: %w: %s", ErrNoBalance, p.currency)
}

func payoutOf(po *stripe.Payout) escrow.ProcessorPayout {
	out := escrow.ProcessorPayout{ID: po.ID, Status: string(po.Status)}

	if po.ArrivalDate > 0 {
		at := time.Unix(po.ArrivalDate, 0).UTC()
		out.ArrivalAt = &at
	}

	return out
}
