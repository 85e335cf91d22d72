package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/patrickmn/go-cache"
)

// IdempotencyHeader carries the client-generated key that makes
// transaction creation safe to retry.
const IdempotencyHeader = "Idempotency-Key"

// CreateTransaction opens a transaction and its authorization.
func (c *Client) CreateTransaction(
	ctx context.Context,
	sourceType payments.SourceType,
	req payments.InitiateRequest,
	idempotencyKey string,
) (payments.InitiateResponse, error) {
	h := http.Header{}
	if idempotencyKey != "" {
		h.Set(IdempotencyHeader, idempotencyKey)
	}

	var resp payments.InitiateResponse

	err := c.do(ctx, http.MethodPost, "/transactions/"+url.PathEscape(string(sourceType)), req, &resp, h)
	if err != nil {
		return payments.InitiateResponse{}, err
	}

	return resp, nil
}

// GetTransaction reads a transaction, serving recent reads from memory.
func (c *Client) GetTransaction(ctx context.Context, id string) (payments.Transaction, error) {
	if c.txCache != nil {
		if v, ok := c.txCache.Get(id); ok {
			if tx, ok := v.(payments.Transaction); ok {
				return tx, nil
			}
		}
	}

	var tx payments.Transaction

	err := c.do(ctx, http.MethodGet, txPath(id), nil, &tx, nil)
	if err != nil {
		return payments.Transaction{}, err
	}

	if c.txCache != nil {
		c.txCache.Set(id, tx, cache.DefaultExpiration)
	}

	return tx, nil
}

// ReportConfirmation tells the backend the processor confirmed the
// authorization identified by req.Reference.
func (c *Client) ReportConfirmation(ctx context.Context, id string, req payments.ConfirmationRequest) (payments.Transaction, error) {
	c.invalidate(id)

	var tx payments.Transaction

	err := c.do(ctx, http.MethodPost, txPath(id)+"/confirmation", req, &tx, nil)
	if err != nil {
		return payments.Transaction{}, err
	}

	return tx, nil
}

// ConfirmDelivery is the buyer's release of held funds.
func (c *Client) ConfirmDelivery(ctx context.Context, id string) (payments.Transaction, error) {
	c.invalidate(id)

	var tx payments.Transaction

	err := c.do(ctx, http.MethodPost, txPath(id)+"/delivery", nil, &tx, nil)
	if err != nil {
		return payments.Transaction{}, err
	}

	return tx, nil
}

// ProcessPayout triggers the seller payout for one transaction.
func (c *Client) ProcessPayout(ctx context.Context, id string) (payments.Transaction, error) {
	c.invalidate(id)

	var tx payments.Transaction

	err := c.do(ctx, http.MethodPost, "/payment/process-payout/"+url.PathEscape(id), nil, &tx, nil)
	if err != nil {
		return payments.Transaction{}, err
	}

	return tx, nil
}
