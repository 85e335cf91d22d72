package apiclient

import (
	"context"
	"net/http"

	"github.com/fastprodman/farmpay/internal/services/payments"
)

func (c *Client) Account(ctx context.Context) (payments.Account, error) {
	var acct payments.Account

	err := c.do(ctx, http.MethodGet, "/seller/account", nil, &acct, nil)
	if err != nil {
		return payments.Account{}, err
	}

	return acct, nil
}

func (c *Client) CreateAccount(ctx context.Context, req payments.CreateAccountRequest) (payments.Account, error) {
	var acct payments.Account

	err := c.do(ctx, http.MethodPost, "/seller/account", req, &acct, nil)
	if err != nil {
		return payments.Account{}, err
	}

	return acct, nil
}

func (c *Client) AddBankAccount(ctx context.Context, req payments.BankAccountRequest) (payments.Account, error) {
	var acct payments.Account

	err := c.do(ctx, http.MethodPost, "/seller/bank-account", req, &acct, nil)
	if err != nil {
		return payments.Account{}, err
	}

	return acct, nil
}

func (c *Client) Balance(ctx context.Context) (payments.Balance, error) {
	var bal payments.Balance

	err := c.do(ctx, http.MethodGet, "/seller/balance", nil, &bal, nil)
	if err != nil {
		return payments.Balance{}, err
	}

	return bal, nil
}

func (c *Client) Transfers(ctx context.Context) (payments.Transfers, error) {
	var tr payments.Transfers

	err := c.do(ctx, http.MethodGet, "/seller/transfers", nil, &tr, nil)
	if err != nil {
		return payments.Transfers{}, err
	}

	return tr, nil
}

func (c *Client) RequestPayout(ctx context.Context, req payments.PayoutRequest) (payments.Transfer, error) {
	var tr payments.Transfer

	err := c.do(ctx, http.MethodPost, "/seller/payout", req, &tr, nil)
	if err != nil {
		return payments.Transfer{}, err
	}

	return tr, nil
}
