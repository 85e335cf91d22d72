package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"unicode"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/infra/pgutils"
	"github.com/fastprodman/farmpay/internal/repos/payouts"
	"github.com/fastprodman/farmpay/internal/repos/sellers"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/google/uuid"
)

func (s *Service) Account(ctx context.Context, caller string) (payments.Account, error) {
	seller, err := s.sellers.Get(ctx, caller)
	if errors.Is(err, sellers.ErrSellerNotFound) {
		return payments.Account{}, payments.ErrConnectedAccountRequired
	}

	if err != nil {
		return payments.Account{}, fmt.Errorf("get seller: %w", err)
	}

	return accountOf(seller), nil
}

// CreateConnectedAccount returns the caller's connected account, creating
// it at the processor on first use.
func (s *Service) CreateConnectedAccount(ctx context.Context, caller string, req payments.CreateAccountRequest) (payments.Account, error) {
	acct, err := s.Account(ctx, caller)
	if err == nil {
		return acct, nil
	}

	if !errors.Is(err, payments.ErrConnectedAccountRequired) {
		return payments.Account{}, err
	}

	email, err := s.cleanEmail(req.Email)
	if err != nil {
		return payments.Account{}, err
	}

	accountID, err := s.proc.CreateConnectedAccount(ctx, email)

	err = observe("create connected account", err)
	if err != nil {
		return payments.Account{}, err
	}

	seller := sellers.Seller{UserID: caller, AccountID: accountID, Email: email}

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.sellers.Insert(ctx, tx, seller)
	})
	if errors.Is(err, sellers.ErrAccountExists) {
		// a concurrent request won; the processor account we made is orphaned
		logging.FromContext(ctx).Warn("connected account created twice", "userId", caller, "accountId", accountID)

		return s.Account(ctx, caller)
	}

	if err != nil {
		return payments.Account{}, fmt.Errorf("store seller: %w", err)
	}

	logging.FromContext(ctx).Info("connected account created", "userId", caller, "accountId", accountID)

	return accountOf(seller), nil
}

func (s *Service) AddBankAccount(ctx context.Context, caller string, req payments.BankAccountRequest) (payments.Account, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return payments.Account{}, fmt.Errorf("%w: missing bank account token", ErrInvalidRequest)
	}

	holder := s.cleanText(req.AccountHolderName)
	if holder == "" {
		return payments.Account{}, fmt.Errorf("%w: missing account holder name", ErrInvalidRequest)
	}

	seller, err := s.sellers.Get(ctx, caller)
	if errors.Is(err, sellers.ErrSellerNotFound) {
		return payments.Account{}, payments.ErrConnectedAccountRequired
	}

	if err != nil {
		return payments.Account{}, fmt.Errorf("get seller: %w", err)
	}

	err = observe("attach bank account", s.proc.AttachBankAccount(ctx, seller.AccountID, token))
	if err != nil {
		return payments.Account{}, err
	}

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := s.sellers.LockByUserID(ctx, tx, caller)
		if err != nil {
			return err
		}

		return s.sellers.MarkBankAccountAdded(ctx, tx, caller, holder)
	})
	if err != nil {
		return payments.Account{}, fmt.Errorf("store bank account: %w", err)
	}

	seller.BankAccountAdded = true

	return accountOf(seller), nil
}

// Balance reads the connected account's available funds from the
// processor together with completed payouts.
func (s *Service) Balance(ctx context.Context, caller string) (payments.Balance, error) {
	acct, err := s.Account(ctx, caller)
	if err != nil {
		return payments.Balance{}, err
	}

	available, err := s.proc.ConnectedBalance(ctx, acct.AccountID)

	err = observe("balance", err)
	if err != nil {
		return payments.Balance{}, err
	}

	list, err := s.payouts.ListBySeller(ctx, caller)
	if err != nil {
		return payments.Balance{}, fmt.Errorf("list payouts: %w", err)
	}

	bal := payments.Balance{Available: available, PayoutHistory: []payments.PayoutRecord{}}

	for _, p := range list {
		if p.Status != payments.TransferCompleted {
			continue
		}

		date := p.CreatedAt
		if p.ArrivalAt != nil {
			date = *p.ArrivalAt
		}

		bal.PayoutHistory = append(bal.PayoutHistory, payments.PayoutRecord{Amount: p.Amount, Date: date})
	}

	return bal, nil
}

// Transfers lists the caller's payouts, first refreshing pending ones from
// the processor. A refresh failure keeps the stored status.
func (s *Service) Transfers(ctx context.Context, caller string) (payments.Transfers, error) {
	acct, err := s.Account(ctx, caller)
	if err != nil {
		return payments.Transfers{}, err
	}

	list, err := s.payouts.ListBySeller(ctx, caller)
	if err != nil {
		return payments.Transfers{}, fmt.Errorf("list payouts: %w", err)
	}

	out := payments.Transfers{Completed: []payments.Transfer{}, Pending: []payments.Transfer{}}

	for _, p := range list {
		if p.Status == payments.TransferPending {
			p = s.refreshPayout(ctx, acct.AccountID, p)
		}

		switch p.Status {
		case payments.TransferCompleted:
			out.Completed = append(out.Completed, p.Transfer())
		case payments.TransferPending:
			out.Pending = append(out.Pending, p.Transfer())
		}
	}

	return out, nil
}

func (s *Service) refreshPayout(ctx context.Context, accountID string, p payouts.Payout) payouts.Payout {
	log := logging.FromContext(ctx)

	po, err := s.proc.PayoutStatus(ctx, accountID, p.ID)

	err = observe("payout status", err)
	if err != nil {
		log.Warn("refresh payout", "payoutId", p.ID, "err", err)
		return p
	}

	status := payoutStatus(po.Status)
	if status == p.Status {
		return p
	}

	err = s.payouts.UpdateStatus(ctx, p.ID, status, po.ArrivalAt)
	if err != nil {
		log.Error("store payout status", "payoutId", p.ID, "err", err)
		return p
	}

	if status == payments.TransferCompleted && p.TransactionID != "" {
		err = s.txns.CompletePayout(ctx, p.ID)
		if err != nil {
			log.Error("complete transaction payout", "payoutId", p.ID, "err", err)
		}
	}

	p.Status = status
	if po.ArrivalAt != nil {
		p.ArrivalAt = po.ArrivalAt
	}

	return p
}

// RequestPayout pays amount out of the caller's available balance.
func (s *Service) RequestPayout(ctx context.Context, caller string, req payments.PayoutRequest) (payments.Transfer, error) {
	if req.Amount.Minor() <= 0 {
		return payments.Transfer{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	seller, err := s.payableSeller(ctx, caller)
	if err != nil {
		return payments.Transfer{}, err
	}

	available, err := s.proc.ConnectedBalance(ctx, seller.AccountID)

	err = observe("balance", err)
	if err != nil {
		return payments.Transfer{}, err
	}

	if req.Amount > available {
		return payments.Transfer{}, fmt.Errorf("%w: requested %s, available %s", payments.ErrInsufficientFunds, req.Amount, available)
	}

	po, err := s.proc.Payout(ctx, seller.AccountID, req.Amount, "payout-"+uuid.NewString())

	err = observe("payout", err)
	if err != nil {
		return payments.Transfer{}, err
	}

	p := payouts.Payout{
		ID:        po.ID,
		SellerID:  seller.UserID,
		Amount:    req.Amount,
		Status:    payoutStatus(po.Status),
		ArrivalAt: po.ArrivalAt,
	}

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.payouts.Insert(ctx, tx, p)
	})
	if err != nil {
		return payments.Transfer{}, fmt.Errorf("record payout: %w", err)
	}

	logging.FromContext(ctx).Info("balance payout scheduled", "userId", caller, "payoutId", po.ID, "amount", req.Amount.Minor())

	list, err := s.payouts.ListBySeller(ctx, caller)
	if err == nil {
		for _, stored := range list {
			if stored.ID == p.ID {
				p = stored
			}
		}
	}

	return p.Transfer(), nil
}

func (s *Service) cleanEmail(raw string) (string, error) {
	clean := s.cleanText(raw)

	addr, err := mail.ParseAddress(clean)
	if err != nil || addr.Address != clean {
		return "", fmt.Errorf("%w: invalid email %q", ErrInvalidRequest, clean)
	}

	return addr.Address, nil
}

// cleanText strips markup and control characters from seller-supplied
// text. Entities escaped by the policy are decoded again so names keep
// their apostrophes.
func (s *Service) cleanText(raw string) string {
	clean := html.UnescapeString(s.text.Sanitize(raw))

	clean = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}

		return -1
	}, clean)

	return strings.TrimSpace(clean)
}

func accountOf(s sellers.Seller) payments.Account {
	return payments.Account{AccountID: s.AccountID, BankAccountAdded: s.BankAccountAdded}
}
