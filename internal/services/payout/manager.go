// Package payout is the seller side of the client: balance, transfer
// history, connected/bank account provisioning and payout requests.
// Balances are always re-read from the backend, never adjusted locally.
package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/internal/session"
	"github.com/fastprodman/farmpay/pkg/money"
)

// NoBankAccountMessage is shown when a payout is attempted without a bank
// account on file.
const NoBankAccountMessage = "Please add a bank account before requesting a payout."

const noAccountMessage = "Create a payout account to see your balance."

var (
	ErrInFlight      = errors.New("request already in flight")
	ErrInvalidAmount = errors.New("payout amount must be positive")
	ErrInvalidEmail  = errors.New("invalid email")
	ErrInvalidBank   = errors.New("bank account token required")
)

// Prompt is a control-flow branch the UI must route to instead of showing
// an error.
type Prompt string

const (
	PromptNone           Prompt = ""
	PromptCreateAccount  Prompt = "create_connected_account"
	PromptAddBankAccount Prompt = "add_bank_account"
)

// Backend is the seller slice of the REST surface.
type Backend interface {
	Account(ctx context.Context) (payments.Account, error)
	CreateAccount(ctx context.Context, req payments.CreateAccountRequest) (payments.Account, error)
	AddBankAccount(ctx context.Context, req payments.BankAccountRequest) (payments.Account, error)
	Balance(ctx context.Context) (payments.Balance, error)
	Transfers(ctx context.Context) (payments.Transfers, error)
	RequestPayout(ctx context.Context, req payments.PayoutRequest) (payments.Transfer, error)
	ProcessPayout(ctx context.Context, transactionID string) (payments.Transaction, error)
}

type BalanceView struct {
	Prompt        Prompt
	Message       string
	Available     money.Money
	PayoutHistory []payments.PayoutRecord
}

// Result is the outcome of a payout attempt. When Prompt is set nothing
// was sent to the processor and Message explains why.
type Result struct {
	Prompt      Prompt
	Message     string
	Transfer    *payments.Transfer
	Transaction *payments.Transaction
	Balance     *BalanceView
}

type BankDetails struct {
	Token             string
	AccountHolderName string
}

type accountState int

const (
	accountUnknown accountState = iota
	accountMissing
	accountKnown
)

// Manager serializes the seller's mutating calls: a second payout or
// account request while one is running returns ErrInFlight.
type Manager struct {
	sess    session.Session
	backend Backend

	mu          sync.Mutex
	state       accountState
	account     payments.Account
	payoutBusy  bool
	accountBusy bool
}

func NewManager(sess session.Session, backend Backend) *Manager {
	return &Manager{sess: sess, backend: backend}
}

// Account loads the seller's connected account. A missing account is
// reported as ok == false, not as an error.
func (m *Manager) Account(ctx context.Context) (payments.Account, bool, error) {
	callCtx, cancel := m.sess.WithTimeout(ctx)
	defer cancel()

	acct, err := m.backend.Account(callCtx)
	if errors.Is(err, payments.ErrConnectedAccountRequired) {
		m.remember(accountMissing, payments.Account{})

		return payments.Account{}, false, nil
	}

	if err != nil {
		return payments.Account{}, false, fmt.Errorf("load account: %w", err)
	}

	m.remember(accountKnown, acct)

	return acct, true, nil
}

// Balance returns the authoritative balance, or PromptCreateAccount when
// the seller has no connected account yet.
func (m *Manager) Balance(ctx context.Context) (BalanceView, error) {
	callCtx, cancel := m.sess.WithTimeout(ctx)
	defer cancel()

	bal, err := m.backend.Balance(callCtx)
	if errors.Is(err, payments.ErrConnectedAccountRequired) {
		m.remember(accountMissing, payments.Account{})

		return BalanceView{Prompt: PromptCreateAccount, Message: noAccountMessage}, nil
	}

	if err != nil {
		return BalanceView{}, fmt.Errorf("load balance: %w", err)
	}

	return BalanceView{Available: bal.Available, PayoutHistory: bal.PayoutHistory}, nil
}

func (m *Manager) Transfers(ctx context.Context) (payments.Transfers, error) {
	callCtx, cancel := m.sess.WithTimeout(ctx)
	defer cancel()

	tr, err := m.backend.Transfers(callCtx)
	if err != nil {
		return payments.Transfers{}, fmt.Errorf("load transfers: %w", err)
	}

	return tr, nil
}

// CreateConnectedAccount provisions the seller's processor account. When
// one is already known it is returned without a request.
func (m *Manager) CreateConnectedAccount(ctx context.Context, email string) (payments.Account, error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return payments.Account{}, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}

	m.mu.Lock()
	if m.state == accountKnown && m.account.AccountID != "" {
		acct := m.account
		m.mu.Unlock()

		return acct, nil
	}
	m.mu.Unlock()

	release, err := m.claim(&m.accountBusy)
	if err != nil {
		return payments.Account{}, err
	}
	defer release()

	callCtx, cancel := m.sess.WithTimeout(ctx)
	defer cancel()

	acct, err := m.backend.CreateAccount(callCtx, payments.CreateAccountRequest{Email: email})
	if err != nil {
		return payments.Account{}, fmt.Errorf("create connected account: %w", err)
	}

	m.remember(accountKnown, acct)
	logging.FromContext(ctx).Info("connected account ready", "accountId", acct.AccountID)

	return acct, nil
}

// AddBankAccount attaches a payout destination. Payouts stay blocked until
// it succeeds.
func (m *Manager) AddBankAccount(ctx context.Context, details BankDetails) (payments.Account, error) {
	if strings.TrimSpace(details.Token) == "" {
		return payments.Account{}, ErrInvalidBank
	}

	m.mu.Lock()
	missing := m.state == accountMissing
	m.mu.Unlock()

	if missing {
		return payments.Account{}, fmt.Errorf("add bank account: %w", payments.ErrConnectedAccountRequired)
	}

	release, err := m.claim(&m.accountBusy)
	if err != nil {
		return payments.Account{}, err
	}
	defer release()

	callCtx, cancel := m.sess.WithTimeout(ctx)
	defer cancel()

	acct, err := m.backend.AddBankAccount(callCtx, payments.BankAccountRequest{
		Token:             details.Token,
		AccountHolderName: details.AccountHolderName,
	})
	if err != nil {
		return payments.Account{}, fmt.Errorf("add bank account: %w", err)
	}

	m.remember(accountKnown, acct)

	return acct, nil
}

// RequestPayout asks for amount to be paid out to the seller's bank. The
// bank account precondition is checked against the last loaded account
// before anything is sent.
func (m *Manager) RequestPayout(ctx context.Context, amount money.Money) (Result, error) {
	if amount <= 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	if res, blocked := m.precondition(); blocked {
		return res, nil
	}

	release, err := m.claim(&m.payoutBusy)
	if err != nil {
		return Result{}, err
	}
	defer release()

	callCtx, cancel := m.sess.WithTimeout(ctx)
	defer cancel()

	tr, err := m.backend.RequestPayout(callCtx, payments.PayoutRequest{Amount: amount})
	if res, blocked := m.serverPrecondition(err); blocked {
		return res, nil
	}

	if err != nil {
		return Result{}, fmt.Errorf("request payout: %w", err)
	}

	logging.FromContext(ctx).Info("payout requested", "transferId", tr.ID, "amount", amount.String())

	return Result{Transfer: &tr, Balance: m.refresh(ctx)}, nil
}

// ProcessTransactionPayout releases the seller's share of one held
// transaction to their bank.
func (m *Manager) ProcessTransactionPayout(ctx context.Context, transactionID string) (Result, error) {
	if res, blocked := m.precondition(); blocked {
		return res, nil
	}

	release, err := m.claim(&m.payoutBusy)
	if err != nil {
		return Result{}, err
	}
	defer release()

	callCtx, cancel := m.sess.WithTimeout(ctx)
	defer cancel()

	tx, err := m.backend.ProcessPayout(callCtx, transactionID)
	if res, blocked := m.serverPrecondition(err); blocked {
		return res, nil
	}

	if err != nil {
		return Result{}, fmt.Errorf("process payout for %s: %w", transactionID, err)
	}

	return Result{Transaction: &tx, Balance: m.refresh(ctx)}, nil
}

func (m *Manager) precondition() (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.state == accountMissing:
		return Result{Prompt: PromptCreateAccount, Message: noAccountMessage}, true
	case m.state == accountUnknown, !m.account.BankAccountAdded:
		return Result{Prompt: PromptAddBankAccount, Message: NoBankAccountMessage}, true
	default:
		return Result{}, false
	}
}

// serverPrecondition turns the backend's own precondition failures into
// prompts and updates what we know about the account.
func (m *Manager) serverPrecondition(err error) (Result, bool) {
	switch {
	case errors.Is(err, payments.ErrConnectedAccountRequired):
		m.remember(accountMissing, payments.Account{})

		return Result{Prompt: PromptCreateAccount, Message: noAccountMessage}, true

	case errors.Is(err, payments.ErrBankAccountRequired):
		m.mu.Lock()
		m.account.BankAccountAdded = false
		m.mu.Unlock()

		return Result{Prompt: PromptAddBankAccount, Message: NoBankAccountMessage}, true
	}

	return Result{}, false
}

// refresh re-reads the balance after a mutation. A failed refresh does not
// fail the mutation that already succeeded.
func (m *Manager) refresh(ctx context.Context) *BalanceView {
	bv, err := m.Balance(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("refresh balance after payout", "error", err)

		return nil
	}

	return &bv
}

func (m *Manager) claim(flag *bool) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if *flag {
		return nil, ErrInFlight
	}

	*flag = true

	return func() {
		m.mu.Lock()
		*flag = false
		m.mu.Unlock()
	}, nil
}

func (m *Manager) remember(st accountState, acct payments.Account) {
	m.mu.Lock()
	m.state = st
	m.account = acct
	m.mu.Unlock()
}
