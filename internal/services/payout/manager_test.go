package payout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fastprodman/farmpay/internal/services/fees"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/internal/session"
	"github.com/fastprodman/farmpay/pkg/money"
)

// fakeBackend models one seller. Every method counts as a network call.
type fakeBackend struct {
	mu        sync.Mutex
	calls     []string
	account   *payments.Account
	available money.Money
	history   []payments.PayoutRecord
	block     chan struct{}
	entered   chan struct{}
	bankErr   bool
}

func (b *fakeBackend) record(name string) {
	b.mu.Lock()
	b.calls = append(b.calls, name)
	b.mu.Unlock()
}

func (b *fakeBackend) callLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) Account(context.Context) (payments.Account, error) {
	b.record("account")

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.account == nil {
		return payments.Account{}, payments.ErrConnectedAccountRequired
	}

	return *b.account, nil
}

func (b *fakeBackend) CreateAccount(_ context.Context, _ payments.CreateAccountRequest) (payments.Account, error) {
	b.record("create-account")

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.account == nil {
		b.account = &payments.Account{AccountID: "acct_1"}
	}

	return *b.account, nil
}

func (b *fakeBackend) AddBankAccount(_ context.Context, _ payments.BankAccountRequest) (payments.Account, error) {
	b.record("bank-account")

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.account == nil {
		return payments.Account{}, payments.ErrConnectedAccountRequired
	}

	b.account.BankAccountAdded = true

	return *b.account, nil
}

func (b *fakeBackend) Balance(context.Context) (payments.Balance, error) {
	b.record("balance")

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.account == nil {
		return payments.Balance{}, payments.ErrConnectedAccountRequired
	}

	return payments.Balance{Available: b.available, PayoutHistory: append([]payments.PayoutRecord(nil), b.history...)}, nil
}

func (b *fakeBackend) Transfers(context.Context) (payments.Transfers, error) {
	b.record("transfers")

	return payments.Transfers{}, nil
}

func (b *fakeBackend) RequestPayout(ctx context.Context, req payments.PayoutRequest) (payments.Transfer, error) {
	b.record("payout")

	b.mu.Lock()
	block, entered, bankErr := b.block, b.entered, b.bankErr
	b.mu.Unlock()

	if entered != nil {
		close(entered)
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return payments.Transfer{}, ctx.Err()
		}
	}

	if bankErr {
		return payments.Transfer{}, payments.ErrBankAccountRequired
	}

	b.mu.Lock()
	b.available -= req.Amount
	b.mu.Unlock()

	return payments.Transfer{ID: "po_1", Amount: req.Amount, Status: payments.TransferPending}, nil
}

// ProcessPayout settles a $100 sale: the seller's net is transferred to
// the connected account and paid straight out, so the available balance
// is unchanged and the payout lands in the history.
func (b *fakeBackend) ProcessPayout(_ context.Context, id string) (payments.Transaction, error) {
	b.record("process-payout")

	net, _ := fees.SellerNet(money.MustParse("100.00"))

	b.mu.Lock()
	b.history = append(b.history, payments.PayoutRecord{Amount: net, Date: time.Now()})
	b.mu.Unlock()

	return payments.Transaction{
		ID:     id,
		Status: payments.StatusCompleted,
		Payout: payments.PendingPayout(net, "po_"+id),
	}, nil
}

func newManager(b *fakeBackend) *Manager {
	return NewManager(session.Session{Credentials: session.StaticToken("t"), Timeout: time.Second}, b)
}

func TestRequestPayout_NoBankAccountMakesNoRequest(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{account: &payments.Account{AccountID: "acct_1"}}
	m := newManager(b)

	_, ok, err := m.Account(t.Context())
	if err != nil || !ok {
		t.Fatalf("Account = %v, %v", ok, err)
	}

	before := len(b.callLog())

	res, err := m.RequestPayout(t.Context(), money.MustParse("10.00"))
	if err != nil {
		t.Fatalf("RequestPayout: %v", err)
	}

	if res.Prompt != PromptAddBankAccount {
		t.Fatalf("Prompt = %q, want %q", res.Prompt, PromptAddBankAccount)
	}

	if res.Message != "Please add a bank account before requesting a payout." {
		t.Fatalf("Message = %q", res.Message)
	}

	res, err = m.ProcessTransactionPayout(t.Context(), "tx-1")
	if err != nil || res.Prompt != PromptAddBankAccount {
		t.Fatalf("ProcessTransactionPayout = %+v, %v", res, err)
	}

	if after := b.callLog(); len(after) != before {
		t.Fatalf("network calls after blocked payout: %v", after[before:])
	}
}

func TestRequestPayout_UnknownAccountMakesNoRequest(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	m := newManager(b)

	res, err := m.RequestPayout(t.Context(), money.MustParse("10.00"))
	if err != nil || res.Prompt != PromptAddBankAccount {
		t.Fatalf("RequestPayout = %+v, %v", res, err)
	}

	if calls := b.callLog(); len(calls) != 0 {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestBalance_MissingAccountPrompts(t *testing.T) {
	t.Parallel()

	m := newManager(&fakeBackend{})

	bv, err := m.Balance(t.Context())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}

	if bv.Prompt != PromptCreateAccount {
		t.Fatalf("Prompt = %q, want %q", bv.Prompt, PromptCreateAccount)
	}

	res, err := m.RequestPayout(t.Context(), 100)
	if err != nil || res.Prompt != PromptCreateAccount {
		t.Fatalf("RequestPayout = %+v, %v", res, err)
	}
}

func TestHappyPath_BalanceGrowsBySellerNet(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	m := newManager(b)
	ctx := t.Context()

	_, err := m.CreateConnectedAccount(ctx, "farmer@example.com")
	if err != nil {
		t.Fatalf("CreateConnectedAccount: %v", err)
	}

	// Known account: no second create.
	_, err = m.CreateConnectedAccount(ctx, "farmer@example.com")
	if err != nil {
		t.Fatalf("second CreateConnectedAccount: %v", err)
	}

	_, err = m.AddBankAccount(ctx, BankDetails{Token: "btok_1", AccountHolderName: "Ada Farmer"})
	if err != nil {
		t.Fatalf("AddBankAccount: %v", err)
	}

	before, err := m.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}

	res, err := m.ProcessTransactionPayout(ctx, "tx-1")
	if err != nil {
		t.Fatalf("ProcessTransactionPayout: %v", err)
	}

	if res.Balance == nil {
		t.Fatalf("balance not refreshed after payout")
	}

	if res.Balance.Available != before.Available {
		t.Fatalf("available changed from %s to %s", before.Available, res.Balance.Available)
	}

	if n := len(res.Balance.PayoutHistory); n != len(before.PayoutHistory)+1 ||
		res.Balance.PayoutHistory[n-1].Amount != money.MustParse("95.00") {
		t.Fatalf("payout history = %+v, want one more 95.00 record", res.Balance.PayoutHistory)
	}

	if res.Transaction == nil || res.Transaction.Payout.Kind != payments.PayoutPending {
		t.Fatalf("transaction payout = %+v", res.Transaction)
	}

	creates := 0

	for _, c := range b.callLog() {
		if c == "create-account" {
			creates++
		}
	}

	if creates != 1 {
		t.Fatalf("create-account calls = %d, want 1", creates)
	}
}

func TestRequestPayout_SecondCallWhileInFlight(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		account:   &payments.Account{AccountID: "acct_1", BankAccountAdded: true},
		available: money.MustParse("50.00"),
		block:     make(chan struct{}),
		entered:   make(chan struct{}),
	}
	m := newManager(b)

	_, _, err := m.Account(t.Context())
	if err != nil {
		t.Fatalf("Account: %v", err)
	}

	done := make(chan error, 1)

	go func() {
		_, err := m.RequestPayout(t.Context(), money.MustParse("20.00"))
		done <- err
	}()

	<-b.entered

	_, err = m.RequestPayout(t.Context(), money.MustParse("20.00"))
	if !errors.Is(err, ErrInFlight) {
		t.Fatalf("second RequestPayout: want ErrInFlight, got %v", err)
	}

	close(b.block)

	err = <-done
	if err != nil {
		t.Fatalf("first RequestPayout: %v", err)
	}

	payouts := 0

	for _, c := range b.callLog() {
		if c == "payout" {
			payouts++
		}
	}

	if payouts != 1 {
		t.Fatalf("payout calls = %d, want 1", payouts)
	}
}

func TestRequestPayout_ServerPreconditionBecomesPrompt(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{account: &payments.Account{AccountID: "acct_1", BankAccountAdded: true}, bankErr: true}
	m := newManager(b)

	_, _, err := m.Account(t.Context())
	if err != nil {
		t.Fatalf("Account: %v", err)
	}

	res, err := m.RequestPayout(t.Context(), money.MustParse("5.00"))
	if err != nil || res.Prompt != PromptAddBankAccount {
		t.Fatalf("RequestPayout = %+v, %v", res, err)
	}

	// The manager now knows the bank account is gone.
	calls := len(b.callLog())

	res, _ = m.RequestPayout(t.Context(), money.MustParse("5.00"))
	if res.Prompt != PromptAddBankAccount || len(b.callLog()) != calls {
		t.Fatalf("expected a local block after server rejection")
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()

	m := newManager(&fakeBackend{})

	_, err := m.RequestPayout(t.Context(), 0)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero payout: %v", err)
	}

	_, err = m.CreateConnectedAccount(t.Context(), "not-an-email")
	if !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("bad email: %v", err)
	}

	_, err = m.AddBankAccount(t.Context(), BankDetails{})
	if !errors.Is(err, ErrInvalidBank) {
		t.Fatalf("empty bank token: %v", err)
	}
}
