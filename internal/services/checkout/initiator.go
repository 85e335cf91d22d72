package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/services/fees"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/internal/session"
	"github.com/fastprodman/farmpay/pkg/money"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const initFailedMessage = "We couldn't start this payment. Please try again."

// Request describes what the buyer is paying for.
type Request struct {
	SourceType payments.SourceType
	SourceID   string
	BidID      string
	BuyerID    string
	SellerID   string
	Amount     money.Money
}

// Key identifies the funding source; one transaction exists per key.
func (r Request) Key() string {
	return string(r.SourceType) + ":" + r.SourceID
}

func (r Request) validate() error {
	var missing []string

	if r.SourceType != payments.SourceAuction && r.SourceType != payments.SourceContract {
		return fmt.Errorf("%w: source type %q", ErrInvalidRequest, r.SourceType)
	}

	if r.SourceID == "" {
		missing = append(missing, "source id")
	}

	if r.BuyerID == "" {
		missing = append(missing, "buyer id")
	}

	if r.SellerID == "" {
		missing = append(missing, "seller id")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}

	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	}

	return nil
}

// Intent is an opened payment: the quote shown to the buyer, the backend
// transaction and the processor authorization handle.
type Intent struct {
	Quote       fees.Breakdown
	Transaction payments.Transaction
	Handle      payments.AuthorizationHandle
}

// InitError is returned when a payment cannot be opened. Message is safe
// to show to the buyer; the flow must be re-opened to retry.
type InitError struct {
	Message string
	Err     error
}

func (e *InitError) Error() string {
	return e.Message + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Quote computes the fee breakdown for amount.
func Quote(amount money.Money) (fees.Breakdown, error) {
	b, err := fees.Calculate(amount)
	if err != nil {
		return fees.Breakdown{}, fmt.Errorf("quote: %w", err)
	}

	return b, nil
}

// Initiator opens at most one transaction per funding source. Concurrent
// calls for the same source share a single request; successful intents are
// remembered until Reset.
type Initiator struct {
	sess    session.Session
	backend Backend

	group singleflight.Group

	mu      sync.Mutex
	intents map[string]*Intent
}

func NewInitiator(sess session.Session, backend Backend) *Initiator {
	return &Initiator{
		sess:    sess,
		backend: backend,
		intents: make(map[string]*Intent),
	}
}

// Initiate returns the intent for req, creating the backend transaction and
// its manual-capture authorization on first use.
func (i *Initiator) Initiate(ctx context.Context, req Request) (*Intent, error) {
	err := req.validate()
	if err != nil {
		return nil, &InitError{Message: "This payment request is incomplete.", Err: err}
	}

	quote, err := Quote(req.Amount)
	if err != nil {
		return nil, &InitError{Message: initFailedMessage, Err: err}
	}

	key := req.Key()

	if in, ok := i.lookup(key); ok {
		return in, nil
	}

	v, err, shared := i.group.Do(key, func() (any, error) {
		if in, ok := i.lookup(key); ok {
			return in, nil
		}

		in, err := i.open(ctx, req, quote)
		if err != nil {
			return nil, err
		}

		i.mu.Lock()
		i.intents[key] = in
		i.mu.Unlock()

		return in, nil
	})
	if err != nil {
		var initErr *InitError
		if errors.As(err, &initErr) {
			return nil, initErr
		}

		return nil, &InitError{Message: initFailedMessage, Err: err}
	}

	if shared {
		logging.FromContext(ctx).Debug("initiate shared in-flight request", "key", key)
	}

	in, _ := v.(*Intent)

	return in, nil
}

// Lookup returns a previously opened intent.
func (i *Initiator) Lookup(sourceType payments.SourceType, sourceID string) (*Intent, bool) {
	return i.lookup(Request{SourceType: sourceType, SourceID: sourceID}.Key())
}

// Reset forgets the intent for a funding source so the next Initiate talks
// to the backend again. The backend still deduplicates by idempotency key.
func (i *Initiator) Reset(sourceType payments.SourceType, sourceID string) {
	i.mu.Lock()
	delete(i.intents, Request{SourceType: sourceType, SourceID: sourceID}.Key())
	i.mu.Unlock()
}

func (i *Initiator) lookup(key string) (*Intent, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	in, ok := i.intents[key]

	return in, ok
}

func (i *Initiator) open(ctx context.Context, req Request, quote fees.Breakdown) (*Intent, error) {
	ctx, cancel := i.sess.WithTimeout(ctx)
	defer cancel()

	idemKey := uuid.NewString()
	log := logging.FromContext(ctx).With("sourceType", req.SourceType, "sourceId", req.SourceID, "idempotencyKey", idemKey)

	resp, err := i.backend.CreateTransaction(ctx, req.SourceType, payments.InitiateRequest{
		SourceID: req.SourceID,
		BidID:    req.BidID,
		BuyerID:  req.BuyerID,
		SellerID: req.SellerID,
		Amount:   req.Amount,
	}, idemKey)
	if err != nil {
		log.Warn("create transaction failed", "error", err)

		return nil, &InitError{Message: initFailedMessage, Err: fmt.Errorf("create transaction: %w", err)}
	}

	tx := resp.Transaction

	if tx.Amount != quote.Subtotal {
		return nil, &InitError{
			Message: "The payment amount could not be verified.",
			Err:     fmt.Errorf("%w: backend amount %s, requested %s", fees.ErrFeeMismatch, tx.Amount, quote.Subtotal),
		}
	}

	err = tx.Verify()
	if err != nil {
		log.Error("backend fees disagree with local quote", "error", err)

		return nil, &InitError{Message: "The payment amount could not be verified.", Err: err}
	}

	if resp.Authorization.Empty() {
		return nil, &InitError{Message: initFailedMessage, Err: fmt.Errorf("transaction %s: %w", tx.ID, ErrNoHandle)}
	}

	log.Info("payment opened", "transactionId", tx.ID, "total", tx.Total.String())

	return &Intent{Quote: quote, Transaction: tx, Handle: resp.Authorization}, nil
}
