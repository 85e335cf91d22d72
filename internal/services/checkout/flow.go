package checkout

import (
	"context"
	"fmt"
	"sync"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/internal/session"
)

type StateKind string

const (
	AwaitingInstrument     StateKind = "awaiting_instrument"
	Confirming             StateKind = "confirming"
	AwaitingAuthentication StateKind = "awaiting_authentication"
	Captured               StateKind = "captured"
	Failed                 StateKind = "failed"
)

// State is the client-visible confirmation state. Reference is set once the
// processor has one; Message carries what to show the buyer.
type State struct {
	Kind      StateKind
	Reference string
	Message   string
}

const (
	declinedMessage   = "Your payment method was declined. Please use a different one."
	authMessage       = "Additional authentication is required to complete this payment."
	failedMessage     = "Payment could not be completed. Please try again."
	unreportedMessage = "Your payment was authorized but could not be recorded yet. Please try again."
)

// Callbacks are optional hooks fired by the Flow.
type Callbacks struct {
	OnSuccess     func(reference string)
	OnError       func(err error)
	OnStateChange func(State)
}

// Flow drives one authorization from creation to a settled state. It is
// safe for concurrent use; only one processor call runs at a time.
type Flow struct {
	sess      session.Session
	processor Processor
	backend   Backend
	cb        Callbacks

	mu     sync.Mutex
	busy   bool
	intent *Intent
	state  State
	// unreported is set while the backend has not acknowledged an
	// authorization the processor already accepted.
	unreported bool
}

// NewFlow binds a flow to an opened intent. A nil intent is allowed; every
// Confirm then reports ErrNoHandle without contacting the processor.
func NewFlow(sess session.Session, intent *Intent, processor Processor, backend Backend, cb Callbacks) *Flow {
	f := &Flow{
		sess:      sess,
		processor: processor,
		backend:   backend,
		cb:        cb,
		state:     State{Kind: AwaitingInstrument},
	}

	if intent != nil {
		own := *intent
		f.intent = &own
	}

	return f
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

// Transaction returns the local copy of the transaction, including any
// optimistic payment update.
func (f *Flow) Transaction() (payments.Transaction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.intent == nil {
		return payments.Transaction{}, false
	}

	return f.intent.Transaction, true
}

// Confirm supplies an instrument and asks the processor to confirm the
// authorization. Declines land in AwaitingInstrument and can be retried with
// another instrument on the same handle. When an earlier authorization was
// never acknowledged by the backend, Confirm only re-sends that report.
func (f *Flow) Confirm(ctx context.Context, inst Instrument) (State, error) {
	intent, st, retry, err := f.begin(true)
	if err != nil || intent == nil {
		return st, err
	}
	defer f.end()

	if retry {
		return f.report(ctx, intent, st.Reference)
	}

	log := logging.FromContext(ctx).With("transactionId", intent.Transaction.ID)

	err = intent.Transaction.Verify()
	if err != nil {
		log.Error("refusing to confirm unverifiable transaction", "error", err)

		return f.fail(fmt.Errorf("confirm: %w", err))
	}

	if !inst.valid() {
		return f.set(State{Kind: AwaitingInstrument, Message: "Please provide a payment method."}), ErrNoInstrument
	}

	methodID := inst.MethodID

	if inst.Card != nil {
		methodID, err = f.createMethod(ctx, *inst.Card)
		if err != nil {
			log.Warn("create payment method failed", "error", err)
			f.notifyError(err)

			return f.set(State{Kind: AwaitingInstrument, Message: declinedMessage}), nil
		}
	}

	callCtx, cancel := f.sess.WithTimeout(ctx)
	defer cancel()

	conf, err := f.processor.Confirm(callCtx, intent.Handle, methodID)
	if err != nil {
		log.Warn("processor confirm failed", "error", err)

		return f.fail(fmt.Errorf("confirm: %w", err))
	}

	return f.apply(ctx, intent, conf)
}

// Resume re-reads the authorization after the buyer finished an
// out-of-band authentication step, or re-sends an unacknowledged report.
// Otherwise it only reports the current state.
func (f *Flow) Resume(ctx context.Context) (State, error) {
	intent, st, retry, err := f.begin(false)
	if err != nil || intent == nil {
		return st, err
	}
	defer f.end()

	if retry {
		return f.report(ctx, intent, st.Reference)
	}

	callCtx, cancel := f.sess.WithTimeout(ctx)
	defer cancel()

	conf, err := f.processor.Retrieve(callCtx, intent.Handle)
	if err != nil {
		// Authentication may still be pending; stay where we are.
		f.notifyError(err)

		return f.State(), fmt.Errorf("resume: %w", err)
	}

	return f.apply(ctx, intent, conf)
}

// begin claims the flow. A nil intent with a nil error means there is
// nothing to do and st is the current state. retry reports that the only
// pending work is re-sending the confirmation report.
func (f *Flow) begin(confirm bool) (intent *Intent, st State, retry bool, err error) {
	f.mu.Lock()

	if f.intent == nil || f.intent.Handle.Empty() {
		defer f.mu.Unlock()

		return nil, f.state, false, ErrNoHandle
	}

	if f.busy {
		defer f.mu.Unlock()

		return nil, f.state, false, ErrConfirmInFlight
	}

	retry = f.unreported

	if !retry && (f.state.Kind == Captured || (!confirm && f.state.Kind != AwaitingAuthentication)) {
		defer f.mu.Unlock()

		return nil, f.state, false, nil
	}

	f.busy = true

	started := confirm && !retry
	if started {
		f.state = State{Kind: Confirming}
	}

	own := *f.intent
	st = f.state
	f.mu.Unlock()

	if started {
		f.changed(st)
	}

	return &own, st, retry, nil
}

func (f *Flow) end() {
	f.mu.Lock()
	f.busy = false
	f.mu.Unlock()
}

func (f *Flow) createMethod(ctx context.Context, card Card) (string, error) {
	ctx, cancel := f.sess.WithTimeout(ctx)
	defer cancel()

	id, err := f.processor.CreatePaymentMethod(ctx, card)
	if err != nil {
		return "", fmt.Errorf("create payment method: %w", err)
	}

	return id, nil
}

func (f *Flow) apply(ctx context.Context, intent *Intent, conf Confirmation) (State, error) {
	log := logging.FromContext(ctx).With("transactionId", intent.Transaction.ID, "processorStatus", conf.Status)

	switch {
	case conf.Status.Authorized():
		return f.captured(ctx, intent, conf)

	case conf.Status.NeedsAuthentication():
		log.Info("awaiting buyer authentication")

		return f.set(State{Kind: AwaitingAuthentication, Reference: conf.Reference, Message: authMessage}), nil

	case conf.Status == payments.IntentRequiresPaymentMethod, conf.Status == payments.IntentRequiresConfirmation:
		log.Info("instrument declined")

		return f.set(State{Kind: AwaitingInstrument, Reference: conf.Reference, Message: declinedMessage}), nil

	default:
		return f.fail(fmt.Errorf("unexpected processor status %q", conf.Status))
	}
}

func (f *Flow) captured(ctx context.Context, intent *Intent, conf Confirmation) (State, error) {
	f.mu.Lock()
	f.intent.Transaction.Payment = &payments.Payment{Reference: conf.Reference, Status: string(conf.Status)}
	f.unreported = true
	f.mu.Unlock()

	st, err := f.report(ctx, intent, conf.Reference)

	if f.cb.OnSuccess != nil {
		f.cb.OnSuccess(conf.Reference)
	}

	return st, err
}

// report tells the backend about an accepted authorization. Until it
// succeeds the flow stays Captured with a message and the report is
// re-sent by the next Confirm or Resume.
func (f *Flow) report(ctx context.Context, intent *Intent, reference string) (State, error) {
	log := logging.FromContext(ctx).With("transactionId", intent.Transaction.ID)

	callCtx, cancel := f.sess.WithTimeout(ctx)
	defer cancel()

	tx, err := f.backend.ReportConfirmation(callCtx, intent.Transaction.ID, payments.ConfirmationRequest{Reference: reference})
	if err != nil {
		log.Warn("report confirmation failed", "error", err)

		err = fmt.Errorf("%w: %w", ErrConfirmationUnreported, err)
		st := f.set(State{Kind: Captured, Reference: reference, Message: unreportedMessage})
		f.notifyError(err)

		return st, err
	}

	f.mu.Lock()
	f.unreported = false

	if tx.Verify() == nil {
		f.intent.Transaction = tx
	}
	f.mu.Unlock()

	return f.set(State{Kind: Captured, Reference: reference}), nil
}

func (f *Flow) fail(err error) (State, error) {
	st := f.set(State{Kind: Failed, Message: failedMessage})
	f.notifyError(err)

	return st, err
}

func (f *Flow) notifyError(err error) {
	if f.cb.OnError != nil {
		f.cb.OnError(err)
	}
}

func (f *Flow) set(st State) State {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()

	f.changed(st)

	return st
}

func (f *Flow) changed(st State) {
	if f.cb.OnStateChange != nil {
		f.cb.OnStateChange(st)
	}
}
