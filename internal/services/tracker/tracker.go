// Package tracker observes a transaction's lifecycle. Callers depend on
// the Tracker interface; Poller reads the backend on an interval and
// Broadcaster relays pushed updates.
package tracker

import (
	"context"
	"log/slog"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/services/payments"
)

// Update is one observation. Exactly one of Transaction or Err is
// meaningful; Previous is the status before this observation, empty on the
// first one.
type Update struct {
	Transaction payments.Transaction
	Previous    payments.Status
	Err         error
}

// Tracker yields the authoritative view of a transaction.
type Tracker interface {
	Status(ctx context.Context, id string) (payments.Transaction, error)
	// Subscribe streams updates until the transaction settles or ctx is
	// cancelled; the channel is closed then.
	Subscribe(ctx context.Context, id string) <-chan Update
}

// Fetcher reads a transaction from the backend.
type Fetcher interface {
	GetTransaction(ctx context.Context, id string) (payments.Transaction, error)
}

// Changed is the event emitted for every observed status transition.
type Changed struct {
	Transaction payments.Transaction `json:"transaction"`
	Previous    payments.Status      `json:"previous,omitempty"`
}

// Notifier receives transition events.
type Notifier interface {
	Notify(ctx context.Context, ev Changed)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Changed)

func (f NotifierFunc) Notify(ctx context.Context, ev Changed) { f(ctx, ev) }

// Notifiers fans an event out to each notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, ev Changed) {
	for _, n := range ns {
		n.Notify(ctx, ev)
	}
}

// LogNotifier writes transition events to the context logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, ev Changed) {
	logging.FromContext(ctx).LogAttrs(ctx, slog.LevelInfo, "transaction state changed",
		slog.String("transactionId", ev.Transaction.ID),
		slog.String("from", string(ev.Previous)),
		slog.String("to", string(ev.Transaction.Status)),
	)
}

// payoutChanged reports a non-status change worth re-emitting.
func payoutChanged(a, b payments.Transaction) bool {
	if a.Payout.Normalized() != b.Payout.Normalized() {
		return true
	}

	return (a.Payment == nil) != (b.Payment == nil)
}
