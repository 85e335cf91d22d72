package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/services/payments"
)

const DefaultInterval = 5 * time.Second

// Poller is a level-triggered Tracker: it re-reads the transaction on a
// fixed interval until it settles.
type Poller struct {
	fetcher    Fetcher
	interval   time.Duration
	notifier   Notifier
	onComplete func(payments.Transaction)
}

type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithNotifier(n Notifier) PollerOption {
	return func(p *Poller) { p.notifier = n }
}

// WithOnComplete registers a callback fired once when the transaction
// reaches completed.
func WithOnComplete(fn func(payments.Transaction)) PollerOption {
	return func(p *Poller) { p.onComplete = fn }
}

func NewPoller(fetcher Fetcher, opts ...PollerOption) *Poller {
	p := &Poller{fetcher: fetcher, interval: DefaultInterval}
	for _, o := range opts {
		o(p)
	}

	return p
}

// Status fetches and verifies the transaction once.
func (p *Poller) Status(ctx context.Context, id string) (payments.Transaction, error) {
	tx, err := p.fetcher.GetTransaction(ctx, id)
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}

	err = tx.Verify()
	if err != nil {
		return payments.Transaction{}, err
	}

	return tx, nil
}

// Subscribe starts polling. The first fetch happens immediately. Fetch
// errors are delivered and polling continues; regressions from a lagging
// backend are dropped.
func (p *Poller) Subscribe(ctx context.Context, id string) <-chan Update {
	out := make(chan Update)

	go p.run(ctx, id, out)

	return out
}

func (p *Poller) run(ctx context.Context, id string, out chan<- Update) {
	defer close(out)

	log := logging.FromContext(ctx).With("transactionId", id)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		last payments.Transaction
		seen bool
	)

	for {
		tx, err := p.Status(ctx, id)

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}

			log.Warn("poll transaction failed", "error", err)

			if !send(ctx, out, Update{Err: err}) {
				return
			}

		case seen && payments.IsRegression(last.Status, tx.Status):
			log.Debug("dropping stale read", "last", last.Status, "observed", tx.Status)

		case !seen || tx.Status != last.Status || payoutChanged(last, tx):
			prev := payments.Status("")
			if seen {
				prev = last.Status
			}

			statusChanged := !seen || tx.Status != last.Status
			last, seen = tx, true

			if !send(ctx, out, Update{Transaction: tx, Previous: prev}) {
				return
			}

			if statusChanged {
				p.emit(ctx, tx, prev)
			}
		}

		if seen && last.Status.Terminal() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) emit(ctx context.Context, tx payments.Transaction, prev payments.Status) {
	if p.notifier != nil && prev != "" {
		p.notifier.Notify(ctx, Changed{Transaction: tx, Previous: prev})
	}

	if tx.Status == payments.StatusCompleted && p.onComplete != nil {
		p.onComplete(tx)
	}
}

func send(ctx context.Context, out chan<- Update, u Update) bool {
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}
