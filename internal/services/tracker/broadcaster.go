package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/services/payments"
)

const subscriberBuffer = 8

type subscriber struct {
	ch   chan Update
	done chan struct{}
	once sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch:   make(chan Update, subscriberBuffer),
		done: make(chan struct{}),
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

// Broadcaster is a push-based Tracker. Producers call Publish (or use it as
// a Notifier); subscribers receive updates without polling.
type Broadcaster struct {
	fetcher Fetcher

	mu   sync.Mutex
	last map[string]payments.Transaction
	subs map[string]map[*subscriber]struct{}

	// watchers tracks the per-subscription goroutines.
	watchers sync.WaitGroup
}

// NewBroadcaster returns a Broadcaster. fetcher may be nil; it then serves
// Status only from published state.
func NewBroadcaster(fetcher Fetcher) *Broadcaster {
	return &Broadcaster{
		fetcher: fetcher,
		last:    make(map[string]payments.Transaction),
		subs:    make(map[string]map[*subscriber]struct{}),
	}
}

var ErrUnknownTransaction = errors.New("transaction not tracked")

func (b *Broadcaster) Status(ctx context.Context, id string) (payments.Transaction, error) {
	b.mu.Lock()
	tx, ok := b.last[id]
	b.mu.Unlock()

	if ok {
		return tx, nil
	}

	if b.fetcher == nil {
		return payments.Transaction{}, fmt.Errorf("%s: %w", id, ErrUnknownTransaction)
	}

	tx, err := b.fetcher.GetTransaction(ctx, id)
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}

	return tx, nil
}

// Subscribe registers for updates on id. The last published state, if any,
// is delivered first.
func (b *Broadcaster) Subscribe(ctx context.Context, id string) <-chan Update {
	s := newSubscriber()

	b.mu.Lock()

	if tx, ok := b.last[id]; ok {
		s.ch <- Update{Transaction: tx}

		if tx.Status.Terminal() {
			b.mu.Unlock()
			s.close()

			return s.ch
		}
	}

	if b.subs[id] == nil {
		b.subs[id] = make(map[*subscriber]struct{})
	}

	b.subs[id][s] = struct{}{}
	b.mu.Unlock()

	b.watchers.Add(1)

	go func() {
		defer b.watchers.Done()

		select {
		case <-ctx.Done():
			b.unsubscribe(id, s)
		case <-s.done:
		}
	}()

	return s.ch
}

// Publish records tx and fans it out. Regressions are dropped. Subscribers
// are released once tx is terminal.
func (b *Broadcaster) Publish(ctx context.Context, tx payments.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, seen := b.last[tx.ID]
	if seen && payments.IsRegression(prev.Status, tx.Status) {
		logging.FromContext(ctx).Debug("broadcaster dropping stale update",
			"transactionId", tx.ID, "last", prev.Status, "observed", tx.Status)

		return
	}

	b.last[tx.ID] = tx

	u := Update{Transaction: tx}
	if seen {
		u.Previous = prev.Status
	}

	for s := range b.subs[tx.ID] {
		select {
		case s.ch <- u:
		default:
			logging.FromContext(ctx).Warn("subscriber lagging; update dropped", "transactionId", tx.ID)
		}

		if tx.Status.Terminal() {
			s.close()
		}
	}

	if tx.Status.Terminal() {
		delete(b.subs, tx.ID)
	}
}

// Notify lets a Broadcaster sit behind any Notifier producer.
func (b *Broadcaster) Notify(ctx context.Context, ev Changed) {
	b.Publish(ctx, ev.Transaction)
}

func (b *Broadcaster) unsubscribe(id string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[id]; ok {
		delete(set, s)

		if len(set) == 0 {
			delete(b.subs, id)
		}
	}

	s.close()
}
