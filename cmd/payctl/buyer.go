package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/farmpay/internal/services/checkout"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/internal/services/tracker"
	"github.com/fastprodman/farmpay/pkg/money"
	"github.com/spf13/cobra"
)

func quoteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "quote <amount>",
		Short: "Show the fee breakdown for an amount",
		Example: `  payctl quote 100.00
  payctl quote 12.5 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			amount, err := money.Parse(args[0])
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}

			b, err := checkout.Quote(amount)
			if err != nil {
				return err
			}

			return a.emit(b, func() {
				a.printf("subtotal        %10s\n", b.Subtotal)
				a.printf("platform fee    %10s\n", b.PlatformFee)
				a.printf("processing fee  %10s\n", b.ProcessingFee)
				a.printf("total           %10s\n", b.Total)
			})
		},
	}
}

type payOptions struct {
	sourceType string
	sourceID   string
	bidID      string
	buyerID    string
	sellerID   string
	amount     string
	cardToken  string
	methodID   string
	authWait   time.Duration
	track      bool
}

func payCmd(a *app) *cobra.Command {
	var o payOptions

	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Open a transaction and authorize the buyer's payment",
		Long: `Open (or reuse) the transaction for an auction or contract and confirm the
authorization with a tokenized card or a saved payment method. Funds are held
until the buyer confirms delivery.`,
		Example: `  payctl pay --source-type auction --source-id a-42 --seller s-7 --amount 100.00 --card tok_visa`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.pay(cmd.Context(), o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.sourceType, "source-type", string(payments.SourceAuction), "auction or contract")
	f.StringVar(&o.sourceID, "source-id", "", "auction or contract id")
	f.StringVar(&o.bidID, "bid", "", "winning bid id (auctions)")
	f.StringVar(&o.buyerID, "buyer", "", "buyer id (default: the logged-in user)")
	f.StringVar(&o.sellerID, "seller", "", "seller id")
	f.StringVar(&o.amount, "amount", "", "amount before fees, e.g. 100.00")
	f.StringVar(&o.cardToken, "card", "", "tokenized card")
	f.StringVar(&o.methodID, "method", "", "saved payment method id")
	f.DurationVar(&o.authWait, "auth-wait", 0, "how long to wait for out-of-band authentication")
	f.BoolVar(&o.track, "track", false, "follow the transaction after authorization")

	_ = cmd.MarkFlagRequired("source-id")
	_ = cmd.MarkFlagRequired("seller")
	_ = cmd.MarkFlagRequired("amount")
	cmd.MarkFlagsOneRequired("card", "method")
	cmd.MarkFlagsMutuallyExclusive("card", "method")

	return cmd
}

func (a *app) pay(ctx context.Context, o payOptions) error {
	sourceType, err := payments.ParseSourceType(o.sourceType)
	if err != nil {
		return err
	}

	amount, err := money.Parse(o.amount)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}

	proc, err := a.processor()
	if err != nil {
		return err
	}

	buyer := o.buyerID
	if buyer == "" {
		buyer = a.sess.UserID
	}

	intent, err := checkout.NewInitiator(a.sess, a.client).Initiate(ctx, checkout.Request{
		SourceType: sourceType,
		SourceID:   o.sourceID,
		BidID:      o.bidID,
		BuyerID:    buyer,
		SellerID:   o.sellerID,
		Amount:     amount,
	})
	if err != nil {
		var initErr *checkout.InitError
		if errors.As(err, &initErr) {
			a.printf("%s\n", initErr.Message)
		}

		return err
	}

	a.printf("transaction %s opened, total %s\n", intent.Transaction.ID, intent.Transaction.Total)

	flow := checkout.NewFlow(a.sess, intent, proc, a.client, checkout.Callbacks{
		OnStateChange: func(st checkout.State) {
			if st.Message != "" {
				a.printf("%s: %s\n", st.Kind, st.Message)
			}
		},
	})

	inst := checkout.Instrument{MethodID: o.methodID}
	if o.cardToken != "" {
		inst = checkout.Instrument{Card: &checkout.Card{Token: o.cardToken}}
	}

	st, err := flow.Confirm(ctx, inst)
	if err == nil {
		st, err = a.awaitAuthentication(ctx, flow, st, o.authWait)
	}

	if errors.Is(err, checkout.ErrConfirmationUnreported) {
		st, err = retryReport(ctx, flow)
	}

	if err != nil {
		return fmt.Errorf("confirm payment: %w", err)
	}

	if st.Kind != checkout.Captured {
		return fmt.Errorf("payment not authorized (%s)", st.Kind)
	}

	a.printf("payment authorized, reference %s; funds are held until delivery\n", st.Reference)

	if !o.track {
		return nil
	}

	return a.track(ctx, intent.Transaction.ID, tracker.RoleBuyer, tracker.DefaultInterval)
}

func (a *app) awaitAuthentication(ctx context.Context, flow *checkout.Flow, st checkout.State, wait time.Duration) (checkout.State, error) {
	if st.Kind != checkout.AwaitingAuthentication || wait <= 0 {
		return st, nil
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	tick := time.NewTicker(3 * time.Second)
	defer tick.Stop()

	for st.Kind == checkout.AwaitingAuthentication {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-deadline.C:
			return st, nil
		case <-tick.C:
		}

		next, err := flow.Resume(ctx)
		if errors.Is(err, checkout.ErrConfirmationUnreported) {
			return next, err
		}

		if err != nil {
			// Authentication may still be pending.
			continue
		}

		st = next
	}

	return st, nil
}

const (
	reportAttempts = 3
	reportBackoff  = 2 * time.Second
)

// retryReport re-sends an authorization the backend has not recorded yet.
// If every attempt fails the server still reconciles the transaction the
// next time it is read.
func retryReport(ctx context.Context, flow *checkout.Flow) (checkout.State, error) {
	st, err := flow.State(), checkout.ErrConfirmationUnreported

	for range reportAttempts {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(reportBackoff):
		}

		st, err = flow.Resume(ctx)
		if !errors.Is(err, checkout.ErrConfirmationUnreported) {
			return st, err
		}
	}

	return st, err
}

func trackCmd(a *app) *cobra.Command {
	var (
		role     string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "track <transaction-id>",
		Short: "Follow a transaction until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.track(cmd.Context(), args[0], tracker.Role(role), interval)
		},
	}

	cmd.Flags().StringVar(&role, "as", string(tracker.RoleBuyer), "viewer role: buyer or seller")
	cmd.Flags().DurationVar(&interval, "interval", tracker.DefaultInterval, "poll interval")

	return cmd
}

func (a *app) track(ctx context.Context, id string, role tracker.Role, interval time.Duration) error {
	var account *payments.Account

	if role == tracker.RoleSeller {
		acct, ok, err := a.manager().Account(ctx)
		if err != nil {
			return err
		}

		if ok {
			account = &acct
		}
	}

	p := tracker.NewPoller(a.client, tracker.WithInterval(interval))

	var last payments.Transaction

	for u := range p.Subscribe(ctx, id) {
		if u.Err != nil {
			a.printf("refresh failed, retrying: %v\n", u.Err)
			continue
		}

		last = u.Transaction

		err := a.emit(u, func() {
			a.printTransaction(u.Transaction, tracker.NextActions(u.Transaction, role, account))
		})
		if err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return nil
	}

	if last.Status == payments.StatusFailed {
		return fmt.Errorf("transaction %s failed", id)
	}

	return nil
}

func deliverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deliver <transaction-id>",
		Short: "Confirm delivery and release the held funds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.sess.WithTimeout(cmd.Context())
			defer cancel()

			tx, err := a.client.ConfirmDelivery(ctx, args[0])
			if err != nil {
				return fmt.Errorf("confirm delivery: %w", err)
			}

			return a.emit(tx, func() { a.printTransaction(tx, nil) })
		},
	}
}
