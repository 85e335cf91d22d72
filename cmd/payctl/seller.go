package main

import (
	"context"
	"fmt"

	"github.com/fastprodman/farmpay/internal/services/payout"
	"github.com/fastprodman/farmpay/pkg/money"
	"github.com/spf13/cobra"
)

func (a *app) manager() *payout.Manager {
	return payout.NewManager(a.sess, a.client)
}

// loadedManager returns a manager that has read the seller's account, so
// payout preconditions are checked against it.
func (a *app) loadedManager(ctx context.Context) (*payout.Manager, error) {
	m := a.manager()

	_, _, err := m.Account(ctx)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func accountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show the seller's connected payout account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			acct, ok, err := a.manager().Account(cmd.Context())
			if err != nil {
				return err
			}

			if !ok {
				a.printf("no connected account; run `payctl account create --email <address>`\n")
				return nil
			}

			return a.emit(acct, func() {
				a.printf("account %s, bank account added: %t\n", acct.AccountID, acct.BankAccountAdded)
			})
		},
	}

	cmd.AddCommand(createAccountCmd(a))

	return cmd
}

func createAccountCmd(a *app) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the seller's connected payout account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			acct, err := a.manager().CreateConnectedAccount(cmd.Context(), email)
			if err != nil {
				return err
			}

			return a.emit(acct, func() {
				a.printf("connected account %s ready\n", acct.AccountID)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "contact email for the account")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func bankAccountCmd(a *app) *cobra.Command {
	var details payout.BankDetails

	cmd := &cobra.Command{
		Use:   "bank-account",
		Short: "Attach a tokenized bank account as the payout destination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.loadedManager(cmd.Context())
			if err != nil {
				return err
			}

			acct, err := m.AddBankAccount(cmd.Context(), details)
			if err != nil {
				return err
			}

			return a.emit(acct, func() {
				a.printf("bank account attached to %s\n", acct.AccountID)
			})
		},
	}

	cmd.Flags().StringVar(&details.Token, "token", "", "tokenized bank account")
	cmd.Flags().StringVar(&details.AccountHolderName, "holder", "", "account holder name")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func balanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the available balance and payout history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bv, err := a.manager().Balance(cmd.Context())
			if err != nil {
				return err
			}

			return a.emit(bv, func() { a.printBalance(bv) })
		},
	}
}

func (a *app) printBalance(bv payout.BalanceView) {
	if bv.Prompt != payout.PromptNone {
		a.printf("%s\n", bv.Message)
		return
	}

	a.printf("available: %s\n", bv.Available)

	for _, p := range bv.PayoutHistory {
		a.printf("  %s  %10s\n", p.Date.Format("2006-01-02"), p.Amount)
	}
}

func transfersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "transfers",
		Short: "List completed and pending payouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tr, err := a.manager().Transfers(cmd.Context())
			if err != nil {
				return err
			}

			return a.emit(tr, func() {
				a.printTransfers("pending", tr.Pending)
				a.printTransfers("completed", tr.Completed)
			})
		},
	}
}

func payoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "payout <amount>",
		Short: "Pay out part of the available balance to the bank account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := money.Parse(args[0])
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}

			m, err := a.loadedManager(cmd.Context())
			if err != nil {
				return err
			}

			res, err := m.RequestPayout(cmd.Context(), amount)
			if err != nil {
				return err
			}

			return a.emit(res, func() { a.printResult(res) })
		},
	}
}

func processPayoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "process-payout <transaction-id>",
		Short: "Release the seller's share of a settled transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.loadedManager(cmd.Context())
			if err != nil {
				return err
			}

			res, err := m.ProcessTransactionPayout(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return a.emit(res, func() { a.printResult(res) })
		},
	}
}

func (a *app) printResult(res payout.Result) {
	if res.Prompt != payout.PromptNone {
		a.printf("%s\n", res.Message)
		return
	}

	if res.Transfer != nil {
		a.printf("payout %s requested: %s (%s)\n", res.Transfer.ID, res.Transfer.Amount, res.Transfer.Status)
	}

	if res.Transaction != nil {
		a.printf("payout for %s: %s %s\n", res.Transaction.ID, res.Transaction.Payout.Kind, res.Transaction.Payout.Amount)
	}

	if res.Balance != nil {
		a.printBalance(*res.Balance)
	}
}
