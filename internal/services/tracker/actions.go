package tracker

import "github.com/fastprodman/farmpay/internal/services/payments"

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Action is a participant-initiated next step. None of them happen
// automatically.
type Action string

const (
	ActionConfirmDelivery Action = "confirm_delivery"
	ActionAddBankAccount  Action = "add_bank_account"
	ActionProcessPayout   Action = "process_payout"
)

// NextActions lists what the viewer can do with tx. account is the
// seller's connected account, nil when none exists yet.
func NextActions(tx payments.Transaction, role Role, account *payments.Account) []Action {
	switch role {
	case RoleBuyer:
		if tx.Status == payments.StatusPaymentHeld {
			return []Action{ActionConfirmDelivery}
		}

	case RoleSeller:
		if !tx.Status.AllowsPayout() || tx.Payout.Requested() {
			return nil
		}

		if account == nil || account.AccountID == "" || !account.BankAccountAdded {
			return []Action{ActionAddBankAccount}
		}

		return []Action{ActionProcessPayout}
	}

	return nil
}
