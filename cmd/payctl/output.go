package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/internal/services/tracker"
)

// emit prints v as JSON when --json is set and otherwise calls human.
func (a *app) emit(v any, human func()) error {
	if !a.json {
		human()
		return nil
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")

	err := enc.Encode(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	return nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) printTransaction(tx payments.Transaction, actions []tracker.Action) {
	a.printf("transaction %s\n", tx.ID)
	a.printf("  source:   %s/%s\n", tx.SourceType, tx.SourceID)
	a.printf("  status:   %s\n", tx.Status)
	a.printf("  amount:   %s\n", tx.Amount)
	a.printf("  fees:     %s platform, %s processing\n", tx.Fees.Platform, tx.Fees.Processing)
	a.printf("  total:    %s\n", tx.Total)

	if tx.Payout.Requested() {
		a.printf("  payout:   %s %s\n", tx.Payout.Kind, tx.Payout.Amount)
	}

	if len(actions) > 0 {
		names := make([]string, len(actions))
		for i, act := range actions {
			names[i] = string(act)
		}

		a.printf("  next:     %s\n", strings.Join(names, ", "))
	}
}

func (a *app) printTransfers(title string, trs []payments.Transfer) {
	a.printf("%s:\n", title)

	if len(trs) == 0 {
		a.printf("  (none)\n")
		return
	}

	for _, tr := range trs {
		a.printf("  %-24s %10s  %-9s %s\n", tr.ID, tr.Amount, tr.Status, tr.CreatedAt.Format("2006-01-02"))
	}
}
