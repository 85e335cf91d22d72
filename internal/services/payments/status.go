package payments

import "fmt"

// Status is the lifecycle state of a Transaction.
//
//	pending(0) -> processing(1) -> payment_held(2) -> completed(3)
//
// failed is reachable from any non-terminal state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusPaymentHeld Status = "payment_held"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusProcessing, StatusPaymentHeld, StatusCompleted, StatusFailed}

// Rank returns the position on the forward path, or -1 for failed and
// unknown statuses.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusPaymentHeld:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

func (s Status) Valid() bool {
	return s.Rank() >= 0 || s == StatusFailed
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AllowsPayout reports whether funds are held or released.
func (s Status) AllowsPayout() bool {
	return s == StatusPaymentHeld || s == StatusCompleted
}

// ParseStatus validates a status read from storage or the wire.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}

	return st, nil
}

// CanTransition reports whether from -> to is a forward move. Skipping
// intermediate states is allowed; staying put is not a transition.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}

	if to == StatusFailed {
		return true
	}

	return to.Rank() > from.Rank()
}

// Predecessors lists every status from which to is reachable. Storage uses
// it as the guard of a conditional update.
func Predecessors(to Status) []Status {
	var out []Status

	for _, s := range allStatuses {
		if CanTransition(s, to) {
			out = append(out, s)
		}
	}

	return out
}

// IsRegression reports whether an observed status is behind the last seen
// one, which happens when reads hit a lagging replica.
func IsRegression(last, observed Status) bool {
	if last == observed {
		return false
	}

	if last.Terminal() {
		return true
	}

	return observed != StatusFailed && observed.Rank() < last.Rank()
}
