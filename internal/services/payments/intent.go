package payments

// IntentStatus is the processor's view of an authorization.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// Authorized reports whether funds are held or already captured.
func (s IntentStatus) Authorized() bool {
	return s == IntentRequiresCapture || s == IntentSucceeded
}

// NeedsAuthentication reports whether the buyer must finish an out-of-band
// step before the processor settles the authorization.
func (s IntentStatus) NeedsAuthentication() bool {
	return s == IntentRequiresAction || s == IntentProcessing
}
