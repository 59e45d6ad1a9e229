package recon

import (
	"strings"
	"time"
)

// PaymentEvent is the normalized shape every inbound notification is reduced
// to before any matching or recording happens. It is ephemeral: per-source
// extractors build it, the pipeline consumes it, and only its extracted
// identity summary survives in the reconciliation ledger. Amounts are integer
// minor units.
type PaymentEvent struct {
	EventID   string
	EventType string

	CustomerRef string
	Email       string
	Name        string
	Phone       string

	Amount      int64
	Currency    string
	Description string

	PaymentIntentRef string
	ChargeRef        string
	InvoiceRef       string

	Metadata map[string]string
	PaidAt   time.Time

	// HasRecurring marks events whose upstream invoice carries a
	// recurring-priced line item; gates subscription creation.
	HasRecurring bool

	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	PostalCode   string
}

// MetaValue returns the first non-empty metadata value among keys.
func (e *PaymentEvent) MetaValue(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(e.Metadata[k]); v != "" {
			return v
		}
	}
	return ""
}

// PaymentRef returns the event's primary processor payment reference: the
// payment intent when present, otherwise the charge.
func (e *PaymentEvent) PaymentRef() string {
	if e.PaymentIntentRef != "" {
		return e.PaymentIntentRef
	}
	return e.ChargeRef
}

// RefundEvent is the normalized refund notification.
type RefundEvent struct {
	EventID          string
	EventType        string
	RefundRef        string
	ChargeRef        string
	PaymentIntentRef string
	// Amount is the refunded amount in minor units. It is the delta of this
	// one refund unless Cumulative is set, in which case it is the charge's
	// lifetime refunded total.
	Amount     int64
	Cumulative bool
	Currency   string
	Reason     string
	RefundedAt time.Time
}
