package billing

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus follows the usual invoice lifecycle. Invoices created by the
// payment pipeline are born PAID: the money already moved, the invoice is
// documentation after the fact.
type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "DRAFT"
	InvoiceOpen          InvoiceStatus = "OPEN"
	InvoicePaid          InvoiceStatus = "PAID"
	InvoiceVoid          InvoiceStatus = "VOID"
	InvoiceUncollectible InvoiceStatus = "UNCOLLECTIBLE"
)

// PaymentStatus tracks a recorded payment through refunds.
type PaymentStatus string

const (
	PaymentSucceeded         PaymentStatus = "SUCCEEDED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// Invoice is a clinic-scoped billing document. All amounts are integer minor
// units (cents); currency is a lowercase ISO code as the processor sends it.
type Invoice struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	ClinicID        int64         `db:"clinic_id" json:"clinic_id"`
	PatientID       uuid.UUID     `db:"patient_id" json:"patient_id"`
	Status          InvoiceStatus `db:"status" json:"status"`
	Currency        string        `db:"currency" json:"currency"`
	AmountDue       int64         `db:"amount_due" json:"amount_due"`
	AmountPaid      int64         `db:"amount_paid" json:"amount_paid"`
	Description     string        `db:"description" json:"description,omitempty"`
	StripeInvoiceID *string       `db:"stripe_invoice_id" json:"stripe_invoice_id,omitempty"`

	// Downstream side-effect flags. Set once the corresponding follow-up
	// has run so retries and re-deliveries never double-fire it.
	CommissionGenerated bool `db:"commission_generated" json:"commission_generated"`
	SubscriptionCreated bool `db:"subscription_created" json:"subscription_created"`

	PaidAt    *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`

	LineItems []LineItem `db:"-" json:"line_items,omitempty"`
}

// LineItem is a single invoice line. Amount = Quantity * UnitAmount.
type LineItem struct {
	ID          uuid.UUID `db:"id" json:"id"`
	InvoiceID   uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Description string    `db:"description" json:"description"`
	Quantity    int64     `db:"quantity" json:"quantity"`
	UnitAmount  int64     `db:"unit_amount" json:"unit_amount"`
	Amount      int64     `db:"amount" json:"amount"`
}

// Payment is a recorded processor payment linked to an invoice.
type Payment struct {
	ID                    uuid.UUID     `db:"id" json:"id"`
	ClinicID              int64         `db:"clinic_id" json:"clinic_id"`
	PatientID             uuid.UUID     `db:"patient_id" json:"patient_id"`
	InvoiceID             uuid.UUID     `db:"invoice_id" json:"invoice_id"`
	Amount                int64         `db:"amount" json:"amount"`
	AmountRefunded        int64         `db:"amount_refunded" json:"amount_refunded"`
	Currency              string        `db:"currency" json:"currency"`
	Status                PaymentStatus `db:"status" json:"status"`
	Method                string        `db:"method" json:"method,omitempty"`
	StripePaymentIntentID *string       `db:"stripe_payment_intent_id" json:"stripe_payment_intent_id,omitempty"`
	StripeChargeID        *string       `db:"stripe_charge_id" json:"stripe_charge_id,omitempty"`
	ReceivedAt            time.Time     `db:"received_at" json:"received_at"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time     `db:"updated_at" json:"updated_at"`
}

// ProcessorRef returns the payment's primary external reference: the payment
// intent when present, otherwise the charge.
func (p *Payment) ProcessorRef() string {
	if p.StripePaymentIntentID != nil && *p.StripePaymentIntentID != "" {
		return *p.StripePaymentIntentID
	}
	if p.StripeChargeID != nil {
		return *p.StripeChargeID
	}
	return ""
}
