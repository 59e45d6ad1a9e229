package billing

import (
	"context"

	"github.com/google/uuid"
)

// InvoiceRepository stores invoices and their line items. Lookups return
// (nil, nil) when no row matches.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetByStripeInvoiceID is the duplicate guard for processor-originated
	// invoices; the reference is clinic-scoped on read.
	GetByStripeInvoiceID(ctx context.Context, clinicID int64, ref string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	ListByPatient(ctx context.Context, clinicID int64, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
}

// PaymentRepository stores payments. Lookups return (nil, nil) when no row
// matches.
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByPaymentIntentID(ctx context.Context, clinicID int64, ref string) (*Payment, error)
	GetByChargeID(ctx context.Context, clinicID int64, ref string) (*Payment, error)
	// GetByProcessorRef finds a payment by charge or payment-intent
	// reference without clinic scoping; refund notifications carry no
	// tenant context and the references are globally unique.
	GetByProcessorRef(ctx context.Context, chargeRef, paymentIntentRef string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}
