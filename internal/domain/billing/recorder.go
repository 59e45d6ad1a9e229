package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TxRunner executes fn inside a database transaction. Production wires
// db.WithTx bound to the pool; tests substitute a passthrough or a failing
// runner to exercise atomicity.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// RecordInput is one settled payment to document. At least one of
// PaymentIntentRef and ChargeRef must be set.
type RecordInput struct {
	ClinicID         int64
	PatientID        uuid.UUID
	Amount           int64
	Currency         string
	Description      string
	Method           string
	StripeInvoiceRef string
	PaymentIntentRef string
	ChargeRef        string
	ReceivedAt       time.Time
}

// RecordResult reports what the recorder did. Duplicate means the payment
// reference was already documented and nothing was written.
type RecordResult struct {
	Invoice   *Invoice
	Payment   *Payment
	Duplicate bool
}

// Recorder documents settled payments as PAID invoices plus payment records.
// The invoice and payment for a new pair are written in one transaction:
// a payment without its invoice (or the reverse) would poison every later
// duplicate check, so partial writes are not acceptable.
type Recorder struct {
	invoices InvoiceRepository
	payments PaymentRepository
	runTx    TxRunner
	log      zerolog.Logger
}

// NewRecorder builds a Recorder.
func NewRecorder(invoices InvoiceRepository, payments PaymentRepository, runTx TxRunner, log zerolog.Logger) *Recorder {
	return &Recorder{
		invoices: invoices,
		payments: payments,
		runTx:    runTx,
		log:      log.With().Str("component", "billing_recorder").Logger(),
	}
}

// RecordPaidInvoice documents one settled payment. Ordered guards:
//
//  1. A payment with the same processor reference already exists: return it
//     with Duplicate set. This absorbs webhook re-deliveries and the
//     charge.succeeded / invoice.payment_succeeded pair for the same money.
//  2. The processor invoice reference already has a local invoice: attach a
//     new payment to it instead of creating a second invoice.
//  3. Otherwise create the invoice (born PAID, nothing left due) and the
//     payment atomically.
func (r *Recorder) RecordPaidInvoice(ctx context.Context, in RecordInput) (*RecordResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	existing, err := r.findPaymentByRefs(ctx, in)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		inv, err := r.invoices.GetByID(ctx, existing.InvoiceID)
		if err != nil {
			return nil, err
		}
		r.log.Info().Int64("clinic_id", in.ClinicID).Str("payment_ref", refOf(in)).
			Msg("payment already documented; skipping")
		return &RecordResult{Invoice: inv, Payment: existing, Duplicate: true}, nil
	}

	if in.StripeInvoiceRef != "" {
		inv, err := r.invoices.GetByStripeInvoiceID(ctx, in.ClinicID, in.StripeInvoiceRef)
		if err != nil {
			return nil, err
		}
		if inv != nil {
			return r.attachPayment(ctx, inv, in)
		}
	}

	return r.createPair(ctx, in)
}

func validateInput(in RecordInput) error {
	if in.PatientID == uuid.Nil {
		return errors.New("record payment: patient id required")
	}
	if in.PaymentIntentRef == "" && in.ChargeRef == "" {
		return errors.New("record payment: processor payment reference required")
	}
	if in.Amount < 0 {
		return fmt.Errorf("record payment: negative amount %d", in.Amount)
	}
	return nil
}

func (r *Recorder) findPaymentByRefs(ctx context.Context, in RecordInput) (*Payment, error) {
	if in.PaymentIntentRef != "" {
		if p, err := r.payments.GetByPaymentIntentID(ctx, in.ClinicID, in.PaymentIntentRef); err != nil || p != nil {
			return p, err
		}
	}
	if in.ChargeRef != "" {
		if p, err := r.payments.GetByChargeID(ctx, in.ClinicID, in.ChargeRef); err != nil || p != nil {
			return p, err
		}
	}
	return nil, nil
}

func (r *Recorder) attachPayment(ctx context.Context, inv *Invoice, in RecordInput) (*RecordResult, error) {
	pay := newPayment(inv, in)
	err := r.runTx(ctx, func(ctx context.Context) error {
		if err := r.payments.Create(ctx, pay); err != nil {
			return err
		}
		inv.AmountPaid += in.Amount
		if inv.AmountDue > in.Amount {
			inv.AmountDue -= in.Amount
		} else {
			inv.AmountDue = 0
		}
		if inv.AmountDue == 0 && inv.Status != InvoiceVoid {
			inv.Status = InvoicePaid
			if inv.PaidAt == nil {
				t := in.ReceivedAt
				inv.PaidAt = &t
			}
		}
		return r.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("attach payment to invoice %s: %w", inv.ID, err)
	}
	r.log.Info().Int64("clinic_id", in.ClinicID).Str("invoice_id", inv.ID.String()).
		Str("payment_ref", refOf(in)).Msg("recorded payment against existing invoice")
	return &RecordResult{Invoice: inv, Payment: pay}, nil
}

func (r *Recorder) createPair(ctx context.Context, in RecordInput) (*RecordResult, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = "Payment received"
	}

	t := in.ReceivedAt
	inv := &Invoice{
		ID:          uuid.New(),
		ClinicID:    in.ClinicID,
		PatientID:   in.PatientID,
		Status:      InvoicePaid,
		Currency:    in.Currency,
		AmountDue:   0,
		AmountPaid:  in.Amount,
		Description: desc,
		PaidAt:      &t,
		LineItems: []LineItem{{
			Description: desc,
			Quantity:    1,
			UnitAmount:  in.Amount,
			Amount:      in.Amount,
		}},
	}
	if in.StripeInvoiceRef != "" {
		ref := in.StripeInvoiceRef
		inv.StripeInvoiceID = &ref
	}
	pay := newPayment(inv, in)

	err := r.runTx(ctx, func(ctx context.Context) error {
		if err := r.invoices.Create(ctx, inv); err != nil {
			return err
		}
		return r.payments.Create(ctx, pay)
	})
	if err != nil {
		return nil, fmt.Errorf("record paid invoice: %w", err)
	}

	r.log.Info().Int64("clinic_id", in.ClinicID).Str("invoice_id", inv.ID.String()).
		Str("payment_ref", refOf(in)).Int64("amount", in.Amount).Str("currency", in.Currency).
		Msg("documented settled payment")
	return &RecordResult{Invoice: inv, Payment: pay}, nil
}

func newPayment(inv *Invoice, in RecordInput) *Payment {
	p := &Payment{
		ID:         uuid.New(),
		ClinicID:   in.ClinicID,
		PatientID:  in.PatientID,
		InvoiceID:  inv.ID,
		Amount:     in.Amount,
		Currency:   in.Currency,
		Status:     PaymentSucceeded,
		Method:     in.Method,
		ReceivedAt: in.ReceivedAt,
	}
	if in.PaymentIntentRef != "" {
		ref := in.PaymentIntentRef
		p.StripePaymentIntentID = &ref
	}
	if in.ChargeRef != "" {
		ref := in.ChargeRef
		p.StripeChargeID = &ref
	}
	return p
}

func refOf(in RecordInput) string {
	if in.PaymentIntentRef != "" {
		return in.PaymentIntentRef
	}
	return in.ChargeRef
}
