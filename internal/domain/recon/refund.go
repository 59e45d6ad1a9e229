package recon

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/revsync/internal/domain/billing"
	"github.com/telecare/revsync/internal/domain/patient"
)

// RefundOutcome is the structured result of applying one refund. No error
// escapes the reconciler boundary.
type RefundOutcome struct {
	Success   bool       `json:"success"`
	Full      bool       `json:"full"`
	Duplicate bool       `json:"duplicate"`
	PaymentID *uuid.UUID `json:"payment_id,omitempty"`
	InvoiceID *uuid.UUID `json:"invoice_id,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Reconciler applies refund events to local invoice/payment state and runs
// on-demand drift sync against the authoritative upstream charge.
type Reconciler struct {
	invoices billing.InvoiceRepository
	payments billing.PaymentRepository
	patients patient.Repository
	charges  ChargeFetcher
	ledger   LedgerRepository
	runTx    billing.TxRunner
	log      zerolog.Logger
}

// NewReconciler builds a Reconciler. Refund events pass through the same
// ledger as payment events, so a replayed delivery returns the recorded
// outcome instead of applying the refund again.
func NewReconciler(invoices billing.InvoiceRepository, payments billing.PaymentRepository,
	patients patient.Repository, charges ChargeFetcher, ledger LedgerRepository,
	runTx billing.TxRunner, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		invoices: invoices,
		payments: payments,
		patients: patients,
		charges:  charges,
		ledger:   ledger,
		runTx:    runTx,
		log:      log.With().Str("component", "reconciler").Logger(),
	}
}

// ApplyRefund locates the payment by charge or payment-intent reference and
// applies the refund. Cumulative refunds reaching the original amount void
// the invoice; anything less leaves it PAID with a reduced amount paid.
// An event id already present in the ledger short-circuits to the recorded
// outcome; drift-sync refunds carry no event id and skip the ledger.
func (r *Reconciler) ApplyRefund(ctx context.Context, ev RefundEvent) RefundOutcome {
	if ev.EventID != "" {
		prior, err := r.ledger.GetByEventID(ctx, ev.EventID)
		if err != nil {
			return r.refundFailure(ctx, ev, 0, fmt.Errorf("ledger lookup: %w", err))
		}
		if prior != nil {
			r.log.Info().Str("event_id", ev.EventID).Str("status", string(prior.Status)).
				Msg("refund event already processed; returning recorded outcome")
			return RefundOutcome{
				Success:   prior.Status != StatusFailed,
				Duplicate: true,
				PaymentID: prior.PaymentID,
				InvoiceID: prior.InvoiceID,
				Error:     prior.ErrorMessage,
			}
		}
	}

	pay, err := r.payments.GetByProcessorRef(ctx, ev.ChargeRef, ev.PaymentIntentRef)
	if err != nil {
		return r.refundFailure(ctx, ev, 0, fmt.Errorf("lookup payment: %w", err))
	}
	if pay == nil {
		return r.refundFailure(ctx, ev, 0, fmt.Errorf("no payment for refund %s", ev.RefundRef))
	}
	if ev.Currency != "" && pay.Currency != "" && ev.Currency != pay.Currency {
		// Cross-currency refunds have no defined conversion rule; apply the
		// minor-unit amount as-is and flag it.
		r.log.Warn().Str("refund_ref", ev.RefundRef).
			Str("refund_currency", ev.Currency).Str("payment_currency", pay.Currency).
			Msg("refund currency differs from payment currency")
	}

	inv, err := r.invoices.GetByID(ctx, pay.InvoiceID)
	if err != nil {
		return r.refundFailure(ctx, ev, pay.ClinicID, fmt.Errorf("lookup invoice: %w", err))
	}
	if inv == nil {
		return r.refundFailure(ctx, ev, pay.ClinicID, fmt.Errorf("payment %s has no invoice", pay.ID))
	}

	refundedTotal := pay.AmountRefunded + ev.Amount
	if ev.Cumulative {
		refundedTotal = ev.Amount
		if refundedTotal <= pay.AmountRefunded {
			// Local state already reflects this total; record the event and
			// leave the pair alone.
			r.recordRefundOutcome(ctx, ev, pay.ClinicID, StatusMatched, pay, inv, "")
			pid, iid := pay.ID, inv.ID
			return RefundOutcome{
				Success:   true,
				Full:      pay.Status == billing.PaymentRefunded,
				PaymentID: &pid,
				InvoiceID: &iid,
			}
		}
	}

	full := r.applyRefundTotal(inv, pay, refundedTotal)
	err = r.runTx(ctx, func(ctx context.Context) error {
		if err := r.payments.Update(ctx, pay); err != nil {
			return err
		}
		return r.invoices.Update(ctx, inv)
	})
	if err != nil {
		return r.refundFailure(ctx, ev, pay.ClinicID, fmt.Errorf("apply refund: %w", err))
	}

	r.log.Info().Str("refund_ref", ev.RefundRef).Str("payment_id", pay.ID.String()).
		Str("invoice_id", inv.ID.String()).Bool("full", full).Int64("amount", ev.Amount).
		Msg("refund applied")
	r.recordRefundOutcome(ctx, ev, pay.ClinicID, StatusMatched, pay, inv, "")
	pid, iid := pay.ID, inv.ID
	return RefundOutcome{Success: true, Full: full, PaymentID: &pid, InvoiceID: &iid}
}

// applyRefundTotal mutates the pair in memory for a cumulative refunded
// total and reports whether the refund is full.
func (r *Reconciler) applyRefundTotal(inv *billing.Invoice, pay *billing.Payment, refundedTotal int64) bool {
	// Reconstruct the invoice's original total: what remains paid plus what
	// earlier refunds already took off.
	originalTotal := inv.AmountDue + inv.AmountPaid + pay.AmountRefunded
	delta := refundedTotal - pay.AmountRefunded
	pay.AmountRefunded = refundedTotal

	if inv.AmountPaid > delta {
		inv.AmountPaid -= delta
	} else {
		inv.AmountPaid = 0
	}

	if refundedTotal >= pay.Amount {
		pay.Status = billing.PaymentRefunded
		inv.Status = billing.InvoiceVoid
		inv.AmountDue = originalTotal
		return true
	}
	pay.Status = billing.PaymentPartiallyRefunded
	inv.Status = billing.InvoicePaid
	inv.AmountDue = 0
	return false
}

func (r *Reconciler) refundFailure(ctx context.Context, ev RefundEvent, clinicID int64, cause error) RefundOutcome {
	r.log.Error().Err(cause).Str("refund_ref", ev.RefundRef).
		Str("charge_ref", ev.ChargeRef).Str("payment_intent_ref", ev.PaymentIntentRef).
		Msg("refund reconciliation failed")
	r.recordRefundOutcome(ctx, ev, clinicID, StatusFailed, nil, nil, cause.Error())
	return RefundOutcome{Success: false, Error: cause.Error()}
}

// recordRefundOutcome writes the ledger row that makes the refund event
// replay-safe. Events without an id (drift sync) are not recorded.
func (r *Reconciler) recordRefundOutcome(ctx context.Context, ev RefundEvent, clinicID int64,
	status Status, pay *billing.Payment, inv *billing.Invoice, errMsg string) {
	if ev.EventID == "" {
		return
	}
	row := &Reconciliation{
		StripeEventID: ev.EventID,
		EventType:     ev.EventType,
		ClinicID:      clinicID,
		Status:        status,
		ErrorMessage:  errMsg,
	}
	if pay != nil {
		pid := pay.ID
		row.PaymentID = &pid
		patID := pay.PatientID
		row.PatientID = &patID
	}
	if inv != nil {
		iid := inv.ID
		row.InvoiceID = &iid
	}
	if err := r.ledger.Create(ctx, row); err != nil {
		// The refund itself is committed; losing the row only weakens the
		// idempotency guard for this one event id.
		r.log.Error().Err(err).Str("event_id", ev.EventID).Msg("writing refund ledger row failed")
	}
}
