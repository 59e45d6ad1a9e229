package recon

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v74"

	"github.com/telecare/revsync/internal/domain/billing"
	"github.com/telecare/revsync/internal/domain/patient"
)

// SyncOutcome is the structured result of one on-demand drift sync.
type SyncOutcome struct {
	Success           bool       `json:"success"`
	RefundApplied     bool       `json:"refund_applied"`
	PatientBackfilled bool       `json:"patient_backfilled"`
	InvoiceID         *uuid.UUID `json:"invoice_id,omitempty"`
	PatientID         *uuid.UUID `json:"patient_id,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// SyncInvoice re-fetches the authoritative charge for a local invoice and
// corrects drift: refund state that never arrived as an event, and a
// placeholder patient whose real identity has since landed upstream. Called
// on demand, never event-driven.
func (r *Reconciler) SyncInvoice(ctx context.Context, invoiceID uuid.UUID) SyncOutcome {
	inv, err := r.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return r.syncFailure(invoiceID, fmt.Errorf("lookup invoice: %w", err))
	}
	if inv == nil {
		return r.syncFailure(invoiceID, fmt.Errorf("invoice %s not found", invoiceID))
	}

	payments, err := r.payments.ListByInvoice(ctx, inv.ID)
	if err != nil {
		return r.syncFailure(invoiceID, fmt.Errorf("list payments: %w", err))
	}
	var pay *billing.Payment
	for _, p := range payments {
		if p.StripeChargeID != nil && *p.StripeChargeID != "" {
			pay = p
			break
		}
	}
	if pay == nil {
		return r.syncFailure(invoiceID, fmt.Errorf("invoice %s has no payment with a charge reference", invoiceID))
	}

	charge, err := r.charges.FetchCharge(ctx, *pay.StripeChargeID)
	if err != nil {
		return r.syncFailure(invoiceID, fmt.Errorf("fetch charge: %w", err))
	}
	if charge == nil {
		return r.syncFailure(invoiceID, fmt.Errorf("charge %s not found upstream", *pay.StripeChargeID))
	}

	out := SyncOutcome{Success: true}
	iid := inv.ID
	out.InvoiceID = &iid

	if charge.AmountRefunded > pay.AmountRefunded {
		r.applyRefundTotal(inv, pay, charge.AmountRefunded)
		err = r.runTx(ctx, func(ctx context.Context) error {
			if err := r.payments.Update(ctx, pay); err != nil {
				return err
			}
			return r.invoices.Update(ctx, inv)
		})
		if err != nil {
			return r.syncFailure(invoiceID, fmt.Errorf("apply drifted refund: %w", err))
		}
		out.RefundApplied = true
		r.log.Info().Str("invoice_id", inv.ID.String()).
			Int64("amount_refunded", charge.AmountRefunded).Msg("applied refund discovered during sync")
	}

	backfilled, err := r.backfillPlaceholder(ctx, inv.PatientID, charge)
	if err != nil {
		// Refund correction above already committed; report the partial.
		return r.syncFailure(invoiceID, fmt.Errorf("backfill patient: %w", err))
	}
	out.PatientBackfilled = backfilled
	pid := inv.PatientID
	out.PatientID = &pid
	return out
}

// backfillPlaceholder fills real identity data into a still-placeholder
// patient from the charge's billing details, promoting the record to ACTIVE
// once a real name lands.
func (r *Reconciler) backfillPlaceholder(ctx context.Context, patientID uuid.UUID, charge *stripe.Charge) (bool, error) {
	pat, err := r.patients.GetByID(ctx, patientID)
	if err != nil {
		return false, err
	}
	if pat == nil || !pat.IsPlaceholder() {
		return false, nil
	}

	var name, email, phone string
	if bd := charge.BillingDetails; bd != nil {
		name, email, phone = bd.Name, bd.Email, bd.Phone
	}
	if email == "" {
		email = charge.ReceiptEmail
	}

	changed := false
	if HasRealName(name) {
		first, last := patient.SplitName(name)
		if first != "" && last != "" {
			pat.FirstName, pat.LastName = first, last
			pat.ProfileStatus = patient.StatusActive
			changed = true
		}
	}
	if pat.Email == "" && email != "" {
		pat.Email = patient.NormalizeEmail(email)
		changed = true
	}
	if pat.Phone == "" && phone != "" {
		pat.Phone = phone
		changed = true
	}
	if !changed {
		return false, nil
	}

	if err := r.patients.Update(ctx, pat); err != nil {
		return false, err
	}
	r.log.Info().Str("patient_id", pat.ID.String()).
		Str("profile_status", string(pat.ProfileStatus)).
		Msg("backfilled placeholder patient from upstream charge")
	return true, nil
}

func (r *Reconciler) syncFailure(invoiceID uuid.UUID, cause error) SyncOutcome {
	r.log.Error().Err(cause).Str("invoice_id", invoiceID.String()).Msg("invoice drift sync failed")
	return SyncOutcome{Success: false, Error: cause.Error()}
}
