package recon

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/revsync/internal/domain/billing"
	"github.com/telecare/revsync/internal/domain/patient"
)

// PatientProvisioner creates a new patient from enriched payment data.
// Implemented by patient.Provisioner.
type PatientProvisioner interface {
	Provision(ctx context.Context, clinicID int64, in patient.ProvisionInput) (*patient.Patient, error)
}

// CustomerRefBackfiller stores a processor customer reference on a matched
// patient that lacks one. Implemented by patient.Repository.
type CustomerRefBackfiller interface {
	UpdateStripeCustomerID(ctx context.Context, id uuid.UUID, customerRef string) error
}

// PaymentRecorder documents a settled payment. Implemented by
// billing.Recorder.
type PaymentRecorder interface {
	RecordPaidInvoice(ctx context.Context, in billing.RecordInput) (*billing.RecordResult, error)
}

// Result is the structured outcome of processing one event. No error ever
// escapes the orchestrator; failures arrive here with Success false.
type Result struct {
	Success        bool        `json:"success"`
	Status         Status      `json:"status"`
	Duplicate      bool        `json:"duplicate"`
	PatientID      *uuid.UUID  `json:"patient_id,omitempty"`
	InvoiceID      *uuid.UUID  `json:"invoice_id,omitempty"`
	PaymentID      *uuid.UUID  `json:"payment_id,omitempty"`
	PatientCreated bool        `json:"patient_created"`
	MatchedBy      MatchMethod `json:"matched_by,omitempty"`
	Confidence     Confidence  `json:"confidence,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// Orchestrator is the idempotent entry point that runs one settled payment
// event through enrichment, identity resolution, provisioning, recording,
// best-effort follow-ups and the audit ledger.
type Orchestrator struct {
	ledger      LedgerRepository
	enricher    *Enricher
	resolver    *Resolver
	provisioner PatientProvisioner
	backfill    CustomerRefBackfiller
	recorder    PaymentRecorder
	invoices    billing.InvoiceRepository
	settings    SettingsStore

	docs    DocumentationEnsurer
	subs    SubscriptionCreator
	invites InviteSender

	defaultClinic int64
	log           zerolog.Logger
}

// OrchestratorDeps bundles the orchestrator's collaborators. Docs, Subs and
// Invites may be nil; the corresponding follow-up is then skipped.
type OrchestratorDeps struct {
	Ledger      LedgerRepository
	Enricher    *Enricher
	Resolver    *Resolver
	Provisioner PatientProvisioner
	Backfill    CustomerRefBackfiller
	Recorder    PaymentRecorder
	Invoices    billing.InvoiceRepository
	Settings    SettingsStore

	Docs    DocumentationEnsurer
	Subs    SubscriptionCreator
	Invites InviteSender

	DefaultClinic int64
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(d OrchestratorDeps, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		ledger:        d.Ledger,
		enricher:      d.Enricher,
		resolver:      d.Resolver,
		provisioner:   d.Provisioner,
		backfill:      d.Backfill,
		recorder:      d.Recorder,
		invoices:      d.Invoices,
		settings:      d.Settings,
		docs:          d.Docs,
		subs:          d.Subs,
		invites:       d.Invites,
		defaultClinic: d.DefaultClinic,
		log:           log.With().Str("component", "orchestrator").Logger(),
	}
}

// Process runs one event end to end. A replayed event id short-circuits to
// the previously recorded outcome without touching any store. Error logs
// carry external references only, never extracted identity fields.
func (o *Orchestrator) Process(ctx context.Context, ev PaymentEvent) Result {
	if ev.EventID == "" {
		return Result{Success: false, Status: StatusFailed, Error: "event id required"}
	}

	prior, err := o.ledger.GetByEventID(ctx, ev.EventID)
	if err != nil {
		return o.fail(ctx, ev, 0, fmt.Errorf("ledger lookup: %w", err))
	}
	if prior != nil {
		o.log.Info().Str("event_id", ev.EventID).Str("status", string(prior.Status)).
			Msg("event already processed; returning recorded outcome")
		res := resultFromLedger(prior)
		res.Duplicate = true
		return res
	}

	ev = o.enricher.Enrich(ctx, ev)

	clinicID, err := o.resolveClinic(ev)
	if err != nil {
		return o.fail(ctx, ev, 0, err)
	}

	match, err := o.resolver.Resolve(ctx, clinicID, ev)
	if err != nil {
		return o.fail(ctx, ev, clinicID, fmt.Errorf("resolve identity: %w", err))
	}

	var (
		pat     *patient.Patient
		created bool
	)
	if match.Matched() {
		pat = match.Patient
		if ev.CustomerRef != "" && (pat.StripeCustomerID == nil || *pat.StripeCustomerID == "") {
			if err := o.backfill.UpdateStripeCustomerID(ctx, pat.ID, ev.CustomerRef); err != nil {
				return o.fail(ctx, ev, clinicID, fmt.Errorf("backfill customer ref: %w", err))
			}
			ref := ev.CustomerRef
			pat.StripeCustomerID = &ref
		}
	} else {
		first, last := patient.SplitName(ev.Name)
		if !HasRealName(ev.Name) {
			first, last = "", ""
		}
		pat, err = o.provisioner.Provision(ctx, clinicID, patient.ProvisionInput{
			FirstName:        first,
			LastName:         last,
			Email:            ev.Email,
			Phone:            ev.Phone,
			AddressLine1:     ev.AddressLine1,
			AddressLine2:     ev.AddressLine2,
			City:             ev.City,
			State:            ev.State,
			PostalCode:       ev.PostalCode,
			StripeCustomerID: ev.CustomerRef,
			PaymentRef:       ev.PaymentRef(),
		})
		if err != nil {
			return o.fail(ctx, ev, clinicID, fmt.Errorf("provision patient: %w", err))
		}
		created = true
	}

	rec, err := o.recorder.RecordPaidInvoice(ctx, billing.RecordInput{
		ClinicID:         clinicID,
		PatientID:        pat.ID,
		Amount:           ev.Amount,
		Currency:         ev.Currency,
		Description:      ev.Description,
		Method:           "card",
		StripeInvoiceRef: ev.InvoiceRef,
		PaymentIntentRef: ev.PaymentIntentRef,
		ChargeRef:        ev.ChargeRef,
		ReceivedAt:       ev.PaidAt,
	})
	if err != nil {
		return o.fail(ctx, ev, clinicID, fmt.Errorf("record payment: %w", err))
	}

	o.runSideEffects(ctx, clinicID, ev, pat, rec, created)

	row := &Reconciliation{
		StripeEventID:  ev.EventID,
		EventType:      ev.EventType,
		ClinicID:       clinicID,
		ExtractedEmail: ev.Email,
		ExtractedName:  ev.Name,
		ExtractedPhone: ev.Phone,
		CustomerRef:    ev.CustomerRef,
		Status:         StatusMatched,
		PatientCreated: created,
	}
	if created {
		row.Status = StatusCreated
	} else {
		method, conf := string(match.Method), string(match.Confidence)
		row.MatchedBy, row.Confidence = &method, &conf
	}
	pid := pat.ID
	row.PatientID = &pid
	if rec.Invoice != nil {
		iid := rec.Invoice.ID
		row.InvoiceID = &iid
	}
	if rec.Payment != nil {
		payID := rec.Payment.ID
		row.PaymentID = &payID
	}
	if err := o.ledger.Create(ctx, row); err != nil {
		// The money is documented; losing the ledger row only weakens the
		// idempotency guard for this one event id.
		o.log.Error().Err(err).Str("event_id", ev.EventID).Msg("writing reconciliation ledger row failed")
	}

	res := resultFromLedger(row)
	res.Duplicate = rec.Duplicate
	return res
}

// resolveClinic determines the tenant for an event: explicit clinic_id
// metadata wins, then the configured default. No tenant is a hard failure,
// never a guess.
func (o *Orchestrator) resolveClinic(ev PaymentEvent) (int64, error) {
	if v := ev.MetaValue("clinic_id", "clinicId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid clinic_id metadata %q", v)
		}
		return id, nil
	}
	if o.defaultClinic > 0 {
		return o.defaultClinic, nil
	}
	return 0, fmt.Errorf("no tenant available for event %s", ev.EventID)
}

// runSideEffects fires the post-commit follow-ups. Each is independently
// caught: a failure here never rolls back or fails the processed event.
func (o *Orchestrator) runSideEffects(ctx context.Context, clinicID int64, ev PaymentEvent, pat *patient.Patient, rec *billing.RecordResult, created bool) {
	if rec.Duplicate || rec.Invoice == nil {
		return
	}
	inv := rec.Invoice

	if o.docs != nil {
		if _, err := o.docs.EnsureDocumentation(ctx, pat.ID, inv.ID); err != nil {
			o.log.Warn().Err(err).Str("event_id", ev.EventID).Str("invoice_id", inv.ID.String()).
				Msg("documentation follow-up failed")
		}
	}

	settings, err := o.settings.Get(ctx, clinicID)
	if err != nil {
		o.log.Warn().Err(err).Int64("clinic_id", clinicID).Msg("loading clinic settings failed; skipping follow-ups")
		return
	}

	if settings.CommissionEnabled && !inv.CommissionGenerated {
		inv.CommissionGenerated = true
		if err := o.invoices.Update(ctx, inv); err != nil {
			o.log.Warn().Err(err).Str("invoice_id", inv.ID.String()).Msg("marking invoice for commission failed")
		}
	}

	if o.subs != nil && ev.HasRecurring && settings.AutoCreateSubscription &&
		settings.SubscriptionPriceRef != "" && ev.CustomerRef != "" && !inv.SubscriptionCreated {
		subRef, err := o.subs.CreateSubscription(ctx, ev.CustomerRef, settings.SubscriptionPriceRef,
			settings.SubscriptionTrialDays, map[string]string{"clinic_id": strconv.FormatInt(clinicID, 10)})
		if err != nil {
			o.log.Warn().Err(err).Str("event_id", ev.EventID).Msg("subscription follow-up failed")
		} else {
			inv.SubscriptionCreated = true
			if err := o.invoices.Update(ctx, inv); err != nil {
				o.log.Warn().Err(err).Str("invoice_id", inv.ID.String()).
					Str("subscription_ref", subRef).Msg("marking invoice subscription flag failed")
			}
		}
	}

	if o.invites != nil && settings.AutoInviteOnFirstPayment && pat.Email != "" {
		if first, err := o.isFirstPayment(ctx, clinicID, pat.ID, created); err != nil {
			o.log.Warn().Err(err).Str("event_id", ev.EventID).Msg("first-payment check failed; skipping invite")
		} else if first {
			link := settings.PortalBaseURL + "/portal/invite/" + pat.ID.String()
			if err := o.invites.SendPortalInvite(ctx, pat.Email, pat.FirstName, link, "first_payment"); err != nil {
				o.log.Warn().Err(err).Str("event_id", ev.EventID).Msg("portal invite failed")
			}
		}
	}
}

func (o *Orchestrator) isFirstPayment(ctx context.Context, clinicID int64, patientID uuid.UUID, created bool) (bool, error) {
	if created {
		return true, nil
	}
	_, total, err := o.invoices.ListByPatient(ctx, clinicID, patientID, 1, 0)
	if err != nil {
		return false, err
	}
	return total <= 1, nil
}

// fail records a FAILED ledger row (best-effort) and converts the error into
// a structured failure result.
func (o *Orchestrator) fail(ctx context.Context, ev PaymentEvent, clinicID int64, cause error) Result {
	o.log.Error().Err(cause).
		Str("event_id", ev.EventID).
		Str("event_type", ev.EventType).
		Str("customer_ref", ev.CustomerRef).
		Msg("event processing failed")

	row := &Reconciliation{
		StripeEventID:  ev.EventID,
		EventType:      ev.EventType,
		ClinicID:       clinicID,
		ExtractedEmail: ev.Email,
		ExtractedName:  ev.Name,
		ExtractedPhone: ev.Phone,
		CustomerRef:    ev.CustomerRef,
		Status:         StatusFailed,
		ErrorMessage:   cause.Error(),
	}
	if err := o.ledger.Create(ctx, row); err != nil {
		o.log.Error().Err(err).Str("event_id", ev.EventID).Msg("writing FAILED ledger row failed")
	}
	return Result{Success: false, Status: StatusFailed, Error: cause.Error()}
}

func resultFromLedger(rec *Reconciliation) Result {
	res := Result{
		Success:        rec.Status == StatusMatched || rec.Status == StatusCreated,
		Status:         rec.Status,
		PatientID:      rec.PatientID,
		InvoiceID:      rec.InvoiceID,
		PaymentID:      rec.PaymentID,
		PatientCreated: rec.PatientCreated,
		Error:          rec.ErrorMessage,
	}
	if rec.MatchedBy != nil {
		res.MatchedBy = MatchMethod(*rec.MatchedBy)
	}
	if rec.Confidence != nil {
		res.Confidence = Confidence(*rec.Confidence)
	}
	return res
}
