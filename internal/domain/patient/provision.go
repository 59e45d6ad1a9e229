package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SourcePaymentAuto marks records created by the payment reconciliation
// pipeline rather than staff intake.
const SourcePaymentAuto = "payment_auto"

// ProvisionInput carries whatever identity data survived extraction and
// enrichment for a payment we could not match to an existing patient. Any
// field may be empty.
type ProvisionInput struct {
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	AddressLine1     string
	AddressLine2     string
	City             string
	State            string
	PostalCode       string
	StripeCustomerID string
	// PaymentRef is the processor-side reference of the payment that
	// triggered provisioning; recorded for provenance.
	PaymentRef string
}

// Provisioner creates minimal patient records from payment data. Auto-created
// patients are always PENDING_COMPLETION regardless of how complete the
// payment data looked, and carry a provenance note naming the triggering
// payment and any identity fields that were missing at creation time.
type Provisioner struct {
	repo Repository
	log  zerolog.Logger
}

// NewProvisioner builds a Provisioner over the patient repository.
func NewProvisioner(repo Repository, log zerolog.Logger) *Provisioner {
	return &Provisioner{repo: repo, log: log.With().Str("component", "patient_provisioner").Logger()}
}

// Provision creates and persists a new patient for the clinic. Missing names
// fall back to the "Unknown Customer" placeholder pair; the patient number is
// allocated atomically per clinic so concurrent provisioning never collides.
func (pr *Provisioner) Provision(ctx context.Context, clinicID int64, in ProvisionInput) (*Patient, error) {
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" && last == "" {
		first, last = PlaceholderFirstName, PlaceholderLastName
	} else if first == "" {
		first = PlaceholderFirstName
	} else if last == "" {
		last = PlaceholderLastName
	}

	seq, err := pr.repo.NextPatientNumber(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("allocate patient number: %w", err)
	}

	now := time.Now().UTC()
	p := &Patient{
		ID:            uuid.New(),
		ClinicID:      clinicID,
		PatientNumber: fmt.Sprintf("P%06d", seq),
		FirstName:     first,
		LastName:      last,
		Email:         NormalizeEmail(in.Email),
		Phone:         strings.TrimSpace(in.Phone),
		AddressLine1:  strings.TrimSpace(in.AddressLine1),
		AddressLine2:  strings.TrimSpace(in.AddressLine2),
		City:          strings.TrimSpace(in.City),
		State:         strings.TrimSpace(in.State),
		PostalCode:    strings.TrimSpace(in.PostalCode),
		Source:        SourcePaymentAuto,
		ProfileStatus: StatusPendingCompletion,
		Notes:         provenanceNote(in),
		Metadata:      map[string]string{"created_from_payment": in.PaymentRef},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if ref := strings.TrimSpace(in.StripeCustomerID); ref != "" {
		p.StripeCustomerID = &ref
	}

	if err := pr.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create auto-provisioned patient: %w", err)
	}

	pr.log.Info().
		Int64("clinic_id", clinicID).
		Str("patient_id", p.ID.String()).
		Str("patient_number", p.PatientNumber).
		Bool("placeholder", p.IsPlaceholder()).
		Str("payment_ref", in.PaymentRef).
		Msg("auto-provisioned patient from payment")
	return p, nil
}

// provenanceNote records where the patient came from and which identity
// fields were missing when the record was created, so intake staff know what
// still needs collecting.
func provenanceNote(in ProvisionInput) string {
	var missing []string
	if strings.TrimSpace(in.FirstName) == "" && strings.TrimSpace(in.LastName) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(in.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(in.Phone) == "" {
		missing = append(missing, "phone")
	}

	note := "Auto-created from payment " + in.PaymentRef + "."
	if len(missing) > 0 {
		note += " Missing at creation: " + strings.Join(missing, ", ") + "."
	}
	return note
}
