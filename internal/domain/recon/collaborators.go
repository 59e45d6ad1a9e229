package recon

import (
	"context"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v74"

	"github.com/telecare/revsync/internal/domain/clinic"
	"github.com/telecare/revsync/internal/platform/stripeconn"
)

// CustomerDirectory fetches the authoritative upstream customer record.
// Implemented by stripeconn.Connector. A nil customer with nil error means
// not found or deleted upstream.
type CustomerDirectory interface {
	LookupCustomer(ctx context.Context, customerRef string) (*stripeconn.Customer, error)
}

// ChargeFetcher retrieves the authoritative charge for drift sync and for
// payment intents that arrive with a bare charge reference.
type ChargeFetcher interface {
	FetchCharge(ctx context.Context, chargeRef string) (*stripe.Charge, error)
}

// SubscriptionCreator enrolls a customer in a recurring plan. Best-effort:
// the orchestrator catches its errors.
type SubscriptionCreator interface {
	CreateSubscription(ctx context.Context, customerRef, priceRef string, trialDays int64, metadata map[string]string) (string, error)
}

// DocumentationEnsurer guarantees downstream clinical documentation exists
// for a paid invoice. Best-effort.
type DocumentationEnsurer interface {
	EnsureDocumentation(ctx context.Context, patientID, invoiceID uuid.UUID) (string, error)
}

// InviteSender delivers the portal invite for a patient's first payment.
// Best-effort.
type InviteSender interface {
	SendPortalInvite(ctx context.Context, to, patientName, inviteLink, reason string) error
}

// SettingsStore returns per-clinic follow-up settings. Implemented by
// clinic.SettingsRepository.
type SettingsStore interface {
	Get(ctx context.Context, clinicID int64) (*clinic.Settings, error)
}
