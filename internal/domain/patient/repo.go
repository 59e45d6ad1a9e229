package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the patient store. Finders return (nil, nil) when no row
// matches. The *Plain finders run SQL equality against the stored column
// value and therefore only hit rows whose fields are still plaintext; the
// encrypted population is covered by ListRecent plus in-memory comparison in
// the Matcher.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetByStripeCustomerID looks up the globally-unique Stripe customer
	// reference without clinic scoping; callers MUST re-validate the
	// result's clinic before trusting it.
	GetByStripeCustomerID(ctx context.Context, customerRef string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	UpdateStripeCustomerID(ctx context.Context, id uuid.UUID, customerRef string) error

	FindByEmailPlain(ctx context.Context, clinicID int64, email string) (*Patient, error)
	FindByPhonePlain(ctx context.Context, clinicID int64, variants []string) (*Patient, error)
	FindByNamePlain(ctx context.Context, clinicID int64, first, last string) (*Patient, error)
	// ListRecent returns up to limit clinic-scoped patients, newest first,
	// with identity fields decrypted (or raw for legacy rows).
	ListRecent(ctx context.Context, clinicID int64, limit int) ([]*Patient, error)

	// NextPatientNumber atomically increments and returns the clinic's
	// patient counter. Safe under concurrent provisioning.
	NextPatientNumber(ctx context.Context, clinicID int64) (int64, error)
}
