package recon

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the recorded outcome of one processed event.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusMatched Status = "MATCHED"
	StatusCreated Status = "CREATED"
	StatusFailed  Status = "FAILED"
	// StatusSkipped is reserved for event shapes we acknowledge but do not
	// act on; nothing writes it today.
	StatusSkipped Status = "SKIPPED"
)

// Reconciliation is one ledger row per processed upstream event. The unique
// StripeEventID doubles as the idempotency key: a replay short-circuits to
// this row's recorded outcome.
type Reconciliation struct {
	ID            uuid.UUID `db:"id" json:"id"`
	StripeEventID string    `db:"stripe_event_id" json:"stripe_event_id"`
	EventType     string    `db:"event_type" json:"event_type"`
	ClinicID      int64     `db:"clinic_id" json:"clinic_id"`

	ExtractedEmail string `db:"extracted_email" json:"extracted_email,omitempty"`
	ExtractedName  string `db:"extracted_name" json:"extracted_name,omitempty"`
	ExtractedPhone string `db:"extracted_phone" json:"extracted_phone,omitempty"`
	CustomerRef    string `db:"customer_ref" json:"customer_ref,omitempty"`

	Status         Status     `db:"status" json:"status"`
	MatchedBy      *string    `db:"matched_by" json:"matched_by,omitempty"`
	Confidence     *string    `db:"confidence" json:"confidence,omitempty"`
	PatientID      *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	InvoiceID      *uuid.UUID `db:"invoice_id" json:"invoice_id,omitempty"`
	PaymentID      *uuid.UUID `db:"payment_id" json:"payment_id,omitempty"`
	PatientCreated bool       `db:"patient_created" json:"patient_created"`
	ErrorMessage   string     `db:"error_message" json:"error_message,omitempty"`

	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}

// LedgerRepository stores reconciliation rows. GetByEventID returns
// (nil, nil) when the event has never been processed.
type LedgerRepository interface {
	Create(ctx context.Context, rec *Reconciliation) error
	GetByEventID(ctx context.Context, eventID string) (*Reconciliation, error)
	List(ctx context.Context, clinicID int64, limit, offset int) ([]*Reconciliation, int, error)
}
