package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProfileStatus tracks how complete and verified a patient record is.
// Records auto-created from payment events always start PENDING_COMPLETION:
// clinical intake fields still require human review before the patient can
// enter a prescribing queue, no matter how good the payment data was.
type ProfileStatus string

const (
	StatusActive            ProfileStatus = "ACTIVE"
	StatusPendingCompletion ProfileStatus = "PENDING_COMPLETION"
	StatusMerged            ProfileStatus = "MERGED"
	StatusArchived          ProfileStatus = "ARCHIVED"
)

// Placeholder name pair assigned when no usable name survives enrichment.
const (
	PlaceholderFirstName = "Unknown"
	PlaceholderLastName  = "Customer"
)

// Patient is a clinic-scoped identity record. Identity fields (name, email,
// phone, address, DOB) are stored encrypted at rest with a non-deterministic
// cipher; the repository decrypts on read, falling back to the raw stored
// value for legacy plaintext rows.
type Patient struct {
	ID               uuid.UUID         `db:"id" json:"id"`
	ClinicID         int64             `db:"clinic_id" json:"clinic_id"`
	PatientNumber    string            `db:"patient_number" json:"patient_number"`
	FirstName        string            `db:"first_name" json:"first_name"`
	LastName         string            `db:"last_name" json:"last_name"`
	Email            string            `db:"email" json:"email,omitempty"`
	Phone            string            `db:"phone" json:"phone,omitempty"`
	AddressLine1     string            `db:"address_line1" json:"address_line1,omitempty"`
	AddressLine2     string            `db:"address_line2" json:"address_line2,omitempty"`
	City             string            `db:"city" json:"city,omitempty"`
	State            string            `db:"state" json:"state,omitempty"`
	PostalCode       string            `db:"postal_code" json:"postal_code,omitempty"`
	DateOfBirth      string            `db:"date_of_birth" json:"date_of_birth,omitempty"`
	StripeCustomerID *string           `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	Source           string            `db:"source" json:"source"`
	ProfileStatus    ProfileStatus     `db:"profile_status" json:"profile_status"`
	Notes            string            `db:"notes" json:"notes,omitempty"`
	Metadata         map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

// IsPlaceholder reports whether the record still carries the auto-created
// placeholder name and has never been backfilled with real identity data.
func (p *Patient) IsPlaceholder() bool {
	return p.FirstName == PlaceholderFirstName
}

// NormalizeEmail lowercases and trims an email for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeName lowercases and trims a name part for comparison.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizePhone strips all non-digit characters and reduces the number to a
// bare 10-digit form, dropping a leading country-code "1" from 11-digit
// numbers. Shorter or longer inputs are returned digits-only, unchanged.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// PhoneVariants returns the candidate stored forms a normalized number may
// appear under: the bare 10 digits and the 1-prefixed 11-digit form.
func PhoneVariants(phone string) []string {
	digits := NormalizePhone(phone)
	if digits == "" {
		return nil
	}
	if len(digits) == 10 {
		return []string{digits, "1" + digits}
	}
	return []string{digits}
}

// SplitName tokenizes a full name on whitespace: the final token is the last
// name, all preceding tokens joined by spaces form the first name. A
// single-token name yields an empty last name.
func SplitName(full string) (first, last string) {
	tokens := strings.Fields(full)
	switch len(tokens) {
	case 0:
		return "", ""
	case 1:
		return tokens[0], ""
	default:
		return strings.Join(tokens[:len(tokens)-1], " "), tokens[len(tokens)-1]
	}
}
