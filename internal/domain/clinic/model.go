package clinic

import "time"

// Settings controls the per-clinic follow-ups that run after a payment is
// reconciled. Defaults() values apply to clinics that never saved a row.
type Settings struct {
	ClinicID int64 `db:"clinic_id" json:"clinic_id"`

	// AutoInviteOnFirstPayment sends a portal invite when a patient's
	// first payment is documented and the patient has an email.
	AutoInviteOnFirstPayment bool `db:"auto_invite_on_first_payment" json:"auto_invite_on_first_payment"`

	// AutoCreateSubscription enrolls the patient in the clinic's recurring
	// plan after their first documented payment.
	AutoCreateSubscription bool   `db:"auto_create_subscription" json:"auto_create_subscription"`
	SubscriptionPriceRef   string `db:"subscription_price_ref" json:"subscription_price_ref,omitempty"`
	SubscriptionTrialDays  int64  `db:"subscription_trial_days" json:"subscription_trial_days"`

	// CommissionEnabled marks paid invoices for downstream commission
	// generation.
	CommissionEnabled bool `db:"commission_enabled" json:"commission_enabled"`

	// PortalBaseURL prefixes patient portal invite links.
	PortalBaseURL string `db:"portal_base_url" json:"portal_base_url,omitempty"`

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Defaults returns the settings used when a clinic has no stored row:
// every follow-up off.
func Defaults(clinicID int64) *Settings {
	return &Settings{ClinicID: clinicID}
}
