package clinic

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/revsync/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type settingsRepoPG struct{ pool *pgxpool.Pool }

func NewSettingsRepoPG(pool *pgxpool.Pool) SettingsRepository { return &settingsRepoPG{pool: pool} }

func (r *settingsRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *settingsRepoPG) Get(ctx context.Context, clinicID int64) (*Settings, error) {
	var s Settings
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT clinic_id, auto_invite_on_first_payment, auto_create_subscription,
			subscription_price_ref, subscription_trial_days, commission_enabled,
			portal_base_url, updated_at
		FROM clinic_settings WHERE clinic_id = $1`, clinicID).
		Scan(&s.ClinicID, &s.AutoInviteOnFirstPayment, &s.AutoCreateSubscription,
			&s.SubscriptionPriceRef, &s.SubscriptionTrialDays, &s.CommissionEnabled,
			&s.PortalBaseURL, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Defaults(clinicID), nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settingsRepoPG) Upsert(ctx context.Context, s *Settings) error {
	s.UpdatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinic_settings (clinic_id, auto_invite_on_first_payment, auto_create_subscription,
			subscription_price_ref, subscription_trial_days, commission_enabled, portal_base_url, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (clinic_id) DO UPDATE SET
			auto_invite_on_first_payment = EXCLUDED.auto_invite_on_first_payment,
			auto_create_subscription = EXCLUDED.auto_create_subscription,
			subscription_price_ref = EXCLUDED.subscription_price_ref,
			subscription_trial_days = EXCLUDED.subscription_trial_days,
			commission_enabled = EXCLUDED.commission_enabled,
			portal_base_url = EXCLUDED.portal_base_url,
			updated_at = EXCLUDED.updated_at`,
		s.ClinicID, s.AutoInviteOnFirstPayment, s.AutoCreateSubscription,
		s.SubscriptionPriceRef, s.SubscriptionTrialDays, s.CommissionEnabled,
		s.PortalBaseURL, s.UpdatedAt)
	return err
}
