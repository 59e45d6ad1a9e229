package clinic

import "context"

// SettingsRepository stores per-clinic follow-up settings.
type SettingsRepository interface {
	// Get returns the clinic's settings, falling back to Defaults when no
	// row exists. Never returns (nil, nil).
	Get(ctx context.Context, clinicID int64) (*Settings, error)
	Upsert(ctx context.Context, s *Settings) error
}
