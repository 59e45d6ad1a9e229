package patient

import (
	"context"

	"github.com/rs/zerolog"
)

// matchScanLimit caps the pass-2 candidate scan. Clinics larger than this can
// silently miss matches on encrypted fields; that is a known scalability gap,
// not something to tune away here.
const matchScanLimit = 5000

// Matcher finds patients by identity field value. Encrypted fields use a
// non-deterministic cipher, so equality cannot be pushed to SQL for them;
// matching therefore runs two passes:
//
//	Pass 1: SQL equality against the stored column, which hits rows whose
//	        fields are still plaintext (pre-encryption legacy rows and
//	        environments without a configured key).
//	Pass 2: load a bounded, clinic-scoped candidate set (newest first),
//	        compare the repository-decrypted values in memory. A candidate
//	        whose field failed to decrypt is compared by its raw value.
//
// Pass 1 short-circuits pass 2 on a hit. All methods are read-only.
type Matcher struct {
	repo Repository
	log  zerolog.Logger
}

// NewMatcher builds a Matcher over the patient repository.
func NewMatcher(repo Repository, log zerolog.Logger) *Matcher {
	return &Matcher{repo: repo, log: log.With().Str("component", "patient_matcher").Logger()}
}

// MatchByEmail returns the newest clinic patient whose email equals the given
// address (case-insensitive, trimmed), or nil.
func (m *Matcher) MatchByEmail(ctx context.Context, clinicID int64, email string) (*Patient, error) {
	want := NormalizeEmail(email)
	if want == "" {
		return nil, nil
	}

	if p, err := m.repo.FindByEmailPlain(ctx, clinicID, want); err != nil {
		return nil, err
	} else if p != nil {
		return p, nil
	}

	return m.scan(ctx, clinicID, func(p *Patient) bool {
		return NormalizeEmail(p.Email) == want
	})
}

// MatchByPhone returns the newest clinic patient whose phone normalizes to
// the same bare 10 digits, or nil.
func (m *Matcher) MatchByPhone(ctx context.Context, clinicID int64, phone string) (*Patient, error) {
	want := NormalizePhone(phone)
	if want == "" {
		return nil, nil
	}

	if p, err := m.repo.FindByPhonePlain(ctx, clinicID, PhoneVariants(phone)); err != nil {
		return nil, err
	} else if p != nil {
		return p, nil
	}

	return m.scan(ctx, clinicID, func(p *Patient) bool {
		return NormalizePhone(p.Phone) == want
	})
}

// MatchByName returns the newest clinic patient matching both first and last
// name case-insensitively, or nil. Both parts must be non-empty.
func (m *Matcher) MatchByName(ctx context.Context, clinicID int64, first, last string) (*Patient, error) {
	if first == "" || last == "" {
		return nil, nil
	}

	if p, err := m.repo.FindByNamePlain(ctx, clinicID, first, last); err != nil {
		return nil, err
	} else if p != nil {
		return p, nil
	}

	wantFirst := NormalizeName(first)
	wantLast := NormalizeName(last)
	return m.scan(ctx, clinicID, func(p *Patient) bool {
		return NormalizeName(p.FirstName) == wantFirst && NormalizeName(p.LastName) == wantLast
	})
}

// scan runs pass 2: bounded candidate load plus in-memory comparison.
// Candidates arrive newest first, so the first hit is the tie-break winner.
func (m *Matcher) scan(ctx context.Context, clinicID int64, match func(*Patient) bool) (*Patient, error) {
	candidates, err := m.repo.ListRecent(ctx, clinicID, matchScanLimit)
	if err != nil {
		return nil, err
	}

	for _, p := range candidates {
		if match(p) {
			return p, nil
		}
	}

	if len(candidates) == matchScanLimit {
		m.log.Warn().Int64("clinic_id", clinicID).Int("scanned", len(candidates)).
			Msg("candidate scan hit cap; encrypted-field matches beyond the cap are missed")
	}
	return nil, nil
}
