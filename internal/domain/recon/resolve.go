package recon

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/telecare/revsync/internal/domain/patient"
)

// MatchMethod names the strategy that produced a match.
type MatchMethod string

const (
	MatchedByCustomerRef MatchMethod = "customer_ref"
	MatchedByEmail       MatchMethod = "email"
	MatchedByPhone       MatchMethod = "phone"
	MatchedByName        MatchMethod = "name"
)

// Confidence grades a match by the identity certainty of its method.
type Confidence string

const (
	ConfidenceExact  Confidence = "exact"
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// MatchResult carries the matched patient plus provenance. Zero value means
// no match.
type MatchResult struct {
	Patient    *patient.Patient
	Method     MatchMethod
	Confidence Confidence
}

// Matched reports whether a patient was found.
func (r MatchResult) Matched() bool { return r.Patient != nil }

// FieldMatcher is the identity-field search the resolver delegates to.
// Implemented by patient.Matcher.
type FieldMatcher interface {
	MatchByEmail(ctx context.Context, clinicID int64, email string) (*patient.Patient, error)
	MatchByPhone(ctx context.Context, clinicID int64, phone string) (*patient.Patient, error)
	MatchByName(ctx context.Context, clinicID int64, first, last string) (*patient.Patient, error)
}

// CustomerRefIndex is the globally-unique processor customer reference
// lookup. Implemented by patient.Repository.
type CustomerRefIndex interface {
	GetByStripeCustomerID(ctx context.Context, customerRef string) (*patient.Patient, error)
}

// Resolver applies the cascading match policy in strict precedence order:
// customer reference, then email, then phone, then full name. The order
// reflects decreasing identity certainty and stops at the first hit.
type Resolver struct {
	refs    CustomerRefIndex
	matcher FieldMatcher
	log     zerolog.Logger
}

// NewResolver builds a Resolver.
func NewResolver(refs CustomerRefIndex, matcher FieldMatcher, log zerolog.Logger) *Resolver {
	return &Resolver{refs: refs, matcher: matcher, log: log.With().Str("component", "resolver").Logger()}
}

// Resolve returns the best match for the event within the clinic, or a zero
// MatchResult. The customer-reference lookup is the one unscoped query in the
// system; a hit belonging to a different clinic is rejected as no-match and
// logged as an isolation warning, never surfaced as an error.
func (r *Resolver) Resolve(ctx context.Context, clinicID int64, ev PaymentEvent) (MatchResult, error) {
	if ev.CustomerRef != "" {
		p, err := r.refs.GetByStripeCustomerID(ctx, ev.CustomerRef)
		if err != nil {
			return MatchResult{}, err
		}
		if p != nil {
			if p.ClinicID != clinicID {
				r.log.Warn().
					Str("customer_ref", ev.CustomerRef).
					Int64("requested_clinic", clinicID).
					Int64("matched_clinic", p.ClinicID).
					Str("event_id", ev.EventID).
					Msg("customer reference resolved to a different clinic; rejecting match")
			} else {
				return MatchResult{Patient: p, Method: MatchedByCustomerRef, Confidence: ConfidenceExact}, nil
			}
		}
	}

	if ev.Email != "" {
		p, err := r.matcher.MatchByEmail(ctx, clinicID, ev.Email)
		if err != nil {
			return MatchResult{}, err
		}
		if p != nil {
			return MatchResult{Patient: p, Method: MatchedByEmail, Confidence: ConfidenceHigh}, nil
		}
	}

	if ev.Phone != "" {
		p, err := r.matcher.MatchByPhone(ctx, clinicID, ev.Phone)
		if err != nil {
			return MatchResult{}, err
		}
		if p != nil {
			return MatchResult{Patient: p, Method: MatchedByPhone, Confidence: ConfidenceMedium}, nil
		}
	}

	if HasRealName(ev.Name) {
		first, last := patient.SplitName(ev.Name)
		if first != "" && last != "" {
			p, err := r.matcher.MatchByName(ctx, clinicID, first, last)
			if err != nil {
				return MatchResult{}, err
			}
			if p != nil {
				return MatchResult{Patient: p, Method: MatchedByName, Confidence: ConfidenceLow}, nil
			}
		}
	}

	return MatchResult{}, nil
}
