package recon

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/telecare/revsync/internal/platform/stripeconn"
)

// placeholderNames are event names that do not count as a real name and must
// still be enriched. Compared lowercase.
var placeholderNames = map[string]bool{
	"":                 true,
	"unknown":          true,
	"unknown customer": true,
	"customer":         true,
}

// Enricher fills identity gaps on a PaymentEvent from the upstream customer
// record, without overwriting values the event already carries. Best-effort:
// a failed or deleted-customer lookup returns the input unchanged.
type Enricher struct {
	customers CustomerDirectory
	log       zerolog.Logger
}

// NewEnricher builds an Enricher over the customer directory.
func NewEnricher(customers CustomerDirectory, log zerolog.Logger) *Enricher {
	return &Enricher{customers: customers, log: log.With().Str("component", "enricher").Logger()}
}

// Enrich returns a copy of ev with missing identity fields filled in. When a
// customer reference exists, the upstream record is always fetched: the
// customer object usually carries more authoritative data than what was
// captured at the point of payment. Already-present fields still win.
func (e *Enricher) Enrich(ctx context.Context, ev PaymentEvent) PaymentEvent {
	if ev.CustomerRef != "" && e.customers != nil {
		cust, err := e.customers.LookupCustomer(ctx, ev.CustomerRef)
		switch {
		case err != nil:
			e.log.Warn().Err(err).Str("customer_ref", ev.CustomerRef).Str("event_id", ev.EventID).
				Msg("customer lookup failed; continuing without enrichment")
		case cust == nil || cust.Deleted:
			// Nothing usable upstream.
		default:
			ev = mergeCustomer(ev, cust)
		}
	}

	// Last-resort name sources: event metadata, then the free-text payment
	// description.
	if !HasRealName(ev.Name) {
		if v := ev.MetaValue("name", "customer_name", "full_name", "fullName"); HasRealName(v) {
			ev.Name = v
		}
	}
	if !HasRealName(ev.Name) {
		if v := nameFromDescription(ev.Description); v != "" {
			ev.Name = v
		}
	}
	if ev.Phone == "" {
		ev.Phone = ev.MetaValue("phone", "phone_number")
	}
	return ev
}

// mergeCustomer fills event gaps from the upstream customer record. Name
// sources in order: the customer's name, a description that is plausibly
// just a name, then known metadata keys.
func mergeCustomer(ev PaymentEvent, cust *stripeconn.Customer) PaymentEvent {
	if !HasRealName(ev.Name) {
		switch {
		case HasRealName(cust.Name):
			ev.Name = cust.Name
		case looksLikeName(cust.Description):
			ev.Name = strings.TrimSpace(cust.Description)
		default:
			for _, k := range []string{"name", "customer_name", "full_name", "fullName"} {
				if v := strings.TrimSpace(cust.Metadata[k]); HasRealName(v) {
					ev.Name = v
					break
				}
			}
		}
	}
	if ev.Email == "" {
		ev.Email = cust.Email
	}
	if ev.Phone == "" {
		ev.Phone = cust.Phone
	}
	if ev.Phone == "" {
		for _, k := range []string{"phone", "phone_number"} {
			if v := strings.TrimSpace(cust.Metadata[k]); v != "" {
				ev.Phone = v
				break
			}
		}
	}
	if ev.AddressLine1 == "" {
		ev.AddressLine1 = cust.AddressLine
	}
	if ev.City == "" {
		ev.City = cust.City
	}
	if ev.State == "" {
		ev.State = cust.State
	}
	if ev.PostalCode == "" {
		ev.PostalCode = cust.PostalCode
	}
	return ev
}

// HasRealName reports whether v is a usable human name rather than empty or
// a known placeholder.
func HasRealName(v string) bool {
	return !placeholderNames[strings.ToLower(strings.TrimSpace(v))]
}

var humanNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z '\-]{2,98}$`)

// looksLikeName reports whether a free-text customer description is plausibly
// just a person's name: letters, spaces, hyphens and apostrophes only, within
// sane length bounds.
func looksLikeName(desc string) bool {
	return humanNameRe.MatchString(strings.TrimSpace(desc))
}

var descPatterns = []*regexp.Regexp{
	// "Invoice 1042 (Jane Doe)" / "Payment (Jane Doe)" — trailing parenthetical.
	regexp.MustCompile(`\(([^()]+)\)\s*$`),
	// "payment for Jane Doe", "invoice for Jane Doe", "order for Jane Doe".
	regexp.MustCompile(`(?i)\b(?:payment|invoice|order)\s+for\s+(.+?)\s*$`),
	// "Jane Doe - monthly visit" — name before a dash at the very start.
	regexp.MustCompile(`^([A-Za-z][A-Za-z '\-]+?)\s+-\s+`),
}

var anyLetterRe = regexp.MustCompile(`[A-Za-z]`)

// nameFromDescription pulls a candidate name out of the free-text payment
// description. A candidate needs at least one letter and more than two
// characters to be accepted.
func nameFromDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return ""
	}
	for _, re := range descPatterns {
		m := re.FindStringSubmatch(desc)
		if m == nil {
			continue
		}
		candidate := strings.TrimSpace(m[1])
		if len(candidate) > 2 && anyLetterRe.MatchString(candidate) && HasRealName(candidate) {
			return candidate
		}
	}
	return ""
}
