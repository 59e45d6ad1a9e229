package recon

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/telecare/revsync/internal/platform/stripeconn"
)

func TestEnrichPlaceholderNameReplaced(t *testing.T) {
	dir := &fakeDirectory{customers: map[string]*stripeconn.Customer{
		"cus_1": {Ref: "cus_1", Name: "Jane Doe"},
	}}
	e := NewEnricher(dir, zerolog.Nop())

	ev := e.Enrich(context.Background(), PaymentEvent{CustomerRef: "cus_1", Name: "Unknown Customer"})
	if ev.Name != "Jane Doe" {
		t.Errorf("placeholder name survived enrichment: %q", ev.Name)
	}
}

func TestEnrichPresentFieldsWin(t *testing.T) {
	dir := &fakeDirectory{customers: map[string]*stripeconn.Customer{
		"cus_1": {Ref: "cus_1", Name: "Other Person", Email: "other@example.com", Phone: "999"},
	}}
	e := NewEnricher(dir, zerolog.Nop())

	ev := e.Enrich(context.Background(), PaymentEvent{
		CustomerRef: "cus_1",
		Name:        "Jane Doe",
		Email:       "jane@example.com",
		Phone:       "5551234567",
	})
	if ev.Name != "Jane Doe" || ev.Email != "jane@example.com" || ev.Phone != "5551234567" {
		t.Errorf("present fields overwritten: %+v", ev)
	}
	if dir.calls != 1 {
		t.Errorf("customer must always be fetched when a reference exists, calls=%d", dir.calls)
	}
}

func TestEnrichFillsMissingContactFields(t *testing.T) {
	dir := &fakeDirectory{customers: map[string]*stripeconn.Customer{
		"cus_1": {
			Ref: "cus_1", Email: "jane@example.com", Phone: "5551234567",
			AddressLine: "1 Main St", City: "Austin", State: "TX", PostalCode: "78701",
		},
	}}
	e := NewEnricher(dir, zerolog.Nop())

	ev := e.Enrich(context.Background(), PaymentEvent{CustomerRef: "cus_1"})
	if ev.Email != "jane@example.com" || ev.Phone != "5551234567" {
		t.Errorf("contact fields not enriched: %+v", ev)
	}
	if ev.AddressLine1 != "1 Main St" || ev.City != "Austin" || ev.State != "TX" || ev.PostalCode != "78701" {
		t.Errorf("address not enriched: %+v", ev)
	}
}

func TestEnrichNameFromCustomerDescription(t *testing.T) {
	dir := &fakeDirectory{customers: map[string]*stripeconn.Customer{
		"cus_named": {Ref: "cus_named", Description: "Mary Jane O'Brien"},
		"cus_junk":  {Ref: "cus_junk", Description: "ACME Subscription #42 (legacy import)"},
	}}
	e := NewEnricher(dir, zerolog.Nop())

	ev := e.Enrich(context.Background(), PaymentEvent{CustomerRef: "cus_named"})
	if ev.Name != "Mary Jane O'Brien" {
		t.Errorf("description that looks like a name not used: %q", ev.Name)
	}

	ev = e.Enrich(context.Background(), PaymentEvent{CustomerRef: "cus_junk"})
	if ev.Name != "" {
		t.Errorf("non-name description accepted as name: %q", ev.Name)
	}
}

func TestEnrichNameFromCustomerMetadata(t *testing.T) {
	dir := &fakeDirectory{customers: map[string]*stripeconn.Customer{
		"cus_1": {Ref: "cus_1", Metadata: map[string]string{"full_name": "Jane Doe"}},
	}}
	e := NewEnricher(dir, zerolog.Nop())

	ev := e.Enrich(context.Background(), PaymentEvent{CustomerRef: "cus_1"})
	if ev.Name != "Jane Doe" {
		t.Errorf("metadata name not used: %q", ev.Name)
	}
}

func TestEnrichEventMetadataBeforeLookup(t *testing.T) {
	e := NewEnricher(&fakeDirectory{}, zerolog.Nop())

	ev := e.Enrich(context.Background(), PaymentEvent{
		Metadata: map[string]string{"customer_name": "Jane Doe", "phone_number": "5551234567"},
	})
	if ev.Name != "Jane Doe" {
		t.Errorf("event metadata name not used: %q", ev.Name)
	}
	if ev.Phone != "5551234567" {
		t.Errorf("event metadata phone not used: %q", ev.Phone)
	}
}

func TestEnrichLookupFailureReturnsInput(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("upstream down")}
	e := NewEnricher(dir, zerolog.Nop())

	in := PaymentEvent{CustomerRef: "cus_1", Email: "jane@example.com"}
	out := e.Enrich(context.Background(), in)
	if out.Email != in.Email || out.Name != "" {
		t.Errorf("failed lookup must leave event unchanged: %+v", out)
	}
}

func TestEnrichDeletedCustomerIgnored(t *testing.T) {
	dir := &fakeDirectory{customers: map[string]*stripeconn.Customer{
		"cus_1": {Ref: "cus_1", Name: "Jane Doe", Deleted: true},
	}}
	e := NewEnricher(dir, zerolog.Nop())

	ev := e.Enrich(context.Background(), PaymentEvent{CustomerRef: "cus_1"})
	if ev.Name != "" {
		t.Errorf("deleted customer data used: %q", ev.Name)
	}
}

func TestNameFromDescriptionPatterns(t *testing.T) {
	tests := []struct {
		desc, want string
	}{
		{"Invoice 1042 (Jane Doe)", "Jane Doe"},
		{"Payment (Jane Doe)", "Jane Doe"},
		{"payment for Jane Doe", "Jane Doe"},
		{"Invoice for Mary Jane Watson", "Mary Jane Watson"},
		{"order for Jane Doe", "Jane Doe"},
		{"Jane Doe - monthly telehealth visit", "Jane Doe"},
		{"Invoice 1042 (42)", ""},        // no letters in candidate
		{"Invoice 1042 (A)", ""},         // too short
		{"monthly telehealth visit", ""}, // no pattern
		{"", ""},
	}
	for _, tt := range tests {
		if got := nameFromDescription(tt.desc); got != tt.want {
			t.Errorf("nameFromDescription(%q) = %q, want %q", tt.desc, got, tt.want)
		}
	}
}

func TestHasRealName(t *testing.T) {
	for _, placeholder := range []string{"", "  ", "unknown", "Unknown Customer", "CUSTOMER"} {
		if HasRealName(placeholder) {
			t.Errorf("HasRealName(%q) = true", placeholder)
		}
	}
	if !HasRealName("Jane Doe") {
		t.Error("real name rejected")
	}
}

func TestLooksLikeName(t *testing.T) {
	if !looksLikeName("Mary Jane O'Brien-Smith") {
		t.Error("valid name rejected")
	}
	for _, bad := range []string{"jane@example.com", "Invoice #42", "ab", ""} {
		if looksLikeName(bad) {
			t.Errorf("looksLikeName(%q) = true", bad)
		}
	}
}
