package recon

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/telecare/revsync/internal/domain/patient"
)

func newTestResolver(patients *memPatients) *Resolver {
	log := zerolog.Nop()
	return NewResolver(patients, patient.NewMatcher(patients, log), log)
}

func strPtr(s string) *string { return &s }

func TestResolveByCustomerRef(t *testing.T) {
	w := newWorld(1)
	want := w.addPatient(&patient.Patient{ClinicID: 1, StripeCustomerID: strPtr("cus_123")})
	r := newTestResolver(w.patients)

	res, err := r.Resolve(context.Background(), 1, PaymentEvent{CustomerRef: "cus_123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Matched() || res.Patient.ID != want.ID {
		t.Fatal("customer ref match missed")
	}
	if res.Method != MatchedByCustomerRef || res.Confidence != ConfidenceExact {
		t.Errorf("provenance = %s/%s", res.Method, res.Confidence)
	}
}

func TestResolveTenantIsolation(t *testing.T) {
	w := newWorld(1)
	// Patient belongs to clinic 1, event is scoped to clinic 2 with the
	// same globally-unique reference.
	w.addPatient(&patient.Patient{ClinicID: 1, StripeCustomerID: strPtr("cus_123")})
	r := newTestResolver(w.patients)

	res, err := r.Resolve(context.Background(), 2, PaymentEvent{CustomerRef: "cus_123"})
	if err != nil {
		t.Fatalf("isolation rejection must not surface as error: %v", err)
	}
	if res.Matched() {
		t.Fatal("customer ref leaked a patient across clinics")
	}
}

func TestResolveTenantIsolationContinuesCascade(t *testing.T) {
	w := newWorld(1)
	w.addPatient(&patient.Patient{ClinicID: 1, StripeCustomerID: strPtr("cus_123")})
	want := w.addPatient(&patient.Patient{ClinicID: 2, Email: "jane@example.com"})
	r := newTestResolver(w.patients)

	res, err := r.Resolve(context.Background(), 2, PaymentEvent{CustomerRef: "cus_123", Email: "jane@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Matched() || res.Patient.ID != want.ID {
		t.Fatal("resolution should fall through to email after isolation rejection")
	}
	if res.Method != MatchedByEmail {
		t.Errorf("method = %s", res.Method)
	}
}

func TestResolveEmailBeatsPhone(t *testing.T) {
	w := newWorld(1)
	byEmail := w.addPatient(&patient.Patient{ClinicID: 1, Email: "jane@example.com", Phone: "1112223333"})
	w.addPatient(&patient.Patient{ClinicID: 1, Email: "other@example.com", Phone: "5551234567"})
	r := newTestResolver(w.patients)

	res, err := r.Resolve(context.Background(), 1, PaymentEvent{
		Email: "jane@example.com",
		Phone: "5551234567", // would match the other patient
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Matched() || res.Patient.ID != byEmail.ID {
		t.Fatal("email must win over phone when they point at different patients")
	}
	if res.Method != MatchedByEmail || res.Confidence != ConfidenceHigh {
		t.Errorf("provenance = %s/%s", res.Method, res.Confidence)
	}
}

func TestResolveByPhone(t *testing.T) {
	w := newWorld(1)
	want := w.addPatient(&patient.Patient{ClinicID: 1, Phone: "+1 (555) 123-4567"})
	r := newTestResolver(w.patients)

	res, err := r.Resolve(context.Background(), 1, PaymentEvent{Phone: "15551234567"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Matched() || res.Patient.ID != want.ID {
		t.Fatal("phone match missed")
	}
	if res.Method != MatchedByPhone || res.Confidence != ConfidenceMedium {
		t.Errorf("provenance = %s/%s", res.Method, res.Confidence)
	}
}

func TestResolveByName(t *testing.T) {
	w := newWorld(1)
	want := w.addPatient(&patient.Patient{ClinicID: 1, FirstName: "Mary Jane", LastName: "Watson"})
	r := newTestResolver(w.patients)

	res, err := r.Resolve(context.Background(), 1, PaymentEvent{Name: "Mary Jane Watson"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Matched() || res.Patient.ID != want.ID {
		t.Fatal("name match missed")
	}
	if res.Method != MatchedByName || res.Confidence != ConfidenceLow {
		t.Errorf("provenance = %s/%s", res.Method, res.Confidence)
	}
}

func TestResolveSingleTokenNameIneligible(t *testing.T) {
	w := newWorld(1)
	w.addPatient(&patient.Patient{ClinicID: 1, FirstName: "Prince", LastName: ""})
	r := newTestResolver(w.patients)

	res, err := r.Resolve(context.Background(), 1, PaymentEvent{Name: "Prince"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Matched() {
		t.Fatal("single-token name must not be eligible for name matching")
	}
}

func TestResolveNoMatch(t *testing.T) {
	w := newWorld(1)
	r := newTestResolver(w.patients)

	res, err := r.Resolve(context.Background(), 1, PaymentEvent{
		CustomerRef: "cus_none", Email: "none@example.com", Phone: "5550000000", Name: "No Body",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Matched() || res.Method != "" || res.Confidence != "" {
		t.Errorf("expected empty result, got %+v", res)
	}
}
