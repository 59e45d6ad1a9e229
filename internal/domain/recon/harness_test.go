package recon

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v74"

	"github.com/telecare/revsync/internal/domain/billing"
	"github.com/telecare/revsync/internal/domain/clinic"
	"github.com/telecare/revsync/internal/domain/patient"
	"github.com/telecare/revsync/internal/platform/stripeconn"
)

// In-memory collaborators backing the pipeline tests. passthrough
// transactions are fine here: atomicity itself is covered in the billing
// package.

type memPatients struct {
	rows     map[uuid.UUID]*patient.Patient
	counters map[int64]int64
}

func newMemPatients() *memPatients {
	return &memPatients{rows: make(map[uuid.UUID]*patient.Patient), counters: make(map[int64]int64)}
}

func (m *memPatients) Create(_ context.Context, p *patient.Patient) error {
	m.rows[p.ID] = p
	return nil
}

func (m *memPatients) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	return m.rows[id], nil
}

func (m *memPatients) GetByStripeCustomerID(_ context.Context, ref string) (*patient.Patient, error) {
	for _, p := range m.rows {
		if p.StripeCustomerID != nil && *p.StripeCustomerID == ref {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memPatients) Update(_ context.Context, p *patient.Patient) error {
	if _, ok := m.rows[p.ID]; !ok {
		return errors.New("patient not found")
	}
	m.rows[p.ID] = p
	return nil
}

func (m *memPatients) UpdateStripeCustomerID(_ context.Context, id uuid.UUID, ref string) error {
	p, ok := m.rows[id]
	if !ok {
		return errors.New("patient not found")
	}
	p.StripeCustomerID = &ref
	return nil
}

func (m *memPatients) FindByEmailPlain(_ context.Context, clinicID int64, email string) (*patient.Patient, error) {
	return m.newest(clinicID, func(p *patient.Patient) bool {
		return strings.EqualFold(strings.TrimSpace(p.Email), email)
	}), nil
}

func (m *memPatients) FindByPhonePlain(_ context.Context, clinicID int64, variants []string) (*patient.Patient, error) {
	return m.newest(clinicID, func(p *patient.Patient) bool {
		stored := patient.NormalizePhone(p.Phone)
		for _, v := range variants {
			if stored == patient.NormalizePhone(v) {
				return true
			}
		}
		return false
	}), nil
}

func (m *memPatients) FindByNamePlain(_ context.Context, clinicID int64, first, last string) (*patient.Patient, error) {
	return m.newest(clinicID, func(p *patient.Patient) bool {
		return strings.EqualFold(p.FirstName, first) && strings.EqualFold(p.LastName, last)
	}), nil
}

func (m *memPatients) ListRecent(_ context.Context, clinicID int64, limit int) ([]*patient.Patient, error) {
	var out []*patient.Patient
	for _, p := range m.rows {
		if p.ClinicID == clinicID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPatients) NextPatientNumber(_ context.Context, clinicID int64) (int64, error) {
	m.counters[clinicID]++
	return m.counters[clinicID], nil
}

func (m *memPatients) newest(clinicID int64, match func(*patient.Patient) bool) *patient.Patient {
	var best *patient.Patient
	for _, p := range m.rows {
		if p.ClinicID == clinicID && match(p) {
			if best == nil || p.CreatedAt.After(best.CreatedAt) {
				best = p
			}
		}
	}
	return best
}

type memInvoices struct {
	rows map[uuid.UUID]*billing.Invoice
}

func newMemInvoices() *memInvoices { return &memInvoices{rows: make(map[uuid.UUID]*billing.Invoice)} }

func (m *memInvoices) Create(_ context.Context, inv *billing.Invoice) error {
	m.rows[inv.ID] = inv
	return nil
}

func (m *memInvoices) GetByID(_ context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return m.rows[id], nil
}

func (m *memInvoices) GetByStripeInvoiceID(_ context.Context, clinicID int64, ref string) (*billing.Invoice, error) {
	for _, inv := range m.rows {
		if inv.ClinicID == clinicID && inv.StripeInvoiceID != nil && *inv.StripeInvoiceID == ref {
			return inv, nil
		}
	}
	return nil, nil
}

func (m *memInvoices) Update(_ context.Context, inv *billing.Invoice) error {
	if _, ok := m.rows[inv.ID]; !ok {
		return errors.New("invoice not found")
	}
	m.rows[inv.ID] = inv
	return nil
}

func (m *memInvoices) ListByPatient(_ context.Context, clinicID int64, patientID uuid.UUID, limit, offset int) ([]*billing.Invoice, int, error) {
	var out []*billing.Invoice
	for _, inv := range m.rows {
		if inv.ClinicID == clinicID && inv.PatientID == patientID {
			out = append(out, inv)
		}
	}
	return out, len(out), nil
}

type memPayments struct {
	rows map[uuid.UUID]*billing.Payment
}

func newMemPayments() *memPayments { return &memPayments{rows: make(map[uuid.UUID]*billing.Payment)} }

func (m *memPayments) Create(_ context.Context, p *billing.Payment) error {
	m.rows[p.ID] = p
	return nil
}

func (m *memPayments) GetByID(_ context.Context, id uuid.UUID) (*billing.Payment, error) {
	return m.rows[id], nil
}

func (m *memPayments) GetByPaymentIntentID(_ context.Context, clinicID int64, ref string) (*billing.Payment, error) {
	for _, p := range m.rows {
		if p.ClinicID == clinicID && p.StripePaymentIntentID != nil && *p.StripePaymentIntentID == ref {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memPayments) GetByChargeID(_ context.Context, clinicID int64, ref string) (*billing.Payment, error) {
	for _, p := range m.rows {
		if p.ClinicID == clinicID && p.StripeChargeID != nil && *p.StripeChargeID == ref {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memPayments) GetByProcessorRef(_ context.Context, chargeRef, paymentIntentRef string) (*billing.Payment, error) {
	for _, p := range m.rows {
		if chargeRef != "" && p.StripeChargeID != nil && *p.StripeChargeID == chargeRef {
			return p, nil
		}
		if paymentIntentRef != "" && p.StripePaymentIntentID != nil && *p.StripePaymentIntentID == paymentIntentRef {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memPayments) Update(_ context.Context, p *billing.Payment) error {
	if _, ok := m.rows[p.ID]; !ok {
		return errors.New("payment not found")
	}
	m.rows[p.ID] = p
	return nil
}

func (m *memPayments) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*billing.Payment, error) {
	var out []*billing.Payment
	for _, p := range m.rows {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memLedger struct {
	rows map[string]*Reconciliation
}

func newMemLedger() *memLedger { return &memLedger{rows: make(map[string]*Reconciliation)} }

func (m *memLedger) Create(_ context.Context, rec *Reconciliation) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	if _, ok := m.rows[rec.StripeEventID]; ok {
		return errors.New("duplicate event id")
	}
	m.rows[rec.StripeEventID] = rec
	return nil
}

func (m *memLedger) GetByEventID(_ context.Context, eventID string) (*Reconciliation, error) {
	return m.rows[eventID], nil
}

func (m *memLedger) List(_ context.Context, clinicID int64, limit, offset int) ([]*Reconciliation, int, error) {
	var out []*Reconciliation
	for _, rec := range m.rows {
		if rec.ClinicID == clinicID {
			out = append(out, rec)
		}
	}
	return out, len(out), nil
}

type fakeDirectory struct {
	customers map[string]*stripeconn.Customer
	err       error
	calls     int
}

func (f *fakeDirectory) LookupCustomer(_ context.Context, ref string) (*stripeconn.Customer, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.customers[ref], nil
}

type fakeChargeFetcher struct {
	charges map[string]*stripe.Charge
	err     error
}

func (f *fakeChargeFetcher) FetchCharge(_ context.Context, ref string) (*stripe.Charge, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.charges[ref], nil
}

type fakeSettings struct {
	byClinic map[int64]*clinic.Settings
}

func (f *fakeSettings) Get(_ context.Context, clinicID int64) (*clinic.Settings, error) {
	if s, ok := f.byClinic[clinicID]; ok {
		return s, nil
	}
	return clinic.Defaults(clinicID), nil
}

type fakeDocs struct {
	calls int
	err   error
}

func (f *fakeDocs) EnsureDocumentation(_ context.Context, _, _ uuid.UUID) (string, error) {
	f.calls++
	return "doc_1", f.err
}

type fakeSubs struct {
	calls int
	err   error
}

func (f *fakeSubs) CreateSubscription(_ context.Context, _, _ string, _ int64, _ map[string]string) (string, error) {
	f.calls++
	return "sub_1", f.err
}

type fakeInvites struct {
	calls int
	err   error
}

func (f *fakeInvites) SendPortalInvite(_ context.Context, _, _, _, _ string) error {
	f.calls++
	return f.err
}

// world bundles a fully wired in-memory pipeline.
type world struct {
	patients *memPatients
	invoices *memInvoices
	payments *memPayments
	ledger   *memLedger
	dir      *fakeDirectory
	charges  *fakeChargeFetcher
	settings *fakeSettings
	docs     *fakeDocs
	subs     *fakeSubs
	invites  *fakeInvites
	orch     *Orchestrator
	rec      *Reconciler
}

func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

func newWorld(defaultClinic int64) *world {
	w := &world{
		patients: newMemPatients(),
		invoices: newMemInvoices(),
		payments: newMemPayments(),
		ledger:   newMemLedger(),
		dir:      &fakeDirectory{customers: make(map[string]*stripeconn.Customer)},
		charges:  &fakeChargeFetcher{charges: make(map[string]*stripe.Charge)},
		settings: &fakeSettings{byClinic: make(map[int64]*clinic.Settings)},
		docs:     &fakeDocs{},
		subs:     &fakeSubs{},
		invites:  &fakeInvites{},
	}
	log := zerolog.Nop()
	matcher := patient.NewMatcher(w.patients, log)
	recorder := billing.NewRecorder(w.invoices, w.payments, passthroughTx, log)
	w.orch = NewOrchestrator(OrchestratorDeps{
		Ledger:        w.ledger,
		Enricher:      NewEnricher(w.dir, log),
		Resolver:      NewResolver(w.patients, matcher, log),
		Provisioner:   patient.NewProvisioner(w.patients, log),
		Backfill:      w.patients,
		Recorder:      recorder,
		Invoices:      w.invoices,
		Settings:      w.settings,
		Docs:          w.docs,
		Subs:          w.subs,
		Invites:       w.invites,
		DefaultClinic: defaultClinic,
	}, log)
	w.rec = NewReconciler(w.invoices, w.payments, w.patients, w.charges, w.ledger, passthroughTx, log)
	return w
}

func (w *world) addPatient(p *patient.Patient) *patient.Patient {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	w.patients.rows[p.ID] = p
	return p
}

// chargeFixture builds an upstream charge the way the API would return it.
func chargeFixture(t *testing.T, id string, amount, amountRefunded int64, name, email, phone string) *stripe.Charge {
	t.Helper()
	ch := &stripe.Charge{
		ID:             id,
		Amount:         amount,
		AmountRefunded: amountRefunded,
		Currency:       "usd",
	}
	if name != "" || email != "" || phone != "" {
		raw := `{"billing_details": {"name": ` + strconv.Quote(name) +
			`, "email": ` + strconv.Quote(email) +
			`, "phone": ` + strconv.Quote(phone) + `}}`
		var parsed stripe.Charge
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			t.Fatalf("charge fixture: %v", err)
		}
		ch.BillingDetails = parsed.BillingDetails
	}
	return ch
}

func settledEvent(id string) PaymentEvent {
	return PaymentEvent{
		EventID:          id,
		EventType:        "charge.succeeded",
		Amount:           10000,
		Currency:         "usd",
		ChargeRef:        "ch_" + id,
		PaymentIntentRef: "pi_" + id,
		PaidAt:           time.Now().UTC(),
	}
}
