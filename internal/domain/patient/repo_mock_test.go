package patient

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// mockRepo is an in-memory Repository. Plaintext finders only see patients
// registered via addPlain, mirroring how SQL equality only hits
// legacy plaintext rows; everything else is visible to ListRecent.
type mockRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
	plain    map[uuid.UUID]bool
	counters map[int64]int64

	failCreate error
	failList   error

	createCalls int
	listCalls   int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients: make(map[uuid.UUID]*Patient),
		plain:    make(map[uuid.UUID]bool),
		counters: make(map[int64]int64),
	}
}

func (m *mockRepo) add(p *Patient) *Patient {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.patients[p.ID] = p
	return p
}

func (m *mockRepo) addPlain(p *Patient) *Patient {
	p = m.add(p)
	m.plain[p.ID] = true
	return p
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.failCreate != nil {
		return m.failCreate
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patients[id], nil
}

func (m *mockRepo) GetByStripeCustomerID(_ context.Context, ref string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if p.StripeCustomerID != nil && *p.StripeCustomerID == ref {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.ID]; !ok {
		return errors.New("patient not found")
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) UpdateStripeCustomerID(_ context.Context, id uuid.UUID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return errors.New("patient not found")
	}
	p.StripeCustomerID = &ref
	return nil
}

func (m *mockRepo) FindByEmailPlain(_ context.Context, clinicID int64, email string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Patient
	for id, p := range m.patients {
		if m.plain[id] && p.ClinicID == clinicID && strings.EqualFold(strings.TrimSpace(p.Email), email) {
			if best == nil || p.CreatedAt.After(best.CreatedAt) {
				best = p
			}
		}
	}
	return best, nil
}

func (m *mockRepo) FindByPhonePlain(_ context.Context, clinicID int64, variants []string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Patient
	for id, p := range m.patients {
		if !m.plain[id] || p.ClinicID != clinicID {
			continue
		}
		stored := NormalizePhone(p.Phone)
		for _, v := range variants {
			if stored == NormalizePhone(v) {
				if best == nil || p.CreatedAt.After(best.CreatedAt) {
					best = p
				}
			}
		}
	}
	return best, nil
}

func (m *mockRepo) FindByNamePlain(_ context.Context, clinicID int64, first, last string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Patient
	for id, p := range m.patients {
		if m.plain[id] && p.ClinicID == clinicID &&
			strings.EqualFold(p.FirstName, first) && strings.EqualFold(p.LastName, last) {
			if best == nil || p.CreatedAt.After(best.CreatedAt) {
				best = p
			}
		}
	}
	return best, nil
}

func (m *mockRepo) ListRecent(_ context.Context, clinicID int64, limit int) ([]*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.failList != nil {
		return nil, m.failList
	}
	var out []*Patient
	for _, p := range m.patients {
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

func (m *mockRepo) NextPatientNumber(_ context.Context, clinicID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[clinicID]++
	return m.counters[clinicID], nil
}
