package patient

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diagcenter/intake/internal/platform/apperr"
)

// memStore is an in-memory Store. InTx serializes transactions and rolls
// back every change made through them when fn fails.
type memStore struct {
	txMu sync.Mutex

	mu       sync.Mutex
	patients map[string]Patient
	console  map[string]ConsoleRecord
	nursing  map[string]NursingReview
}

func newMemStore() *memStore {
	return &memStore{
		patients: make(map[string]Patient),
		console:  make(map[string]ConsoleRecord),
		nursing:  make(map[string]NursingReview),
	}
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	patients := make(map[string]Patient, len(m.patients))
	for k, v := range m.patients {
		patients[k] = v
	}
	console := make(map[string]ConsoleRecord, len(m.console))
	for k, v := range m.console {
		console[k] = v
	}
	nursing := make(map[string]NursingReview, len(m.nursing))
	for k, v := range m.nursing {
		nursing[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.patients, m.console, m.nursing = patients, console, nursing
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) MaxCROSequence(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for cro := range m.patients {
		if n := CROSequence(prefix, cro); n > max {
			max = n
		}
	}
	return max, nil
}

func (m *memStore) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.CRO]; ok {
		return fmt.Errorf("cro %s: %w", p.CRO, apperr.ErrConflict)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Version = 1
	m.patients[p.CRO] = *p
	return nil
}

func (m *memStore) GetByCRO(_ context.Context, cro string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[cro]
	if !ok {
		return nil, apperr.NotFound("patient " + cro)
	}
	return &p, nil
}

func (m *memStore) Search(_ context.Context, f Filter) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Patient
	for _, p := range m.patients {
		p := p
		if !f.IncludeInactive && !p.Active {
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if len(f.Stages) > 0 {
			found := false
			for _, s := range f.Stages {
				found = found || p.Stage == s
			}
			if !found {
				continue
			}
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(p.Name+" "+p.CRO+" "+p.Phone), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.After(out[j].RegisteredAt)
		}
		return out[i].CRO > out[j].CRO
	})
	total := len(out)
	if f.Offset > len(out) {
		f.Offset = len(out)
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *memStore) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.patients[p.CRO]
	if !ok {
		return apperr.NotFound("patient " + p.CRO)
	}
	if cur.Version != p.Version {
		return fmt.Errorf("patient %s: %w", p.CRO, apperr.ErrConflict)
	}
	p.Version++
	m.patients[p.CRO] = *p
	return nil
}

func (m *memStore) BillingTotals(_ context.Context, from, to time.Time) (Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var t Totals
	for _, p := range m.patients {
		if p.RegisteredAt.Before(from) || !p.RegisteredAt.Before(to) {
			continue
		}
		t.Patients++
		t.Received += p.Billing.Received
		t.Due += p.Billing.CashDue()
	}
	return t, nil
}

func (m *memStore) GetConsole(_ context.Context, cro string) (*ConsoleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.console[cro]
	if !ok {
		return nil, apperr.NotFound("console record " + cro)
	}
	return &c, nil
}

func (m *memStore) SaveConsole(_ context.Context, r *ConsoleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.console[r.CRO] = *r
	return nil
}

func (m *memStore) ConsoleFor(_ context.Context, cros []string) (map[string]*ConsoleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*ConsoleRecord)
	for _, cro := range cros {
		if c, ok := m.console[cro]; ok {
			out[cro] = &c
		}
	}
	return out, nil
}

func (m *memStore) ListConsole(_ context.Context, limit, offset int) ([]*ConsoleRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ConsoleRecord, 0, len(m.console))
	for _, c := range m.console {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memStore) GetNursing(_ context.Context, cro string) (*NursingReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nursing[cro]
	if !ok {
		return nil, apperr.NotFound("nursing review " + cro)
	}
	return &n, nil
}

func (m *memStore) SaveNursing(_ context.Context, n *NursingReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nursing[n.CRO] = *n
	return nil
}

func (m *memStore) NursingFor(_ context.Context, cros []string) (map[string]*NursingReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*NursingReview)
	for _, cro := range cros {
		if n, ok := m.nursing[cro]; ok {
			out[cro] = &n
		}
	}
	return out, nil
}

// downStore fails every call the way an unreachable database does.
type downStore struct {
	Store
	err error
}

func (d downStore) InTx(context.Context, func(ctx context.Context) error) error { return d.err }

func (d downStore) GetByCRO(context.Context, string) (*Patient, error) { return nil, d.err }

func (d downStore) Search(context.Context, Filter) ([]*Patient, int, error) { return nil, 0, d.err }
