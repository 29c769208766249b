package cashbook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/diagcenter/intake/internal/domain/patient"
	"github.com/diagcenter/intake/internal/platform/apperr"
	"github.com/diagcenter/intake/internal/platform/tier"
)

type memStore struct {
	mu       sync.Mutex
	vouchers []Voucher
}

func (m *memStore) Create(_ context.Context, v *Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vouchers = append(m.vouchers, *v)
	return nil
}

func (m *memStore) ListByDay(_ context.Context, day time.Time) ([]*Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Voucher
	for _, v := range m.vouchers {
		v := v
		if v.Date.Equal(day) {
			out = append(out, &v)
		}
	}
	return out, nil
}

type fixedTotals struct {
	totals   patient.Totals
	from, to time.Time
}

func (f *fixedTotals) Totals(_ context.Context, from, to time.Time) (patient.Totals, error) {
	f.from, f.to = from, to
	return f.totals, nil
}

var today = time.Date(2026, 3, 14, 15, 0, 0, 0, time.Local)

func up(context.Context) error { return nil }

func newTestService(totals patient.Totals) (*Service, *memStore, *fixedTotals) {
	store := &memStore{}
	pt := &fixedTotals{totals: totals}
	router := tier.NewRouter(tier.NewHealth(), tier.Config{Primary: tier.ProberFunc(up), Logger: zerolog.Nop()})
	svc := NewService(router, tier.Backends[Store]{Primary: store, Snapshot: NewStoreSnapshot()}, pt, zerolog.Nop())
	svc.now = func() time.Time { return today }
	return svc, store, pt
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _ := newTestService(patient.Totals{})
	tests := []struct {
		name string
		v    Voucher
	}{
		{"empty", Voucher{}},
		{"negative", Voucher{Received: 100, Withdraw: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.v
			if err := svc.Create(context.Background(), &v, "cashier"); !apperr.IsBusiness(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreate_DefaultsToToday(t *testing.T) {
	svc, store, _ := newTestService(patient.Totals{})
	v := &Voucher{Received: 250.456, Remark: "  tea fund "}
	if err := svc.Create(context.Background(), v, "cashier"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Date.Equal(Day(today)) || v.Received != 250.46 || v.Remark != "tea fund" || v.CreatedBy != "cashier" {
		t.Errorf("unexpected voucher %+v", v)
	}
	if len(store.vouchers) != 1 {
		t.Errorf("expected voucher stored, got %d", len(store.vouchers))
	}
}

func TestSummary_CashInHand(t *testing.T) {
	svc, _, pt := newTestService(patient.Totals{Patients: 3, Received: 4500, Due: 1200})
	ctx := context.Background()
	for _, v := range []*Voucher{{Received: 300}, {Withdraw: 1000, Remark: "bank deposit"}, {Due: 150}} {
		if err := svc.Create(ctx, v, "cashier"); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := svc.Summary(ctx, today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.CashInHand != 3800 {
		t.Errorf("expected 4500 + 300 - 1000 = 3800, got %v", sum.CashInHand)
	}
	if sum.PatientDue != 1200 || sum.VoucherDue != 150 || sum.Withdraw != 1000 || sum.Date != "2026-03-14" {
		t.Errorf("unexpected summary %+v", sum)
	}
	if !pt.from.Equal(Day(today)) || !pt.to.Equal(Day(today).AddDate(0, 0, 1)) {
		t.Errorf("expected patient totals over the whole day, got %s to %s", pt.from, pt.to)
	}
}

func TestSummary_CashInHandClampedAtZero(t *testing.T) {
	svc, _, _ := newTestService(patient.Totals{Received: 100})
	if err := svc.Create(context.Background(), &Voucher{Withdraw: 500}, "cashier"); err != nil {
		t.Fatal(err)
	}
	sum, err := svc.Summary(context.Background(), today)
	if err != nil {
		t.Fatal(err)
	}
	if sum.CashInHand != 0 {
		t.Errorf("expected clamped cash in hand, got %v", sum.CashInHand)
	}
}

func TestSnapshotStore(t *testing.T) {
	st := NewStoreSnapshot()
	vs, err := st.ListByDay(context.Background(), today)
	if err != nil || len(vs) != 0 {
		t.Errorf("expected empty day, got %v %v", vs, err)
	}
	if err := st.Create(context.Background(), &Voucher{}); !errors.Is(err, apperr.ErrDataSourceUnavailable) {
		t.Errorf("expected read-only error, got %v", err)
	}
}

func TestHandler_CreateAndSummary(t *testing.T) {
	svc, _, _ := newTestService(patient.Totals{Received: 1000})
	h := NewHandler(svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"date":"2026-03-14","received":200}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/?date=2026-03-14", nil)
	rec = httptest.NewRecorder()
	if err := h.Summary(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"cash_in_hand":1200`) {
		t.Errorf("unexpected summary %s", rec.Body.String())
	}
}

func TestHandler_BadDate(t *testing.T) {
	svc, _, _ := newTestService(patient.Totals{})
	h := NewHandler(svc)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?date=14/03/2026", nil)
	err := h.List(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
