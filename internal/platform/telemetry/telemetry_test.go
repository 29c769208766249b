package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/diagcenter/intake/internal/platform/tier"
)

func TestCounters_LabelsAreIndependent(t *testing.T) {
	p := NewProvider()
	p.Event("register")
	p.Event("register")
	p.Event("recall")

	if got := p.Counter(MetricDomainEvents, "kind", "register"); got != 2 {
		t.Errorf("expected 2 registrations, got %d", got)
	}
	if got := p.Counter(MetricDomainEvents, "kind", "recall"); got != 1 {
		t.Errorf("expected 1 recall, got %d", got)
	}
	if got := p.Counter(MetricDomainEvents, "kind", "send"); got != 0 {
		t.Errorf("expected unknown series to read zero, got %d", got)
	}
}

func TestCounters_Concurrent(t *testing.T) {
	p := NewProvider()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Inc(MetricTierResolved, "tier", "primary")
		}()
	}
	wg.Wait()
	if got := p.Counter(MetricTierResolved, "tier", "primary"); got != 50 {
		t.Errorf("expected 50, got %d", got)
	}
}

func TestTierObserver(t *testing.T) {
	p := NewProvider()
	obs := p.TierObserver()
	var _ tier.Observer = obs

	obs.Resolved(tier.TierPrimary)
	obs.Failover(tier.TierPrimary, tier.TierSecondary, tier.Read("patient", "get"), nil)
	obs.Resolved(tier.TierSecondary)

	if p.Gauge(MetricTierActive, "tier", "secondary") != 1 || p.Gauge(MetricTierActive, "tier", "primary") != 0 {
		t.Error("expected secondary to be the only active tier")
	}
	if got := p.Counter(MetricTierFailovers, "from", "primary", "to", "secondary", "entity", "patient"); got != 1 {
		t.Errorf("expected one failover, got %d", got)
	}
}

func TestTierHealthCollector(t *testing.T) {
	p := NewProvider()
	h := tier.NewHealth()
	h.Set(tier.TierPrimary, tier.StateDown)
	h.Set(tier.TierSecondary, tier.StateUp)
	p.TierHealth(h)

	e := echo.New()
	rec := httptest.NewRecorder()
	if err := p.PrometheusHandler()(e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), rec)); err != nil {
		t.Fatal(err)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`tier_up{tier="primary"} 0`,
		`tier_up{tier="secondary"} 1`,
		"# TYPE tier_up gauge",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in exposition:\n%s", want, body)
		}
	}
	if !strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), "text/plain") {
		t.Errorf("unexpected content type %q", rec.Header().Get(echo.HeaderContentType))
	}
}

func TestMetricsMiddleware(t *testing.T) {
	p := NewProvider()
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/v1/patients/:cro", func(c echo.Context) error {
		if c.Param("cro") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		return c.NoContent(http.StatusOK)
	})

	for _, path := range []string{"/api/v1/patients/CRO1", "/api/v1/patients/CRO2", "/api/v1/patients/missing"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := p.Counter(MetricHTTPRequests, "method", "GET", "route", "/api/v1/patients/:cro", "status", "200"); got != 2 {
		t.Errorf("expected 2 ok requests by route pattern, got %d", got)
	}
	if got := p.Counter(MetricHTTPRequests, "method", "GET", "route", "/api/v1/patients/:cro", "status", "404"); got != 1 {
		t.Errorf("expected 1 not found, got %d", got)
	}
	if p.Gauge(MetricHTTPActive) != 0 {
		t.Error("expected no requests in flight")
	}

	out := p.Expose()
	if !strings.Contains(out, `http_server_request_duration_seconds_bucket{le="+Inf"} 3`) {
		t.Errorf("expected histogram with 3 observations:\n%s", out)
	}
	if !strings.Contains(out, "http_server_request_duration_seconds_count 3") {
		t.Errorf("expected histogram count:\n%s", out)
	}
}

func TestExpose_SkipsEmptyMetricsAndSortsSeries(t *testing.T) {
	p := NewProvider()
	if out := p.Expose(); out != "" {
		t.Errorf("expected empty exposition, got %q", out)
	}
	p.Event("send")
	p.Event("payment")
	out := p.Expose()
	if strings.Index(out, `kind="payment"`) > strings.Index(out, `kind="send"`) {
		t.Errorf("expected series sorted by labels:\n%s", out)
	}
	if strings.Contains(out, MetricTierFailovers) {
		t.Error("metrics without samples must not be exposed")
	}
}

func TestHistogram_Buckets(t *testing.T) {
	h := newHistogram([]float64{1, 5})
	for _, v := range []float64{0.5, 2, 3, 10} {
		h.Observe(v)
	}
	cum, count, sum := h.snapshot()
	if cum[0] != 1 || cum[1] != 3 || count != 4 || sum != 15.5 {
		t.Errorf("unexpected histogram %v %d %v", cum, count, sum)
	}
}
