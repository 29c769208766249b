// Package telemetry keeps in-process counters, gauges and a request latency
// histogram, and serves them in the Prometheus text exposition format. It also
// observes the tier router so failovers and the serving tier are visible.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/diagcenter/intake/internal/platform/tier"
)

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; export makes them cumulative.
type histogram struct {
	boundaries   []float64
	mu           sync.Mutex
	bucketCounts []int64
	count        int64
	sum          float64
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{boundaries: boundaries, bucketCounts: make([]int64, len(boundaries))}
}

func (h *histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) snapshot() (cum []int64, count int64, sum float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum = make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum, h.count, h.sum
}

// ---------------------------------------------------------------------------
// Series stores
// ---------------------------------------------------------------------------

// series is a metric value identified by name and an ordered label set.
type series struct {
	name   string
	labels []string // key, value, key, value...
}

func (s series) key() string {
	return s.name + "|" + strings.Join(s.labels, "|")
}

func (s series) format() string {
	if len(s.labels) == 0 {
		return s.name
	}
	parts := make([]string, 0, len(s.labels)/2)
	for i := 0; i+1 < len(s.labels); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", s.labels[i], s.labels[i+1]))
	}
	return s.name + "{" + strings.Join(parts, ",") + "}"
}

type valueStore struct {
	mu    sync.RWMutex
	items map[string]*int64
	desc  map[string]series
}

func newValueStore() *valueStore {
	return &valueStore{items: make(map[string]*int64), desc: make(map[string]series)}
}

func (s *valueStore) ptr(sr series) *int64 {
	k := sr.key()
	s.mu.RLock()
	p, ok := s.items[k]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.items[k]; !ok {
		p = new(int64)
		s.items[k] = p
		s.desc[k] = sr
	}
	return p
}

func (s *valueStore) get(sr series) int64 {
	s.mu.RLock()
	p, ok := s.items[sr.key()]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

type sample struct {
	series series
	value  int64
}

// samples returns every series of name, sorted by its formatted labels.
func (s *valueStore) samples(name string) []sample {
	s.mu.RLock()
	var out []sample
	for k, sr := range s.desc {
		if sr.name == name {
			out = append(out, sample{series: sr, value: atomic.LoadInt64(s.items[k])})
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].series.format() < out[j].series.format() })
	return out
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

const (
	MetricHTTPRequests   = "http_requests_total"
	MetricHTTPActive     = "http_server_active_requests"
	MetricHTTPDuration   = "http_server_request_duration_seconds"
	MetricTierResolved   = "tier_resolved_total"
	MetricTierFailovers  = "tier_failovers_total"
	MetricTierActive     = "tier_active"
	MetricTierUp         = "tier_up"
	MetricDomainEvents   = "intake_events_total"
	MetricSnapshotLoaded = "snapshot_loaded"
)

var help = map[string]struct{ typ, text string }{
	MetricHTTPRequests:   {"counter", "HTTP requests by method, route and status."},
	MetricHTTPActive:     {"gauge", "HTTP requests in flight."},
	MetricHTTPDuration:   {"histogram", "Duration of HTTP requests in seconds."},
	MetricTierResolved:   {"counter", "Logical queries executed per data tier."},
	MetricTierFailovers:  {"counter", "Failovers between data tiers."},
	MetricTierActive:     {"gauge", "1 for the tier that served the most recent query."},
	MetricTierUp:         {"gauge", "Last known reachability of each relational tier (1 up, 0 down or unknown)."},
	MetricDomainEvents:   {"counter", "Patient lifecycle events by kind."},
	MetricSnapshotLoaded: {"gauge", "1 once the snapshot file has been parsed."},
}

// metricOrder fixes the exposition order.
var metricOrder = []string{
	MetricHTTPRequests, MetricHTTPActive, MetricHTTPDuration,
	MetricTierResolved, MetricTierFailovers, MetricTierActive, MetricTierUp,
	MetricDomainEvents, MetricSnapshotLoaded,
}

var durationBuckets = []float64{0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0}

var allTiers = []tier.Tier{tier.TierPrimary, tier.TierSecondary, tier.TierSnapshot}

// Provider holds every metric of the process.
type Provider struct {
	counters *valueStore
	gauges   *valueStore
	duration *histogram

	// collectors refresh gauges right before exposition.
	mu         sync.Mutex
	collectors []func(p *Provider)
}

func NewProvider() *Provider {
	return &Provider{
		counters: newValueStore(),
		gauges:   newValueStore(),
		duration: newHistogram(durationBuckets),
	}
}

func (p *Provider) Inc(name string, labels ...string) {
	atomic.AddInt64(p.counters.ptr(series{name, labels}), 1)
}

func (p *Provider) SetGauge(name string, v int64, labels ...string) {
	atomic.StoreInt64(p.gauges.ptr(series{name, labels}), v)
}

func (p *Provider) addGauge(name string, delta int64, labels ...string) {
	atomic.AddInt64(p.gauges.ptr(series{name, labels}), delta)
}

// Counter returns the current value of a counter series.
func (p *Provider) Counter(name string, labels ...string) int64 {
	return p.counters.get(series{name, labels})
}

// Gauge returns the current value of a gauge series.
func (p *Provider) Gauge(name string, labels ...string) int64 {
	return p.gauges.get(series{name, labels})
}

// Collect registers fn to run before every exposition.
func (p *Provider) Collect(fn func(p *Provider)) {
	p.mu.Lock()
	p.collectors = append(p.collectors, fn)
	p.mu.Unlock()
}

// Event counts a lifecycle event such as a registration or a recall.
func (p *Provider) Event(kind string) {
	p.Inc(MetricDomainEvents, "kind", kind)
}

// TierHealth exports the relational tier flags of h on every scrape.
func (p *Provider) TierHealth(h *tier.Health) {
	p.Collect(func(p *Provider) {
		for _, t := range []tier.Tier{tier.TierPrimary, tier.TierSecondary} {
			var v int64
			if h.State(t) == tier.StateUp {
				v = 1
			}
			p.SetGauge(MetricTierUp, v, "tier", t.String())
		}
	})
}

// ---------------------------------------------------------------------------
// Router observer
// ---------------------------------------------------------------------------

// TierObserver adapts the provider to tier.Observer.
type TierObserver struct {
	p *Provider
}

func (p *Provider) TierObserver() *TierObserver { return &TierObserver{p: p} }

func (o *TierObserver) Resolved(t tier.Tier) {
	o.p.Inc(MetricTierResolved, "tier", t.String())
	for _, other := range allTiers {
		var v int64
		if other == t {
			v = 1
		}
		o.p.SetGauge(MetricTierActive, v, "tier", other.String())
	}
}

func (o *TierObserver) Failover(from, to tier.Tier, op tier.Op, _ error) {
	o.p.Inc(MetricTierFailovers, "from", from.String(), "to", to.String(), "entity", op.Entity)
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

// MetricsMiddleware counts requests by route pattern and records latency.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.addGauge(MetricHTTPActive, 1)
			start := time.Now()

			err := next(c)

			p.addGauge(MetricHTTPActive, -1)
			p.duration.Observe(time.Since(start).Seconds())

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			p.Inc(MetricHTTPRequests, "method", c.Request().Method, "route", route, "status", strconv.Itoa(status))
			return err
		}
	}
}

// PrometheusHandler serves every metric in text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		p.mu.Lock()
		collectors := append([]func(*Provider){}, p.collectors...)
		p.mu.Unlock()
		for _, fn := range collectors {
			fn(p)
		}
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(p.Expose()))
	}
}

// Expose renders the current metrics.
func (p *Provider) Expose() string {
	var b strings.Builder
	for _, name := range metricOrder {
		h := help[name]
		if name == MetricHTTPDuration {
			writeHistogram(&b, name, h.text, p.duration)
			continue
		}
		store := p.counters
		if h.typ == "gauge" {
			store = p.gauges
		}
		samples := store.samples(name)
		if len(samples) == 0 {
			continue
		}
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", name, h.text, name, h.typ)
		for _, s := range samples {
			fmt.Fprintf(&b, "%s %d\n", s.series.format(), s.value)
		}
	}
	return b.String()
}

func writeHistogram(b *strings.Builder, name, text string, h *histogram) {
	cum, count, sum := h.snapshot()
	if count == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s histogram\n", name, text, name)
	for i, le := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"} %d\n", name, le, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, count)
	if math.IsNaN(sum) {
		sum = 0
	}
	fmt.Fprintf(b, "%s_sum %g\n%s_count %d\n", name, sum, name, count)
}
