package tier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/diagcenter/intake/internal/platform/apperr"
)

// Prober runs a trivial liveness query against a relational tier.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Observer receives tier selection events for telemetry.
type Observer interface {
	Resolved(t Tier)
	Failover(from, to Tier, op Op, cause error)
}

type nopObserver struct{}

func (nopObserver) Resolved(Tier)                 {}
func (nopObserver) Failover(Tier, Tier, Op, error) {}

// Op describes a logical query: the entity it targets and whether it mutates.
type Op struct {
	Entity string
	Name   string
	Write  bool
}

// Read describes a read-only logical query.
func Read(entity, name string) Op { return Op{Entity: entity, Name: name} }

// Write describes a mutating logical query.
func Write(entity, name string) Op { return Op{Entity: entity, Name: name, Write: true} }

func (o Op) String() string {
	kind := "read"
	if o.Write {
		kind = "write"
	}
	return fmt.Sprintf("%s %s.%s", kind, o.Entity, o.Name)
}

// Config wires the tiers available to a Router.
type Config struct {
	Primary   Prober
	Secondary Prober // nil when no secondary store is configured
	Snapshot  bool   // true when a snapshot file is configured

	ProbeTimeout time.Duration
	QueryTimeout time.Duration

	// IsFailure classifies an execution error as a connectivity failure.
	// Business errors are never failures regardless of this function.
	IsFailure func(err error) bool

	Observer Observer
	Logger   zerolog.Logger
}

// Router resolves the highest-priority usable tier and executes logical
// queries against it, failing over at most once per request.
type Router struct {
	cfg    Config
	health *Health
}

func NewRouter(health *Health, cfg Config) *Router {
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	return &Router{cfg: cfg, health: health}
}

func (r *Router) Health() *Health { return r.health }

// SnapshotEnabled reports whether the flat-file tier is configured.
func (r *Router) SnapshotEnabled() bool { return r.cfg.Snapshot }

// SecondaryEnabled reports whether a secondary store is configured.
func (r *Router) SecondaryEnabled() bool { return r.cfg.Secondary != nil }

// ResolveTier returns the highest-priority tier currently usable. Relational
// tiers flagged up are returned without a probe; tiers flagged down or not yet
// checked are probed. The snapshot tier is returned without a probe.
func (r *Router) ResolveTier(ctx context.Context) (Tier, error) {
	return r.resolve(ctx, nil)
}

func (r *Router) prober(t Tier) Prober {
	switch t {
	case TierPrimary:
		return r.cfg.Primary
	case TierSecondary:
		return r.cfg.Secondary
	}
	return nil
}

func (r *Router) resolve(ctx context.Context, excluded map[Tier]bool) (Tier, error) {
	for _, t := range []Tier{TierPrimary, TierSecondary} {
		p := r.prober(t)
		if p == nil || excluded[t] {
			continue
		}
		if r.health.State(t) == StateUp {
			return t, nil
		}
		if r.probe(ctx, t, p) {
			return t, nil
		}
	}
	if r.cfg.Snapshot && !excluded[TierSnapshot] {
		return TierSnapshot, nil
	}
	return TierNone, apperr.ErrDataSourceUnavailable
}

func (r *Router) probe(ctx context.Context, t Tier, p Prober) bool {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	err := p.Probe(pctx)
	next := StateUp
	if err != nil {
		next = StateDown
	}
	if prev := r.health.Set(t, next); prev != next {
		evt := r.cfg.Logger.Info()
		if err != nil {
			evt = r.cfg.Logger.Warn().Err(err)
		}
		evt.Str("tier", t.String()).
			Str("from", prev.String()).
			Str("to", next.String()).
			Msg("tier health changed")
	}
	return err == nil
}

// Execute runs fn against the resolved tier. A connectivity failure marks the
// tier down and retries once on the next tier for the same request; a second
// failure returns ErrDataSourceUnavailable. Writes are never sent to the
// snapshot tier.
func (r *Router) Execute(ctx context.Context, op Op, fn func(ctx context.Context, t Tier) error) error {
	excluded := make(map[Tier]bool, 2)
	failed := TierNone
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		t, err := r.resolve(ctx, excluded)
		if failed != TierNone {
			r.cfg.Observer.Failover(failed, t, op, lastErr)
			r.cfg.Logger.Warn().
				Err(lastErr).
				Str("from", failed.String()).
				Str("to", t.String()).
				Str("op", op.String()).
				Msg("tier failover")
		}
		if err != nil {
			break
		}
		if op.Write && t == TierSnapshot {
			return fmt.Errorf("%s: snapshot tier is read-only: %w", op, apperr.ErrDataSourceUnavailable)
		}
		r.cfg.Observer.Resolved(t)

		err = r.run(ctx, t, fn)
		if err == nil {
			markServed(ctx, t)
			return nil
		}
		if !r.isFailure(ctx, err) {
			return err
		}

		lastErr = err
		failed = t
		excluded[t] = true
		if t.Relational() {
			if prev := r.health.Set(t, StateDown); prev != StateDown {
				r.cfg.Logger.Warn().Err(err).Str("tier", t.String()).Str("op", op.String()).Msg("tier marked down")
			}
		}
	}

	if lastErr == nil {
		return fmt.Errorf("%s: %w", op, apperr.ErrDataSourceUnavailable)
	}
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrDataSourceUnavailable, lastErr)
}

func (r *Router) run(ctx context.Context, t Tier, fn func(ctx context.Context, t Tier) error) error {
	if r.cfg.QueryTimeout <= 0 {
		return fn(ctx, t)
	}
	qctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()
	return fn(qctx, t)
}

func (r *Router) isFailure(ctx context.Context, err error) bool {
	if apperr.IsBusiness(err) {
		return false
	}
	// The caller went away; the tier itself is not implicated.
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if r.cfg.IsFailure != nil {
		return r.cfg.IsFailure(err)
	}
	return true
}

// Backends holds one implementation of a store per tier.
type Backends[S any] struct {
	Primary   S
	Secondary S
	Snapshot  S
}

// For returns the backend serving t.
func (b Backends[S]) For(t Tier) S {
	switch t {
	case TierSecondary:
		return b.Secondary
	case TierSnapshot:
		return b.Snapshot
	}
	return b.Primary
}

// Run executes fn through r against the backend of whichever tier r resolves.
func Run[S any](ctx context.Context, r *Router, op Op, b Backends[S], fn func(ctx context.Context, s S) error) error {
	return r.Execute(ctx, op, func(ctx context.Context, t Tier) error {
		return fn(ctx, b.For(t))
	})
}

type servedKey struct{}

type servedSlot struct {
	mu   sync.Mutex
	tier Tier
}

// TrackServed returns a context in which Execute records the tier that last
// answered successfully, and a function reading it. It reports TierNone until
// a query succeeds. When several queries ran, the least fresh tier wins.
func TrackServed(ctx context.Context) (context.Context, func() Tier) {
	slot := &servedSlot{tier: TierNone}
	return context.WithValue(ctx, servedKey{}, slot), func() Tier {
		slot.mu.Lock()
		defer slot.mu.Unlock()
		return slot.tier
	}
}

func markServed(ctx context.Context, t Tier) {
	slot, ok := ctx.Value(servedKey{}).(*servedSlot)
	if !ok {
		return
	}
	slot.mu.Lock()
	if t > slot.tier {
		slot.tier = t
	}
	slot.mu.Unlock()
}
