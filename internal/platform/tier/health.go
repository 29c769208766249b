// Package tier selects between the primary store, the secondary store and the
// flat-file snapshot for every logical query, failing over between them when a
// relational tier stops answering.
package tier

import (
	"sync"
	"time"
)

// Tier identifies one of the ordered data sources.
type Tier int

const (
	TierNone Tier = iota - 1
	TierPrimary
	TierSecondary
	TierSnapshot
)

func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierSnapshot:
		return "snapshot"
	}
	return "none"
}

// Relational reports whether the tier is backed by a database that can be probed.
func (t Tier) Relational() bool {
	return t == TierPrimary || t == TierSecondary
}

// State is the last known reachability of a relational tier.
type State int

const (
	StateUnknown State = iota
	StateUp
	StateDown
)

func (s State) String() string {
	switch s {
	case StateUp:
		return "up"
	case StateDown:
		return "down"
	}
	return "unknown"
}

// Status is a point-in-time view of one tier's health flag.
type Status struct {
	Tier      string    `json:"tier"`
	State     string    `json:"state"`
	ChangedAt time.Time `json:"changed_at,omitempty"`
	Flips     int       `json:"flips"`
}

type flag struct {
	state     State
	changedAt time.Time
	flips     int
}

// Health holds the process-wide availability flags of the two relational
// tiers. It is shared by every request; Set is the only mutator.
type Health struct {
	mu    sync.Mutex
	flags [2]flag
	now   func() time.Time
}

func NewHealth() *Health {
	return &Health{now: time.Now}
}

// State returns the current flag for t. The snapshot tier has no flag and
// always reports StateUnknown.
func (h *Health) State(t Tier) State {
	if !t.Relational() {
		return StateUnknown
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags[t].state
}

// Set records a new state for t and returns the previous one. Concurrent
// requests may race to set the same value; the flip counter makes such
// duplicate transitions observable.
func (h *Health) Set(t Tier, s State) State {
	if !t.Relational() {
		return StateUnknown
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	f := &h.flags[t]
	prev := f.state
	if prev != s {
		f.state = s
		f.changedAt = h.now()
		f.flips++
	}
	return prev
}

// Statuses returns the flags of both relational tiers in priority order.
func (h *Health) Statuses() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Status, 0, len(h.flags))
	for i, f := range h.flags {
		out = append(out, Status{
			Tier:      Tier(i).String(),
			State:     f.state.String(),
			ChangedAt: f.changedAt,
			Flips:     f.flips,
		})
	}
	return out
}
