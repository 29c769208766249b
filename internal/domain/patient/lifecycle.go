package patient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/diagcenter/intake/internal/platform/apperr"
)

// stageTransitions lists the stages reachable from each stage, recall
// excluded: recall is reachable from every stage.
var stageTransitions = map[Stage][]Stage{
	StageRegistered:          {StageAwaitingProcess},
	StageAwaitingProcess:     {StageSentToNursing, StageSentToConsole},
	StageRecall:              {StageSentToNursing, StageSentToConsole},
	StageSentToConsole:       {StageInCorridorQueue},
	StageInCorridorQueue:     {StageSentToNursing},
	StageSentToNursing:       {StagePendingDoctorReview},
	StagePendingDoctorReview: {StageComplete},
	StageComplete:            {},
}

// dueGated reports whether moving from -> to requires a settled bill.
func dueGated(from, to Stage) bool {
	return from == StageAwaitingProcess && (to == StageSentToNursing || to == StageSentToConsole)
}

// ValidateTransition checks whether p may move to stage to. A gated send
// with anything owed fails with a *apperr.PaymentDueError.
func ValidateTransition(p *Patient, to Stage) error {
	if !to.Valid() {
		return fmt.Errorf("unknown stage %q: %w", to, apperr.ErrStateTransition)
	}
	if to == StageRecall {
		return nil
	}
	allowed := false
	for _, s := range stageTransitions[p.Stage] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("patient %s cannot move from %s to %s: %w", p.CRO, p.Stage, to, apperr.ErrStateTransition)
	}
	if dueGated(p.Stage, to) && !p.Billing.Settled() {
		return &apperr.PaymentDueError{CRO: p.CRO, Due: p.Billing.Due}
	}
	return nil
}

// Transition validates and applies the move of p to stage to.
func Transition(p *Patient, to Stage) error {
	if err := ValidateTransition(p, to); err != nil {
		return err
	}
	p.Stage = to
	return nil
}

// Destination is a department a patient can be sent to.
type Destination string

const (
	DestinationNursing Destination = "Nursing"
	DestinationConsole Destination = "Console"
)

// ParseDestination matches s ignoring case.
func ParseDestination(s string) (Destination, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nursing":
		return DestinationNursing, true
	case "console":
		return DestinationConsole, true
	}
	return "", false
}

func (d Destination) Stage() Stage {
	if d == DestinationNursing {
		return StageSentToNursing
	}
	return StageSentToConsole
}

// Eligibility describes whether the "send to" action is enabled for a
// patient and, if not, why.
type Eligibility struct {
	CRO          string        `json:"cro"`
	Stage        Stage         `json:"stage"`
	Due          float64       `json:"amount_due"`
	Eligible     bool          `json:"eligible"`
	Reason       string        `json:"reason,omitempty"`
	Destinations []Destination `json:"destinations"`
}

// CheckEligibility evaluates the send action for every destination.
func CheckEligibility(p *Patient) Eligibility {
	e := Eligibility{CRO: p.CRO, Stage: p.Stage, Due: p.Billing.Due, Destinations: []Destination{}}
	var firstErr error
	for _, d := range []Destination{DestinationNursing, DestinationConsole} {
		err := ValidateTransition(p, d.Stage())
		if err == nil {
			e.Destinations = append(e.Destinations, d)
		} else if firstErr == nil {
			firstErr = err
		}
	}
	if !p.Active {
		e.Destinations = []Destination{}
		e.Reason = "patient is deactivated"
		return e
	}
	e.Eligible = len(e.Destinations) > 0
	if !e.Eligible {
		switch {
		case p.Stage == StageInCorridorQueue:
			e.Reason = "patient is being processed at the console"
		case errors.Is(firstErr, apperr.ErrPaymentDue):
			e.Reason = fmt.Sprintf("amount due %.2f must be cleared", p.Billing.Due)
		default:
			e.Reason = fmt.Sprintf("not available from stage %s", p.Stage)
		}
	}
	return e
}
