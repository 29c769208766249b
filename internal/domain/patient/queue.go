package patient

import (
	"context"
	"time"

	"github.com/diagcenter/intake/internal/platform/snapshot"
	"github.com/diagcenter/intake/pkg/pagination"
)

// QueueEntry is a patient as shown in a department queue.
type QueueEntry struct {
	*Patient
	Console *ConsoleRecord `json:"console,omitempty"`
	Nursing *NursingReview `json:"nursing,omitempty"`
}

type attach int

const (
	attachNone attach = iota
	attachConsole
	attachNursing
)

func (s *Service) queue(ctx context.Context, name string, p pagination.Params, with attach, stages ...Stage) ([]QueueEntry, int, error) {
	var entries []QueueEntry
	var total int
	err := s.read(ctx, name, func(ctx context.Context, st Store) error {
		items, n, err := st.Search(ctx, Filter{Search: p.Search, Stages: stages, Limit: p.Limit, Offset: p.Offset})
		if err != nil {
			return err
		}
		var consoles map[string]*ConsoleRecord
		var nursing map[string]*NursingReview
		switch with {
		case attachConsole:
			consoles, err = st.ConsoleFor(ctx, cros(items))
		case attachNursing:
			nursing, err = st.NursingFor(ctx, cros(items))
		}
		if err != nil {
			return err
		}
		entries = make([]QueueEntry, len(items))
		for i, it := range items {
			entries[i] = QueueEntry{Patient: it, Console: consoles[it.CRO], Nursing: nursing[it.CRO]}
		}
		total = n
		return nil
	})
	return entries, total, err
}

// ConsoleQueue lists patients waiting for or being processed by the console.
func (s *Service) ConsoleQueue(ctx context.Context, p pagination.Params) ([]QueueEntry, int, error) {
	return s.queue(ctx, "console_queue", p, attachConsole, StageSentToConsole, StageInCorridorQueue)
}

func (s *Service) NursingPending(ctx context.Context, p pagination.Params) ([]QueueEntry, int, error) {
	return s.queue(ctx, "nursing_pending", p, attachNursing, StageSentToNursing)
}

func (s *Service) DoctorPending(ctx context.Context, p pagination.Params) ([]QueueEntry, int, error) {
	return s.queue(ctx, "doctor_pending", p, attachNursing, StagePendingDoctorReview)
}

func (s *Service) DoctorCompleted(ctx context.Context, p pagination.Params) ([]QueueEntry, int, error) {
	return s.queue(ctx, "doctor_completed", p, attachNursing, StageComplete)
}

func (s *Service) RecallList(ctx context.Context, p pagination.Params) ([]QueueEntry, int, error) {
	return s.queue(ctx, "recall_list", p, attachConsole, StageRecall)
}

// Scans lists console records, most recently updated first.
func (s *Service) Scans(ctx context.Context, p pagination.Params) ([]*ConsoleRecord, int, error) {
	var items []*ConsoleRecord
	var total int
	err := s.read(ctx, "scans", func(ctx context.Context, st Store) error {
		var err error
		items, total, err = st.ListConsole(ctx, p.Limit, p.Offset)
		return err
	})
	return items, total, err
}

// Export reads every patient and console record for a snapshot file.
func (s *Service) Export(ctx context.Context) ([]snapshot.Block, error) {
	var blocks []snapshot.Block
	err := s.read(ctx, "export", func(ctx context.Context, st Store) error {
		ps, _, err := st.Search(ctx, Filter{IncludeInactive: true})
		if err != nil {
			return err
		}
		cs, _, err := st.ListConsole(ctx, 0, 0)
		if err != nil {
			return err
		}
		blocks = []snapshot.Block{PatientBlock(ps), ConsoleBlock(cs)}
		return nil
	})
	return blocks, err
}

// Totals aggregates billing over patients registered in [from, to).
func (s *Service) Totals(ctx context.Context, from, to time.Time) (Totals, error) {
	var t Totals
	err := s.read(ctx, "totals", func(ctx context.Context, st Store) error {
		var err error
		t, err = st.BillingTotals(ctx, from, to)
		return err
	})
	return t, err
}
