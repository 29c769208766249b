package patient

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/diagcenter/intake/internal/platform/apperr"
	"github.com/diagcenter/intake/internal/platform/tier"
)

const entity = "patient"

// maxCROAttempts bounds registration retries after a CRO collision.
const maxCROAttempts = 5

// References verifies the hospital and doctor a patient is referred by.
type References interface {
	CheckReferences(ctx context.Context, hospitalID, doctorID uuid.UUID) error
}

// Events receives the name of every committed mutation.
type Events interface {
	Event(kind string)
}

type nopEvents struct{}

func (nopEvents) Event(string) {}

type Service struct {
	router *tier.Router
	stores tier.Backends[Store]
	refs   References
	prefix string
	events Events
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(router *tier.Router, stores tier.Backends[Store], refs References, croPrefix string, log zerolog.Logger) *Service {
	return &Service{
		router: router,
		stores: stores,
		refs:   refs,
		prefix: croPrefix,
		events: nopEvents{},
		log:    log.With().Str("component", "patient").Logger(),
		now:    time.Now,
	}
}

// WithEvents reports committed mutations to ev.
func (s *Service) WithEvents(ev Events) *Service {
	s.events = ev
	return s
}

func (s *Service) read(ctx context.Context, name string, fn func(ctx context.Context, st Store) error) error {
	return tier.Run(ctx, s.router, tier.Read(entity, name), s.stores, fn)
}

// write runs fn in one transaction on one tier attempt, so a failover
// between its reads and writes commits nothing.
func (s *Service) write(ctx context.Context, name string, fn func(ctx context.Context, st Store) error) error {
	err := tier.Run(ctx, s.router, tier.Write(entity, name), s.stores, func(ctx context.Context, st Store) error {
		return st.InTx(ctx, func(ctx context.Context) error {
			return fn(ctx, st)
		})
	})
	if err == nil {
		s.events.Event(name)
	}
	return err
}

// loadActive fetches a patient that department actions may still change.
func loadActive(ctx context.Context, st Store, cro string) (*Patient, error) {
	p, err := st.GetByCRO(ctx, cro)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("patient %s is deactivated: %w", cro, apperr.ErrStateTransition)
	}
	return p, nil
}

// -- Registration and demographics --

type RegisterInput struct {
	Prefix         string  `json:"prefix"`
	Name           string  `json:"name"`
	Age            string  `json:"age"`
	Gender         string  `json:"gender"`
	Category       string  `json:"category"`
	Phone          string  `json:"phone"`
	Email          string  `json:"email"`
	Address        string  `json:"address"`
	HospitalID     string  `json:"hospital_id"`
	DoctorID       string  `json:"doctor_id"`
	ScanType       string  `json:"scan_type"`
	TotalScan      int     `json:"total_scan"`
	Amount         float64 `json:"amount"`
	Discount       float64 `json:"discount"`
	AmountReceived float64 `json:"amount_received"`
}

var (
	agePattern   = regexp.MustCompile(`^\d{1,3}\s*[YyMmDd]?$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 -]{6,18}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// demographics validates the non-financial fields shared by registration
// and demographic updates and applies them to p.
func (in RegisterInput) demographics(v *apperr.ValidationError, p *Patient) {
	p.Prefix = strings.TrimSpace(in.Prefix)
	p.Name = strings.TrimSpace(in.Name)
	p.Age = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(in.Age), " ", ""))
	p.Gender = strings.TrimSpace(in.Gender)
	p.Phone = strings.TrimSpace(in.Phone)
	p.Email = strings.TrimSpace(in.Email)
	p.Address = strings.TrimSpace(in.Address)
	p.ScanType = strings.TrimSpace(in.ScanType)
	p.TotalScan = in.TotalScan

	if p.Name == "" {
		v.Add("name", "is required")
	}
	switch {
	case p.Age == "":
		v.Add("age", "is required")
	case !agePattern.MatchString(p.Age):
		v.Add("age", "must look like 25Y, 6M or 10D")
	}
	if p.Gender == "" {
		v.Add("gender", "is required")
	}
	switch {
	case p.Phone == "":
		v.Add("phone", "is required")
	case !phonePattern.MatchString(p.Phone):
		v.Add("phone", "is not a valid phone number")
	}
	if p.Email != "" && !emailPattern.MatchString(p.Email) {
		v.Add("email", "is not a valid email address")
	}
	if in.TotalScan < 0 {
		v.Add("total_scan", "must not be negative")
	}

	if c, ok := ParseCategory(in.Category); ok {
		p.Category = c
	} else if strings.TrimSpace(in.Category) == "" {
		p.Category = CategoryGeneral
	} else {
		v.Add("category", "is not a known category")
	}

	var err error
	if strings.TrimSpace(in.HospitalID) == "" {
		v.Add("hospital_id", "is required")
	} else if p.HospitalID, err = uuid.Parse(in.HospitalID); err != nil {
		v.Add("hospital_id", "must be a valid id")
	}
	if strings.TrimSpace(in.DoctorID) == "" {
		v.Add("doctor_id", "is required")
	} else if p.DoctorID, err = uuid.Parse(in.DoctorID); err != nil {
		v.Add("doctor_id", "must be a valid id")
	}
}

// Registration is the result of a successful registration.
type Registration struct {
	Success     bool     `json:"success"`
	CRO         string   `json:"cro"`
	Patient     *Patient `json:"patient"`
	DueNegative bool     `json:"due_negative"`
}

// Register validates in, issues a new CRO on the active tier and stores the
// patient. The patient is stored as registered and advanced to
// awaiting_process in the same transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	p := &Patient{Active: true}
	v := apperr.NewValidation()
	in.demographics(v, p)
	validateMoney(v, "amount", in.Amount)
	validateMoney(v, "discount", in.Discount)
	validateMoney(v, "amount_received", in.AmountReceived)
	if err := v.Err(); err != nil {
		return nil, err
	}
	if err := s.refs.CheckReferences(ctx, p.HospitalID, p.DoctorID); err != nil {
		return nil, err
	}

	p.Billing = NewBilling(in.Amount, in.Discount, in.AmountReceived)
	now := s.now()
	p.RegisteredAt, p.CreatedAt, p.UpdatedAt = now, now, now

	var err error
	for attempt := 1; attempt <= maxCROAttempts; attempt++ {
		err = s.write(ctx, "register", func(ctx context.Context, st Store) error {
			seq, err := st.MaxCROSequence(ctx, s.prefix)
			if err != nil {
				return err
			}
			p.ID = uuid.Nil
			p.CRO = FormatCRO(s.prefix, seq+1)
			p.Stage = StageRegistered
			if err := st.Create(ctx, p); err != nil {
				return err
			}
			if err := Transition(p, StageAwaitingProcess); err != nil {
				return err
			}
			return st.Update(ctx, p)
		})
		if !errors.Is(err, apperr.ErrConflict) {
			break
		}
		s.log.Debug().Str("cro", p.CRO).Int("attempt", attempt).Msg("cro collision, retrying")
	}
	if err != nil {
		return nil, err
	}

	if p.Billing.Negative() {
		s.log.Warn().
			Str("cro", p.CRO).
			Float64("amount", p.Billing.Amount).
			Float64("discount", p.Billing.Discount).
			Float64("received", p.Billing.Received).
			Float64("due", p.Billing.Due).
			Msg("patient registered with negative due")
	}
	return &Registration{Success: true, CRO: p.CRO, Patient: p, DueNegative: p.Billing.Negative()}, nil
}

func (s *Service) Get(ctx context.Context, cro string) (*Patient, error) {
	var p *Patient
	err := s.read(ctx, "get", func(ctx context.Context, st Store) error {
		var err error
		p, err = st.GetByCRO(ctx, cro)
		return err
	})
	return p, err
}

func (s *Service) Search(ctx context.Context, f Filter) ([]*Patient, int, error) {
	var items []*Patient
	var total int
	err := s.read(ctx, "search", func(ctx context.Context, st Store) error {
		var err error
		items, total, err = st.Search(ctx, f)
		return err
	})
	return items, total, err
}

// UpdateDemographics replaces the non-financial fields of a patient.
// Billing, stage and CRO are not touched.
func (s *Service) UpdateDemographics(ctx context.Context, cro string, in RegisterInput) (*Patient, error) {
	next := &Patient{}
	v := apperr.NewValidation()
	in.demographics(v, next)
	if err := v.Err(); err != nil {
		return nil, err
	}

	var out *Patient
	err := s.write(ctx, "update", func(ctx context.Context, st Store) error {
		p, err := loadActive(ctx, st, cro)
		if err != nil {
			return err
		}
		if p.HospitalID != next.HospitalID || p.DoctorID != next.DoctorID {
			if err := s.refs.CheckReferences(ctx, next.HospitalID, next.DoctorID); err != nil {
				return err
			}
		}
		p.Prefix, p.Name, p.Age, p.Gender = next.Prefix, next.Name, next.Age, next.Gender
		p.Category, p.Phone, p.Email, p.Address = next.Category, next.Phone, next.Email, next.Address
		p.HospitalID, p.DoctorID = next.HospitalID, next.DoctorID
		p.ScanType, p.TotalScan = next.ScanType, next.TotalScan
		p.UpdatedAt = s.now()
		if err := st.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// Deactivate hides a patient from queues and searches. Records are never
// deleted.
func (s *Service) Deactivate(ctx context.Context, cro string) error {
	return s.write(ctx, "deactivate", func(ctx context.Context, st Store) error {
		p, err := st.GetByCRO(ctx, cro)
		if err != nil {
			return err
		}
		if !p.Active {
			return nil
		}
		p.Active = false
		p.UpdatedAt = s.now()
		return st.Update(ctx, p)
	})
}

// -- Billing --

// RecordPayment adds received and discount to the patient's bill. The bill is
// re-read and written back in one tier attempt against the version read.
func (s *Service) RecordPayment(ctx context.Context, cro string, received, discount float64) (*Patient, error) {
	if err := validatePayment(received, discount); err != nil {
		return nil, err
	}
	var out *Patient
	err := s.write(ctx, "payment", func(ctx context.Context, st Store) error {
		p, err := loadActive(ctx, st, cro)
		if err != nil {
			return err
		}
		p.Billing = p.Billing.ApplyPayment(received, discount)
		p.UpdatedAt = s.now()
		if err := st.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Billing.Negative() {
		s.log.Warn().Str("cro", cro).Float64("due", out.Billing.Due).Msg("payment left negative due")
	}
	return out, nil
}

// Eligibility reports whether the patient can currently be sent on.
func (s *Service) Eligibility(ctx context.Context, cro string) (Eligibility, error) {
	p, err := s.Get(ctx, cro)
	if err != nil {
		return Eligibility{}, err
	}
	return CheckEligibility(p), nil
}

// -- Lifecycle --

// SendTo routes a patient to nursing or the console. From awaiting_process
// the bill must be settled; a re-send from recall is not gated.
func (s *Service) SendTo(ctx context.Context, cro string, dest Destination) (*Patient, error) {
	var out *Patient
	err := s.write(ctx, "send", func(ctx context.Context, st Store) error {
		p, err := loadActive(ctx, st, cro)
		if err != nil {
			return err
		}
		if err := Transition(p, dest.Stage()); err != nil {
			return err
		}
		now := s.now()
		switch dest {
		case DestinationConsole:
			err = st.SaveConsole(ctx, &ConsoleRecord{CRO: p.CRO, Status: ConsoleQueued, UpdatedAt: now})
		case DestinationNursing:
			err = s.openNursing(ctx, st, p)
		}
		if err != nil {
			return err
		}
		p.UpdatedAt = now
		if err := st.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err == nil {
		s.log.Info().Str("cro", cro).Str("destination", string(dest)).Msg("patient sent")
	}
	return out, err
}

// openNursing creates the nursing review for p. A review left over from an
// earlier visit keeps its completed and reviewed modalities.
func (s *Service) openNursing(ctx context.Context, st Store, p *Patient) error {
	ct, xray := OrderedModalities(p.ScanType)
	n, err := st.GetNursing(ctx, p.CRO)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		n = &NursingReview{CRO: p.CRO}
	case err != nil:
		return err
	default:
		s.log.Info().
			Str("cro", p.CRO).
			Bool("ct_done", n.CT.Done).
			Bool("xray_done", n.XRay.Done).
			Msg("reopening existing nursing review")
	}
	n.CT.Ordered, n.XRay.Ordered = ct, xray
	n.UpdatedAt = s.now()
	return st.SaveNursing(ctx, n)
}

// Recall moves a patient to recall from any stage. The due is not checked.
func (s *Service) Recall(ctx context.Context, cro, reason string) (*Patient, error) {
	var out *Patient
	err := s.write(ctx, "recall", func(ctx context.Context, st Store) error {
		p, err := loadActive(ctx, st, cro)
		if err != nil {
			return err
		}
		if err := Transition(p, StageRecall); err != nil {
			return err
		}
		now := s.now()
		c, err := st.GetConsole(ctx, cro)
		switch {
		case err == nil:
			c.Status = ConsoleRecall
			if reason != "" {
				c.Remark = reason
			}
			c.UpdatedAt = now
			if err := st.SaveConsole(ctx, c); err != nil {
				return err
			}
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}
		p.UpdatedAt = now
		if err := st.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err == nil {
		s.log.Info().Str("cro", cro).Str("reason", reason).Msg("patient recalled")
	}
	return out, err
}

// -- Console --

// StartConsole records that a technician began work on a queued patient.
func (s *Service) StartConsole(ctx context.Context, cro, technician string) (*ConsoleRecord, error) {
	technician = strings.TrimSpace(technician)
	if technician == "" {
		return nil, apperr.Invalid("technician_name", "is required")
	}
	var out *ConsoleRecord
	err := s.write(ctx, "console_start", func(ctx context.Context, st Store) error {
		p, err := loadActive(ctx, st, cro)
		if err != nil {
			return err
		}
		c, err := s.startConsole(ctx, st, p, technician)
		if err != nil {
			return err
		}
		if err := st.SaveConsole(ctx, c); err != nil {
			return err
		}
		if err := st.Update(ctx, p); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (s *Service) startConsole(ctx context.Context, st Store, p *Patient, technician string) (*ConsoleRecord, error) {
	if err := Transition(p, StageInCorridorQueue); err != nil {
		return nil, err
	}
	c, err := st.GetConsole(ctx, p.CRO)
	if errors.Is(err, apperr.ErrNotFound) {
		c, err = &ConsoleRecord{CRO: p.CRO}, nil
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	c.Technician = technician
	c.Status = ConsoleInProgress
	c.StartTime = &now
	c.StopTime = nil
	c.UpdatedAt = now
	p.UpdatedAt = now
	return c, nil
}

// ConsoleUpdate is a console department's report on a patient.
type ConsoleUpdate struct {
	CRO           string `json:"cro"`
	Technician    string `json:"technician_name"`
	ScanCount     int    `json:"scan_count"`
	FilmCount     int    `json:"film_count"`
	ContrastCount int    `json:"contrast_count"`
	Remark        string `json:"remark"`
	// Status is in_progress (counts only), complete (finalize and hand over
	// to nursing) or incomplete (recall for rework).
	Status string `json:"status"`
}

// UpdateConsole stores console counts and, depending on Status, finalizes
// the console work or recalls the patient. A patient still waiting in the
// console queue is started implicitly.
func (s *Service) UpdateConsole(ctx context.Context, in ConsoleUpdate) (*ConsoleRecord, error) {
	v := apperr.NewValidation()
	if strings.TrimSpace(in.CRO) == "" {
		v.Add("cro", "is required")
	}
	if in.ScanCount < 0 {
		v.Add("scan_count", "must not be negative")
	}
	if in.FilmCount < 0 {
		v.Add("film_count", "must not be negative")
	}
	if in.ContrastCount < 0 {
		v.Add("contrast_count", "must not be negative")
	}
	status := strings.ToLower(strings.TrimSpace(in.Status))
	switch status {
	case "", "in_progress", "complete", "incomplete", "recall":
	default:
		v.Add("status", "must be in_progress, complete or incomplete")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	var out *ConsoleRecord
	err := s.write(ctx, "console_update", func(ctx context.Context, st Store) error {
		p, err := loadActive(ctx, st, in.CRO)
		if err != nil {
			return err
		}
		var c *ConsoleRecord
		if p.Stage == StageSentToConsole {
			c, err = s.startConsole(ctx, st, p, strings.TrimSpace(in.Technician))
		} else {
			c, err = st.GetConsole(ctx, p.CRO)
		}
		if err != nil {
			return err
		}
		if p.Stage != StageInCorridorQueue {
			return fmt.Errorf("patient %s is not at the console (stage %s): %w", p.CRO, p.Stage, apperr.ErrStateTransition)
		}

		now := s.now()
		if t := strings.TrimSpace(in.Technician); t != "" {
			c.Technician = t
		}
		c.ScanCount, c.FilmCount, c.ContrastCount = in.ScanCount, in.FilmCount, in.ContrastCount
		if in.Remark != "" {
			c.Remark = in.Remark
		}
		c.UpdatedAt = now

		switch status {
		case "complete":
			if err := Transition(p, StageSentToNursing); err != nil {
				return err
			}
			c.Status = ConsoleComplete
			c.StopTime = &now
			if err := s.openNursing(ctx, st, p); err != nil {
				return err
			}
		case "incomplete", "recall":
			if err := Transition(p, StageRecall); err != nil {
				return err
			}
			c.Status = ConsoleRecall
		default:
			c.Status = ConsoleInProgress
		}
		if err := st.SaveConsole(ctx, c); err != nil {
			return err
		}
		p.UpdatedAt = now
		if err := st.Update(ctx, p); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// -- Nursing and doctor review --

type NursingUpdate struct {
	CRO      string `json:"cro"`
	CTDone   bool   `json:"ct_done"`
	XRayDone bool   `json:"xray_done"`
	Remark   string `json:"remark"`
}

// UpdateNursing marks modalities complete. The first completed modality
// moves the patient to pending_doctor_review.
func (s *Service) UpdateNursing(ctx context.Context, in NursingUpdate, nurse string) (*NursingReview, error) {
	v := apperr.NewValidation()
	if strings.TrimSpace(in.CRO) == "" {
		v.Add("cro", "is required")
	}
	if !in.CTDone && !in.XRayDone {
		v.Add("ct_done", "ct_done or xray_done is required")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	var out *NursingReview
	err := s.write(ctx, "nursing_update", func(ctx context.Context, st Store) error {
		p, err := loadActive(ctx, st, in.CRO)
		if err != nil {
			return err
		}
		if p.Stage != StageSentToNursing && p.Stage != StagePendingDoctorReview {
			return fmt.Errorf("patient %s is not with nursing (stage %s): %w", p.CRO, p.Stage, apperr.ErrStateTransition)
		}
		n, err := st.GetNursing(ctx, p.CRO)
		if errors.Is(err, apperr.ErrNotFound) {
			ct, xray := OrderedModalities(p.ScanType)
			n, err = &NursingReview{CRO: p.CRO, CT: ModalityReview{Ordered: ct}, XRay: ModalityReview{Ordered: xray}}, nil
		}
		if err != nil {
			return err
		}
		anyOrdered := n.CT.Ordered || n.XRay.Ordered
		if in.CTDone {
			if anyOrdered && !n.CT.Ordered {
				return apperr.Invalid("ct_done", "CT was not ordered for this patient")
			}
			n.CT.Done = true
		}
		if in.XRayDone {
			if anyOrdered && !n.XRay.Ordered {
				return apperr.Invalid("xray_done", "X-ray was not ordered for this patient")
			}
			n.XRay.Done = true
		}
		if in.Remark != "" {
			n.Remark = in.Remark
		}
		n.ReviewedBy = nurse
		n.UpdatedAt = s.now()
		if err := st.SaveNursing(ctx, n); err != nil {
			return err
		}
		if p.Stage == StageSentToNursing && n.AnyDone() {
			if err := Transition(p, StagePendingDoctorReview); err != nil {
				return err
			}
			p.UpdatedAt = n.UpdatedAt
			if err := st.Update(ctx, p); err != nil {
				return err
			}
		}
		out = n
		return nil
	})
	return out, err
}

// RecordReview records a doctor's review of one modality. The patient is
// complete once every ordered modality is reviewed.
func (s *Service) RecordReview(ctx context.Context, cro string, m Modality, reportDate *time.Time) (*NursingReview, *Patient, error) {
	var outN *NursingReview
	var outP *Patient
	err := s.write(ctx, "review", func(ctx context.Context, st Store) error {
		p, err := loadActive(ctx, st, cro)
		if err != nil {
			return err
		}
		if p.Stage != StagePendingDoctorReview {
			return fmt.Errorf("patient %s is not pending review (stage %s): %w", p.CRO, p.Stage, apperr.ErrStateTransition)
		}
		n, err := st.GetNursing(ctx, cro)
		if err != nil {
			return err
		}
		if !n.Ordered(m) {
			return apperr.Invalid("modality", fmt.Sprintf("%s was not ordered for this patient", m))
		}
		r := n.For(m)
		if !r.Done {
			return fmt.Errorf("%s for %s not completed by nursing: %w", m, cro, apperr.ErrStateTransition)
		}
		now := s.now()
		if reportDate == nil {
			reportDate = &now
		}
		r.Reviewed = true
		r.ReportDate = reportDate
		n.UpdatedAt = now
		if err := st.SaveNursing(ctx, n); err != nil {
			return err
		}
		if n.AllOrderedReviewed() {
			if err := Transition(p, StageComplete); err != nil {
				return err
			}
			p.UpdatedAt = now
			if err := st.Update(ctx, p); err != nil {
				return err
			}
		}
		outN, outP = n, p
		return nil
	})
	return outN, outP, err
}
