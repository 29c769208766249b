package patient

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Category is the billing scheme a patient is registered under.
type Category string

const (
	CategoryGeneral     Category = "General"
	CategoryChiranjeevi Category = "Chiranjeevi"
	CategoryRGHS        Category = "RGHS"
	CategoryRTA         Category = "RTA"
	CategoryOPDFree     Category = "OPD-FREE"
	CategoryIPDFree     Category = "IPD-FREE"
	CategoryBPL         Category = "BPL/POOR"
	CategorySenior      Category = "Senior-Citizen"
)

var Categories = []Category{
	CategoryGeneral, CategoryChiranjeevi, CategoryRGHS, CategoryRTA,
	CategoryOPDFree, CategoryIPDFree, CategoryBPL, CategorySenior,
}

// ParseCategory matches s against the known categories ignoring case.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return "", false
}

// Stage is the processing stage of a patient record.
type Stage string

const (
	StageRegistered          Stage = "registered"
	StageAwaitingProcess     Stage = "awaiting_process"
	StageInCorridorQueue     Stage = "in_corridor_queue"
	StageSentToNursing       Stage = "sent_to_nursing"
	StageSentToConsole       Stage = "sent_to_console"
	StageRecall              Stage = "recall"
	StagePendingDoctorReview Stage = "pending_doctor_review"
	StageComplete            Stage = "complete"
)

// legacyStages is indexed by the integer codes the legacy replica and old
// exports store.
var legacyStages = []Stage{
	StageRegistered,
	StageAwaitingProcess,
	StageInCorridorQueue,
	StageSentToNursing,
	StageSentToConsole,
	StageRecall,
	StagePendingDoctorReview,
	StageComplete,
}

var stageLabels = map[string]Stage{
	"registered":          StageRegistered,
	"new":                 StageRegistered,
	"awaitingprocess":     StageAwaitingProcess,
	"awaiting":            StageAwaitingProcess,
	"incorridorqueue":     StageInCorridorQueue,
	"incorridor":          StageInCorridorQueue,
	"corridor":            StageInCorridorQueue,
	"senttonursing":       StageSentToNursing,
	"sendtonursing":       StageSentToNursing,
	"nursing":             StageSentToNursing,
	"senttoconsole":       StageSentToConsole,
	"sendtoconsole":       StageSentToConsole,
	"console":             StageSentToConsole,
	"recall":              StageRecall,
	"pendingdoctorreview": StagePendingDoctorReview,
	"doctorreview":        StagePendingDoctorReview,
	"pendingreview":       StagePendingDoctorReview,
	"complete":            StageComplete,
	"completed":           StageComplete,
}

// ParseStage accepts the canonical form, a legacy integer code or a legacy
// free-text label such as "Send To Nursing".
func ParseStage(raw string) (Stage, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return StageFromLegacy(n)
	}
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	if s, ok := stageLabels[b.String()]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown stage %q", raw)
}

// StageFromLegacy maps a legacy integer code onto a stage.
func StageFromLegacy(n int) (Stage, error) {
	if n < 0 || n >= len(legacyStages) {
		return "", fmt.Errorf("unknown stage code %d", n)
	}
	return legacyStages[n], nil
}

// Legacy returns the integer code of s, or -1 for an unknown stage.
func (s Stage) Legacy() int {
	for i, st := range legacyStages {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool { return s.Legacy() >= 0 }

// Billing is the financial state embedded in a patient record.
type Billing struct {
	Amount   float64 `json:"amount"`
	Discount float64 `json:"discount"`
	Received float64 `json:"amount_received"`
	Due      float64 `json:"amount_due"`
}

type Patient struct {
	ID           uuid.UUID `json:"id"`
	CRO          string    `json:"cro"`
	Prefix       string    `json:"prefix,omitempty"`
	Name         string    `json:"name"`
	Age          string    `json:"age"`
	Gender       string    `json:"gender"`
	Category     Category  `json:"category"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email,omitempty"`
	Address      string    `json:"address,omitempty"`
	HospitalID   uuid.UUID `json:"hospital_id"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	ScanType     string    `json:"scan_type,omitempty"`
	TotalScan    int       `json:"total_scan"`
	Billing      Billing   `json:"billing"`
	Stage        Stage     `json:"stage"`
	Version      int       `json:"version"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registered_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConsoleStatus is the state of the imaging console's work on a patient.
type ConsoleStatus string

const (
	ConsoleQueued     ConsoleStatus = "queued"
	ConsoleInProgress ConsoleStatus = "in_progress"
	ConsoleComplete   ConsoleStatus = "complete"
	ConsoleRecall     ConsoleStatus = "recall"
)

type ConsoleRecord struct {
	CRO           string        `json:"cro"`
	Technician    string        `json:"technician_name,omitempty"`
	ScanCount     int           `json:"scan_count"`
	FilmCount     int           `json:"film_count"`
	ContrastCount int           `json:"contrast_count"`
	StartTime     *time.Time    `json:"start_time,omitempty"`
	StopTime      *time.Time    `json:"stop_time,omitempty"`
	Status        ConsoleStatus `json:"status"`
	Remark        string        `json:"remark,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Modality is an imaging modality tracked by nursing and doctor review.
type Modality string

const (
	ModalityCT   Modality = "ct"
	ModalityXRay Modality = "xray"
)

// ParseModality accepts "CT", "X-Ray", "xray" and similar spellings.
func ParseModality(s string) (Modality, bool) {
	switch strings.NewReplacer("-", "", " ", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(s))) {
	case "ct":
		return ModalityCT, true
	case "xray":
		return ModalityXRay, true
	}
	return "", false
}

type ModalityReview struct {
	Ordered    bool       `json:"ordered"`
	Done       bool       `json:"nursing_done"`
	Reviewed   bool       `json:"doctor_reviewed"`
	ReportDate *time.Time `json:"report_date,omitempty"`
}

type NursingReview struct {
	CRO        string         `json:"cro"`
	CT         ModalityReview `json:"ct"`
	XRay       ModalityReview `json:"xray"`
	Remark     string         `json:"remark,omitempty"`
	ReviewedBy string         `json:"reviewed_by,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// For returns the review entry of m.
func (n *NursingReview) For(m Modality) *ModalityReview {
	if m == ModalityXRay {
		return &n.XRay
	}
	return &n.CT
}

// Filter narrows a patient search. Zero values match everything.
type Filter struct {
	Search          string
	Category        Category
	Stages          []Stage
	IncludeInactive bool
	Limit           int
	Offset          int
}

// Totals aggregates billing over the patients registered in a period. Due
// is clamped at zero per patient.
type Totals struct {
	Patients int     `json:"patients"`
	Received float64 `json:"received"`
	Due      float64 `json:"due"`
}

// AnyDone reports whether nursing completed at least one modality.
func (n *NursingReview) AnyDone() bool { return n.CT.Done || n.XRay.Done }

// Ordered reports whether m was ordered. When the scan type named no known
// modality, whatever nursing completed counts as ordered.
func (n *NursingReview) Ordered(m Modality) bool {
	if n.CT.Ordered || n.XRay.Ordered {
		return n.For(m).Ordered
	}
	return n.For(m).Done
}

// AllOrderedReviewed reports whether a doctor reviewed every ordered modality.
func (n *NursingReview) AllOrderedReviewed() bool {
	found := false
	for _, m := range []Modality{ModalityCT, ModalityXRay} {
		if !n.Ordered(m) {
			continue
		}
		found = true
		if !n.For(m).Reviewed {
			return false
		}
	}
	return found
}

// OrderedModalities derives the ordered modalities from a scan type such as
// "HRCT Chest + X-Ray PNS".
func OrderedModalities(scanType string) (ct, xray bool) {
	s := strings.ToUpper(scanType)
	s = strings.NewReplacer("X-RAY", "XRAY", "X RAY", "XRAY", "X_RAY", "XRAY").Replace(s)
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		switch {
		case strings.Contains(tok, "XRAY"):
			xray = true
		case tok == "CT" || (len(tok) <= 5 && strings.HasSuffix(tok, "CT")):
			ct = true
		}
	}
	return ct, xray
}
