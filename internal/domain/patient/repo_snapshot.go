package patient

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/diagcenter/intake/internal/platform/apperr"
	"github.com/diagcenter/intake/internal/platform/snapshot"
)

var errReadOnly = fmt.Errorf("snapshot tier is read-only: %w", apperr.ErrDataSourceUnavailable)

type storeSnapshot struct{ reader *snapshot.Reader }

// NewStoreSnapshot returns the read-only store backed by the flat export.
func NewStoreSnapshot(r *snapshot.Reader) Store {
	return &storeSnapshot{reader: r}
}

func (r *storeSnapshot) InTx(context.Context, func(ctx context.Context) error) error {
	return errReadOnly
}

func (r *storeSnapshot) patients(ctx context.Context) ([]*Patient, error) {
	t, err := r.reader.Load(ctx)
	if err != nil {
		return nil, err
	}
	rows := t.Rows(snapshot.EntityPatient)
	out := make([]*Patient, 0, len(rows))
	for _, row := range rows {
		if p := patientFromRow(row); p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *storeSnapshot) MaxCROSequence(ctx context.Context, prefix string) (int, error) {
	ps, err := r.patients(ctx)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, p := range ps {
		if n := CROSequence(prefix, p.CRO); n > max {
			max = n
		}
	}
	return max, nil
}

func (r *storeSnapshot) Create(context.Context, *Patient) error { return errReadOnly }
func (r *storeSnapshot) Update(context.Context, *Patient) error { return errReadOnly }

func (r *storeSnapshot) GetByCRO(ctx context.Context, cro string) (*Patient, error) {
	ps, err := r.patients(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range ps {
		if strings.EqualFold(p.CRO, cro) {
			return p, nil
		}
	}
	return nil, apperr.NotFound("patient " + cro)
}

func matchesFilter(p *Patient, f Filter) bool {
	if !f.IncludeInactive && !p.Active {
		return false
	}
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if len(f.Stages) > 0 {
		found := false
		for _, s := range f.Stages {
			if p.Stage == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return snapshot.Matches(f.Search, p.Name, p.CRO, p.Phone, p.Email)
}

// Search applies the relational filter semantics in memory. Results are
// capped at snapshot.MaxPatientResults regardless of the requested limit.
func (r *storeSnapshot) Search(ctx context.Context, f Filter) ([]*Patient, int, error) {
	ps, err := r.patients(ctx)
	if err != nil {
		return nil, 0, err
	}
	var matched []*Patient
	for _, p := range ps {
		if matchesFilter(p, f) {
			matched = append(matched, p)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].RegisteredAt.After(matched[j].RegisteredAt)
	})
	total := len(matched)

	start := f.Offset
	if start > total {
		start = total
	}
	limit := f.Limit
	if limit <= 0 || limit > snapshot.MaxPatientResults {
		limit = snapshot.MaxPatientResults
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *storeSnapshot) BillingTotals(ctx context.Context, from, to time.Time) (Totals, error) {
	ps, err := r.patients(ctx)
	if err != nil {
		return Totals{}, err
	}
	var t Totals
	for _, p := range ps {
		if !p.Active || p.RegisteredAt.Before(from) || !p.RegisteredAt.Before(to) {
			continue
		}
		t.Patients++
		t.Received += p.Billing.Received
		t.Due += p.Billing.CashDue()
	}
	t.Received, t.Due = round2(t.Received), round2(t.Due)
	return t, nil
}

func (r *storeSnapshot) consoles(ctx context.Context) ([]*ConsoleRecord, error) {
	t, err := r.reader.Load(ctx)
	if err != nil {
		return nil, err
	}
	rows := t.Rows(snapshot.EntityConsole)
	out := make([]*ConsoleRecord, 0, len(rows))
	for _, row := range rows {
		if c := consoleFromRow(row); c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *storeSnapshot) GetConsole(ctx context.Context, cro string) (*ConsoleRecord, error) {
	cs, err := r.consoles(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range cs {
		if strings.EqualFold(c.CRO, cro) {
			return c, nil
		}
	}
	return nil, apperr.NotFound("console record " + cro)
}

func (r *storeSnapshot) SaveConsole(context.Context, *ConsoleRecord) error { return errReadOnly }

func (r *storeSnapshot) ConsoleFor(ctx context.Context, cros []string) (map[string]*ConsoleRecord, error) {
	cs, err := r.consoles(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(cros))
	for _, c := range cros {
		want[c] = true
	}
	out := make(map[string]*ConsoleRecord)
	for _, c := range cs {
		if want[c.CRO] {
			out[c.CRO] = c
		}
	}
	return out, nil
}

func (r *storeSnapshot) ListConsole(ctx context.Context, limit, offset int) ([]*ConsoleRecord, int, error) {
	cs, err := r.consoles(ctx)
	if err != nil {
		return nil, 0, err
	}
	total := len(cs)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return cs[offset:end], total, nil
}

// The export carries no nursing block.

func (r *storeSnapshot) GetNursing(_ context.Context, cro string) (*NursingReview, error) {
	return nil, apperr.NotFound("nursing review " + cro)
}

func (r *storeSnapshot) SaveNursing(context.Context, *NursingReview) error { return errReadOnly }

func (r *storeSnapshot) NursingFor(context.Context, []string) (map[string]*NursingReview, error) {
	return map[string]*NursingReview{}, nil
}

// -- Row mapping --

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02", "02-01-2006", "02/01/2006"}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	return f
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', 2, 64) }

// patientHeader is the column order of the patient block in an export.
var patientHeader = []string{
	"patient_cro", "patient_prefix", "patient_name", "patient_age", "patient_gender",
	"patient_category", "patient_phone", "patient_email", "patient_address",
	"patient_hospital_id", "patient_doctor_id", "patient_scan_type", "patient_total_scan",
	"patient_amount", "patient_discount", "patient_received", "patient_due",
	"patient_stage", "patient_active", "patient_registered_at",
}

func patientFromRow(row snapshot.Row) *Patient {
	cro := row.Get("patient_cro", "patient_id")
	if cro == "" {
		return nil
	}
	p := &Patient{
		CRO:       cro,
		Prefix:    row.Get("patient_prefix"),
		Name:      row.Get("patient_name"),
		Age:       row.Get("patient_age"),
		Gender:    row.Get("patient_gender"),
		Phone:     row.Get("patient_phone", "patient_contact"),
		Email:     row.Get("patient_email"),
		Address:   row.Get("patient_address"),
		ScanType:  row.Get("patient_scan_type"),
		TotalScan: parseInt(row.Get("patient_total_scan")),
		Active:    !strings.EqualFold(row.Get("patient_active"), "false"),
	}
	p.ID = snapshot.ID("patient", cro)
	if c, ok := ParseCategory(row.Get("patient_category")); ok {
		p.Category = c
	} else {
		p.Category = CategoryGeneral
	}
	p.HospitalID = snapshot.ID("hospital", row.Get("patient_hospital_id"))
	p.DoctorID = snapshot.ID("doctor", row.Get("patient_doctor_id"))

	p.Billing = Billing{
		Amount:   parseFloat(row.Get("patient_amount")),
		Discount: parseFloat(row.Get("patient_discount")),
		Received: parseFloat(row.Get("patient_received", "patient_amount_received")),
	}.recompute()

	p.Stage = StageAwaitingProcess
	if s, err := ParseStage(row.Get("patient_stage", "patient_status")); err == nil {
		p.Stage = s
	}
	if t := parseTime(row.Get("patient_registered_at", "patient_date")); t != nil {
		p.RegisteredAt = *t
		p.CreatedAt = *t
		p.UpdatedAt = *t
	}
	return p
}

// PatientBlock renders patients as an export block.
func PatientBlock(ps []*Patient) snapshot.Block {
	b := snapshot.Block{Header: patientHeader}
	for _, p := range ps {
		registered := p.RegisteredAt
		b.Rows = append(b.Rows, []string{
			p.CRO, p.Prefix, p.Name, p.Age, p.Gender,
			string(p.Category), p.Phone, p.Email, p.Address,
			p.HospitalID.String(), p.DoctorID.String(), p.ScanType, strconv.Itoa(p.TotalScan),
			formatFloat(p.Billing.Amount), formatFloat(p.Billing.Discount),
			formatFloat(p.Billing.Received), formatFloat(p.Billing.Due),
			string(p.Stage), strconv.FormatBool(p.Active), formatTime(&registered),
		})
	}
	return b
}

var consoleHeader = []string{
	"console_cro", "console_technician", "console_scan_count", "console_film_count",
	"console_contrast_count", "console_start_time", "console_stop_time", "console_status", "console_remark",
}

func consoleFromRow(row snapshot.Row) *ConsoleRecord {
	cro := row.Get("console_cro", "scan_cro")
	if cro == "" {
		return nil
	}
	c := &ConsoleRecord{
		CRO:           cro,
		Technician:    row.Get("console_technician", "scan_technician", "console_technician_name"),
		ScanCount:     parseInt(row.Get("console_scan_count", "scan_count")),
		FilmCount:     parseInt(row.Get("console_film_count", "scan_film_count")),
		ContrastCount: parseInt(row.Get("console_contrast_count", "scan_contrast_count")),
		StartTime:     parseTime(row.Get("console_start_time", "scan_start_time")),
		StopTime:      parseTime(row.Get("console_stop_time", "scan_stop_time")),
		Status:        ConsoleStatus(strings.ToLower(row.Get("console_status", "scan_status"))),
		Remark:        row.Get("console_remark", "scan_remark"),
	}
	switch c.Status {
	case ConsoleQueued, ConsoleInProgress, ConsoleComplete, ConsoleRecall:
	default:
		c.Status = ConsoleQueued
		if c.StopTime != nil {
			c.Status = ConsoleComplete
		} else if c.StartTime != nil {
			c.Status = ConsoleInProgress
		}
	}
	if c.StopTime != nil {
		c.UpdatedAt = *c.StopTime
	} else if c.StartTime != nil {
		c.UpdatedAt = *c.StartTime
	}
	return c
}

// ConsoleBlock renders console records as an export block.
func ConsoleBlock(cs []*ConsoleRecord) snapshot.Block {
	b := snapshot.Block{Header: consoleHeader}
	for _, c := range cs {
		b.Rows = append(b.Rows, []string{
			c.CRO, c.Technician, strconv.Itoa(c.ScanCount), strconv.Itoa(c.FilmCount),
			strconv.Itoa(c.ContrastCount), formatTime(c.StartTime), formatTime(c.StopTime),
			string(c.Status), c.Remark,
		})
	}
	return b
}
