package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/diagcenter/intake/internal/platform/apperr"
	"github.com/diagcenter/intake/internal/platform/db"
)

// patientRow is the legacy replica layout. The stage is kept as the legacy
// integer status code.
type patientRow struct {
	ID           string    `gorm:"column:id;primaryKey;size:36"`
	CRO          string    `gorm:"column:cro;uniqueIndex;size:32;not null"`
	Prefix       string    `gorm:"column:prefix;size:16"`
	Name         string    `gorm:"column:name;size:255;not null"`
	Age          string    `gorm:"column:age;size:16"`
	Gender       string    `gorm:"column:gender;size:16"`
	Category     string    `gorm:"column:category;size:32"`
	Phone        string    `gorm:"column:phone;size:32"`
	Email        string    `gorm:"column:email;size:255"`
	Address      string    `gorm:"column:address;type:text"`
	HospitalID   string    `gorm:"column:hospital_id;size:36"`
	DoctorID     string    `gorm:"column:doctor_id;size:36"`
	ScanType     string    `gorm:"column:scan_type;size:255"`
	TotalScan    int       `gorm:"column:total_scan"`
	Amount       float64   `gorm:"column:amount;type:decimal(12,2)"`
	Discount     float64   `gorm:"column:discount;type:decimal(12,2)"`
	Received     float64   `gorm:"column:received;type:decimal(12,2)"`
	Due          float64   `gorm:"column:due;type:decimal(12,2)"`
	Status       int       `gorm:"column:status;index"`
	Version      int       `gorm:"column:version;not null;default:1"`
	Active       bool      `gorm:"column:active;not null;default:true"`
	RegisteredAt time.Time `gorm:"column:registered_at;index"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (patientRow) TableName() string { return "patients" }

type consoleRow struct {
	CRO           string     `gorm:"column:cro;primaryKey;size:32"`
	Technician    string     `gorm:"column:technician;size:255"`
	ScanCount     int        `gorm:"column:scan_count"`
	FilmCount     int        `gorm:"column:film_count"`
	ContrastCount int        `gorm:"column:contrast_count"`
	StartTime     *time.Time `gorm:"column:start_time"`
	StopTime      *time.Time `gorm:"column:stop_time"`
	Status        string     `gorm:"column:status;size:16"`
	Remark        string     `gorm:"column:remark;type:text"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

func (consoleRow) TableName() string { return "console_records" }

type nursingRow struct {
	CRO            string     `gorm:"column:cro;primaryKey;size:32"`
	CTOrdered      bool       `gorm:"column:ct_ordered"`
	CTDone         bool       `gorm:"column:ct_done"`
	CTReviewed     bool       `gorm:"column:ct_reviewed"`
	CTReportDate   *time.Time `gorm:"column:ct_report_date;type:date"`
	XRayOrdered    bool       `gorm:"column:xray_ordered"`
	XRayDone       bool       `gorm:"column:xray_done"`
	XRayReviewed   bool       `gorm:"column:xray_reviewed"`
	XRayReportDate *time.Time `gorm:"column:xray_report_date;type:date"`
	Remark         string     `gorm:"column:remark;type:text"`
	ReviewedBy     string     `gorm:"column:reviewed_by;size:255"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (nursingRow) TableName() string { return "nursing_reviews" }

// Models lists the secondary-store tables owned by this package, for
// AutoMigrate.
func Models() []interface{} {
	return []interface{}{&patientRow{}, &consoleRow{}, &nursingRow{}}
}

func toPatientRow(p *Patient) *patientRow {
	return &patientRow{
		ID: p.ID.String(), CRO: p.CRO, Prefix: p.Prefix, Name: p.Name, Age: p.Age, Gender: p.Gender,
		Category: string(p.Category), Phone: p.Phone, Email: p.Email, Address: p.Address,
		HospitalID: p.HospitalID.String(), DoctorID: p.DoctorID.String(),
		ScanType: p.ScanType, TotalScan: p.TotalScan,
		Amount: p.Billing.Amount, Discount: p.Billing.Discount, Received: p.Billing.Received, Due: p.Billing.Due,
		Status: p.Stage.Legacy(), Version: p.Version, Active: p.Active,
		RegisteredAt: p.RegisteredAt, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (row *patientRow) patient() (*Patient, error) {
	stage, err := StageFromLegacy(row.Status)
	if err != nil {
		return nil, fmt.Errorf("patient %s: %w", row.CRO, err)
	}
	id, _ := uuid.Parse(row.ID)
	hospitalID, _ := uuid.Parse(row.HospitalID)
	doctorID, _ := uuid.Parse(row.DoctorID)
	return &Patient{
		ID: id, CRO: row.CRO, Prefix: row.Prefix, Name: row.Name, Age: row.Age, Gender: row.Gender,
		Category: Category(row.Category), Phone: row.Phone, Email: row.Email, Address: row.Address,
		HospitalID: hospitalID, DoctorID: doctorID, ScanType: row.ScanType, TotalScan: row.TotalScan,
		Billing: Billing{Amount: row.Amount, Discount: row.Discount, Received: row.Received, Due: row.Due},
		Stage: stage, Version: row.Version, Active: row.Active,
		RegisteredAt: row.RegisteredAt, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}, nil
}

type storeMySQL struct{ db *gorm.DB }

// NewStoreMySQL returns the secondary-tier store.
func NewStoreMySQL(gdb *gorm.DB) Store {
	return &storeMySQL{db: gdb}
}

func (r *storeMySQL) conn(ctx context.Context) *gorm.DB {
	return db.Gorm(ctx, r.db)
}

func (r *storeMySQL) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithGormTx(ctx, r.db, fn)
}

func (r *storeMySQL) MaxCROSequence(ctx context.Context, prefix string) (int, error) {
	var seq int
	err := r.conn(ctx).Raw(`
		SELECT COALESCE(MAX(CAST(SUBSTRING(cro, ?) AS UNSIGNED)), 0)
		FROM patients WHERE cro LIKE ? AND SUBSTRING(cro, ?) REGEXP '^[0-9]+$'`,
		len(prefix)+1, prefix+"%", len(prefix)+1).Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("max cro sequence: %w", err)
	}
	return seq, nil
}

func (r *storeMySQL) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Version = 1
	if err := r.conn(ctx).Create(toPatientRow(p)).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("cro %s already issued: %w", p.CRO, apperr.ErrConflict)
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *storeMySQL) GetByCRO(ctx context.Context, cro string) (*Patient, error) {
	var row patientRow
	err := r.conn(ctx).Where("cro = ?", cro).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("patient " + cro)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", cro, err)
	}
	return row.patient()
}

func (r *storeMySQL) Update(ctx context.Context, p *Patient) error {
	row := toPatientRow(p)
	res := r.conn(ctx).Model(&patientRow{}).
		Where("cro = ? AND version = ?", p.CRO, p.Version).
		Updates(map[string]interface{}{
			"prefix": row.Prefix, "name": row.Name, "age": row.Age, "gender": row.Gender,
			"category": row.Category, "phone": row.Phone, "email": row.Email, "address": row.Address,
			"hospital_id": row.HospitalID, "doctor_id": row.DoctorID,
			"scan_type": row.ScanType, "total_scan": row.TotalScan,
			"amount": row.Amount, "discount": row.Discount, "received": row.Received, "due": row.Due,
			"status": row.Status, "active": row.Active,
			"version":    gorm.Expr("version + 1"),
			"updated_at": row.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update patient %s: %w", p.CRO, res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := r.conn(ctx).Model(&patientRow{}).Where("cro = ?", p.CRO).Count(&n).Error; err != nil {
			return fmt.Errorf("check patient %s: %w", p.CRO, err)
		}
		if n == 0 {
			return apperr.NotFound("patient " + p.CRO)
		}
		return fmt.Errorf("patient %s: %w", p.CRO, apperr.ErrConflict)
	}
	p.Version++
	return nil
}

func (r *storeMySQL) Search(ctx context.Context, f Filter) ([]*Patient, int, error) {
	q := r.conn(ctx).Model(&patientRow{})
	if !f.IncludeInactive {
		q = q.Where("active = ?", true)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where("(name LIKE ? OR cro LIKE ? OR phone LIKE ? OR email LIKE ?)", like, like, like, like)
	}
	if f.Category != "" {
		q = q.Where("category = ?", string(f.Category))
	}
	if len(f.Stages) > 0 {
		codes := make([]int, len(f.Stages))
		for i, s := range f.Stages {
			codes[i] = s.Legacy()
		}
		q = q.Where("status IN ?", codes)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	q = q.Order("registered_at DESC").Order("cro DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	var rows []patientRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	items := make([]*Patient, 0, len(rows))
	for i := range rows {
		p, err := rows[i].patient()
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, int(total), nil
}

func (r *storeMySQL) BillingTotals(ctx context.Context, from, to time.Time) (Totals, error) {
	var out struct {
		Patients int
		Received float64
		Due      float64
	}
	err := r.conn(ctx).Raw(`
		SELECT COUNT(*) AS patients, COALESCE(SUM(received), 0) AS received, COALESCE(SUM(GREATEST(due, 0)), 0) AS due
		FROM patients WHERE active = ? AND registered_at >= ? AND registered_at < ?`,
		true, from, to).Scan(&out).Error
	if err != nil {
		return Totals{}, fmt.Errorf("billing totals: %w", err)
	}
	return Totals{Patients: out.Patients, Received: out.Received, Due: out.Due}, nil
}

func (row *consoleRow) record() *ConsoleRecord {
	return &ConsoleRecord{
		CRO: row.CRO, Technician: row.Technician,
		ScanCount: row.ScanCount, FilmCount: row.FilmCount, ContrastCount: row.ContrastCount,
		StartTime: row.StartTime, StopTime: row.StopTime,
		Status: ConsoleStatus(row.Status), Remark: row.Remark, UpdatedAt: row.UpdatedAt,
	}
}

func (r *storeMySQL) GetConsole(ctx context.Context, cro string) (*ConsoleRecord, error) {
	var row consoleRow
	err := r.conn(ctx).Where("cro = ?", cro).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("console record " + cro)
	}
	if err != nil {
		return nil, fmt.Errorf("get console record %s: %w", cro, err)
	}
	return row.record(), nil
}

func (r *storeMySQL) SaveConsole(ctx context.Context, c *ConsoleRecord) error {
	row := consoleRow{
		CRO: c.CRO, Technician: c.Technician,
		ScanCount: c.ScanCount, FilmCount: c.FilmCount, ContrastCount: c.ContrastCount,
		StartTime: c.StartTime, StopTime: c.StopTime,
		Status: string(c.Status), Remark: c.Remark, UpdatedAt: c.UpdatedAt,
	}
	if err := r.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("save console record %s: %w", c.CRO, err)
	}
	return nil
}

func (r *storeMySQL) ConsoleFor(ctx context.Context, cros []string) (map[string]*ConsoleRecord, error) {
	out := make(map[string]*ConsoleRecord, len(cros))
	if len(cros) == 0 {
		return out, nil
	}
	var rows []consoleRow
	if err := r.conn(ctx).Where("cro IN ?", cros).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("console records: %w", err)
	}
	for i := range rows {
		out[rows[i].CRO] = rows[i].record()
	}
	return out, nil
}

func (r *storeMySQL) ListConsole(ctx context.Context, limit, offset int) ([]*ConsoleRecord, int, error) {
	var total int64
	if err := r.conn(ctx).Model(&consoleRow{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count console records: %w", err)
	}
	q := r.conn(ctx).Order("updated_at DESC").Order("cro")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	var rows []consoleRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list console records: %w", err)
	}
	items := make([]*ConsoleRecord, len(rows))
	for i := range rows {
		items[i] = rows[i].record()
	}
	return items, int(total), nil
}

func (row *nursingRow) review() *NursingReview {
	return &NursingReview{
		CRO:        row.CRO,
		CT:         ModalityReview{Ordered: row.CTOrdered, Done: row.CTDone, Reviewed: row.CTReviewed, ReportDate: row.CTReportDate},
		XRay:       ModalityReview{Ordered: row.XRayOrdered, Done: row.XRayDone, Reviewed: row.XRayReviewed, ReportDate: row.XRayReportDate},
		Remark:     row.Remark,
		ReviewedBy: row.ReviewedBy,
		UpdatedAt:  row.UpdatedAt,
	}
}

func (r *storeMySQL) GetNursing(ctx context.Context, cro string) (*NursingReview, error) {
	var row nursingRow
	err := r.conn(ctx).Where("cro = ?", cro).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("nursing review " + cro)
	}
	if err != nil {
		return nil, fmt.Errorf("get nursing review %s: %w", cro, err)
	}
	return row.review(), nil
}

func (r *storeMySQL) SaveNursing(ctx context.Context, n *NursingReview) error {
	row := nursingRow{
		CRO: n.CRO,
		CTOrdered: n.CT.Ordered, CTDone: n.CT.Done, CTReviewed: n.CT.Reviewed, CTReportDate: n.CT.ReportDate,
		XRayOrdered: n.XRay.Ordered, XRayDone: n.XRay.Done, XRayReviewed: n.XRay.Reviewed, XRayReportDate: n.XRay.ReportDate,
		Remark: n.Remark, ReviewedBy: n.ReviewedBy, UpdatedAt: n.UpdatedAt,
	}
	if err := r.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("save nursing review %s: %w", n.CRO, err)
	}
	return nil
}

func (r *storeMySQL) NursingFor(ctx context.Context, cros []string) (map[string]*NursingReview, error) {
	out := make(map[string]*NursingReview, len(cros))
	if len(cros) == 0 {
		return out, nil
	}
	var rows []nursingRow
	if err := r.conn(ctx).Where("cro IN ?", cros).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("nursing reviews: %w", err)
	}
	for i := range rows {
		out[rows[i].CRO] = rows[i].review()
	}
	return out, nil
}
