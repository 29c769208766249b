package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagcenter/intake/internal/platform/apperr"
	"github.com/diagcenter/intake/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

// NewStorePG returns the primary-tier store.
func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (r *storePG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *storePG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

const patientCols = `id, cro, prefix, name, age, gender, category, phone, email, address,
	hospital_id, doctor_id, scan_type, total_scan,
	amount, discount, received, due, stage, version, active,
	registered_at, created_at, updated_at`

func (r *storePG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var category, stage string
	err := row.Scan(&p.ID, &p.CRO, &p.Prefix, &p.Name, &p.Age, &p.Gender, &category, &p.Phone, &p.Email, &p.Address,
		&p.HospitalID, &p.DoctorID, &p.ScanType, &p.TotalScan,
		&p.Billing.Amount, &p.Billing.Discount, &p.Billing.Received, &p.Billing.Due, &stage, &p.Version, &p.Active,
		&p.RegisteredAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Category = Category(category)
	p.Stage = Stage(stage)
	return &p, nil
}

func (r *storePG) MaxCROSequence(ctx context.Context, prefix string) (int, error) {
	var seq int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(CAST(SUBSTRING(cro FROM $2) AS INTEGER)), 0)
		FROM patients WHERE cro LIKE $1 AND SUBSTRING(cro FROM $2) ~ '^[0-9]+$'`,
		prefix+"%", len(prefix)+1).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max cro sequence: %w", err)
	}
	return seq, nil
}

func (r *storePG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (`+patientCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		p.ID, p.CRO, p.Prefix, p.Name, p.Age, p.Gender, string(p.Category), p.Phone, p.Email, p.Address,
		p.HospitalID, p.DoctorID, p.ScanType, p.TotalScan,
		p.Billing.Amount, p.Billing.Discount, p.Billing.Received, p.Billing.Due, string(p.Stage), p.Version, p.Active,
		p.RegisteredAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("cro %s already issued: %w", p.CRO, apperr.ErrConflict)
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *storePG) GetByCRO(ctx context.Context, cro string) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE cro = $1`, cro))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient " + cro)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", cro, err)
	}
	return p, nil
}

func (r *storePG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET prefix=$3, name=$4, age=$5, gender=$6, category=$7, phone=$8, email=$9, address=$10,
			hospital_id=$11, doctor_id=$12, scan_type=$13, total_scan=$14,
			amount=$15, discount=$16, received=$17, due=$18, stage=$19, active=$20,
			version=version+1, updated_at=$21
		WHERE cro = $1 AND version = $2`,
		p.CRO, p.Version, p.Prefix, p.Name, p.Age, p.Gender, string(p.Category), p.Phone, p.Email, p.Address,
		p.HospitalID, p.DoctorID, p.ScanType, p.TotalScan,
		p.Billing.Amount, p.Billing.Discount, p.Billing.Received, p.Billing.Due, string(p.Stage), p.Active,
		p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update patient %s: %w", p.CRO, err)
	}
	if tag.RowsAffected() == 0 {
		return r.staleOrMissing(ctx, p.CRO)
	}
	p.Version++
	return nil
}

func (r *storePG) staleOrMissing(ctx context.Context, cro string) error {
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM patients WHERE cro = $1)`, cro).Scan(&exists); err != nil {
		return fmt.Errorf("check patient %s: %w", cro, err)
	}
	if !exists {
		return apperr.NotFound("patient " + cro)
	}
	return fmt.Errorf("patient %s: %w", cro, apperr.ErrConflict)
}

func (r *storePG) Search(ctx context.Context, f Filter) ([]*Patient, int, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !f.IncludeInactive {
		where = append(where, "active")
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, fmt.Sprintf("(name ILIKE %[1]s OR cro ILIKE %[1]s OR phone ILIKE %[1]s OR email ILIKE %[1]s)", p))
	}
	if f.Category != "" {
		where = append(where, "category = "+arg(string(f.Category)))
	}
	if len(f.Stages) > 0 {
		stages := make([]string, len(f.Stages))
		for i, s := range f.Stages {
			stages[i] = string(s)
		}
		where = append(where, "stage = ANY("+arg(stages)+")")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	query := `SELECT ` + patientCols + ` FROM patients` + clause + ` ORDER BY registered_at DESC, cro DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan patient: %w", err)
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *storePG) BillingTotals(ctx context.Context, from, to time.Time) (Totals, error) {
	var t Totals
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(received), 0), COALESCE(SUM(GREATEST(due, 0)), 0)
		FROM patients WHERE active AND registered_at >= $1 AND registered_at < $2`,
		from, to).Scan(&t.Patients, &t.Received, &t.Due)
	if err != nil {
		return Totals{}, fmt.Errorf("billing totals: %w", err)
	}
	return t, nil
}

// -- Console records --

const consoleCols = `cro, technician, scan_count, film_count, contrast_count, start_time, stop_time, status, remark, updated_at`

func (r *storePG) scanConsole(row pgx.Row) (*ConsoleRecord, error) {
	var c ConsoleRecord
	var status string
	if err := row.Scan(&c.CRO, &c.Technician, &c.ScanCount, &c.FilmCount, &c.ContrastCount,
		&c.StartTime, &c.StopTime, &status, &c.Remark, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = ConsoleStatus(status)
	return &c, nil
}

func (r *storePG) GetConsole(ctx context.Context, cro string) (*ConsoleRecord, error) {
	c, err := r.scanConsole(r.conn(ctx).QueryRow(ctx, `SELECT `+consoleCols+` FROM console_records WHERE cro = $1`, cro))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("console record " + cro)
	}
	if err != nil {
		return nil, fmt.Errorf("get console record %s: %w", cro, err)
	}
	return c, nil
}

func (r *storePG) SaveConsole(ctx context.Context, c *ConsoleRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO console_records (`+consoleCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (cro) DO UPDATE SET technician=EXCLUDED.technician, scan_count=EXCLUDED.scan_count,
			film_count=EXCLUDED.film_count, contrast_count=EXCLUDED.contrast_count,
			start_time=EXCLUDED.start_time, stop_time=EXCLUDED.stop_time, status=EXCLUDED.status,
			remark=EXCLUDED.remark, updated_at=EXCLUDED.updated_at`,
		c.CRO, c.Technician, c.ScanCount, c.FilmCount, c.ContrastCount,
		c.StartTime, c.StopTime, string(c.Status), c.Remark, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save console record %s: %w", c.CRO, err)
	}
	return nil
}

func (r *storePG) ConsoleFor(ctx context.Context, cros []string) (map[string]*ConsoleRecord, error) {
	out := make(map[string]*ConsoleRecord, len(cros))
	if len(cros) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+consoleCols+` FROM console_records WHERE cro = ANY($1)`, cros)
	if err != nil {
		return nil, fmt.Errorf("console records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := r.scanConsole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan console record: %w", err)
		}
		out[c.CRO] = c
	}
	return out, rows.Err()
}

func (r *storePG) ListConsole(ctx context.Context, limit, offset int) ([]*ConsoleRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM console_records`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count console records: %w", err)
	}
	query := `SELECT ` + consoleCols + ` FROM console_records ORDER BY updated_at DESC, cro`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list console records: %w", err)
	}
	defer rows.Close()
	var items []*ConsoleRecord
	for rows.Next() {
		c, err := r.scanConsole(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan console record: %w", err)
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// -- Nursing reviews --

const nursingCols = `cro, ct_ordered, ct_done, ct_reviewed, ct_report_date,
	xray_ordered, xray_done, xray_reviewed, xray_report_date, remark, reviewed_by, updated_at`

func (r *storePG) scanNursing(row pgx.Row) (*NursingReview, error) {
	var n NursingReview
	if err := row.Scan(&n.CRO, &n.CT.Ordered, &n.CT.Done, &n.CT.Reviewed, &n.CT.ReportDate,
		&n.XRay.Ordered, &n.XRay.Done, &n.XRay.Reviewed, &n.XRay.ReportDate,
		&n.Remark, &n.ReviewedBy, &n.UpdatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *storePG) GetNursing(ctx context.Context, cro string) (*NursingReview, error) {
	n, err := r.scanNursing(r.conn(ctx).QueryRow(ctx, `SELECT `+nursingCols+` FROM nursing_reviews WHERE cro = $1`, cro))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("nursing review " + cro)
	}
	if err != nil {
		return nil, fmt.Errorf("get nursing review %s: %w", cro, err)
	}
	return n, nil
}

func (r *storePG) SaveNursing(ctx context.Context, n *NursingReview) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO nursing_reviews (`+nursingCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (cro) DO UPDATE SET ct_ordered=EXCLUDED.ct_ordered, ct_done=EXCLUDED.ct_done,
			ct_reviewed=EXCLUDED.ct_reviewed, ct_report_date=EXCLUDED.ct_report_date,
			xray_ordered=EXCLUDED.xray_ordered, xray_done=EXCLUDED.xray_done,
			xray_reviewed=EXCLUDED.xray_reviewed, xray_report_date=EXCLUDED.xray_report_date,
			remark=EXCLUDED.remark, reviewed_by=EXCLUDED.reviewed_by, updated_at=EXCLUDED.updated_at`,
		n.CRO, n.CT.Ordered, n.CT.Done, n.CT.Reviewed, n.CT.ReportDate,
		n.XRay.Ordered, n.XRay.Done, n.XRay.Reviewed, n.XRay.ReportDate,
		n.Remark, n.ReviewedBy, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save nursing review %s: %w", n.CRO, err)
	}
	return nil
}

func (r *storePG) NursingFor(ctx context.Context, cros []string) (map[string]*NursingReview, error) {
	out := make(map[string]*NursingReview, len(cros))
	if len(cros) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+nursingCols+` FROM nursing_reviews WHERE cro = ANY($1)`, cros)
	if err != nil {
		return nil, fmt.Errorf("nursing reviews: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		n, err := r.scanNursing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan nursing review: %w", err)
		}
		out[n.CRO] = n
	}
	return out, rows.Err()
}
