// Package snapshot reads the denormalized flat export used as the last-resort
// data tier. The export is a sequence of blocks; each block starts with a
// header row whose first column name carries the entity prefix
// (patient_, doctor_, hospital_, console_ or scan_).
package snapshot

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tealeg/xlsx"
)

// Entity is a logical record set inside a snapshot.
type Entity string

const (
	EntityPatient  Entity = "patient"
	EntityDoctor   Entity = "doctor"
	EntityHospital Entity = "hospital"
	EntityConsole  Entity = "console"
)

// headerPrefixes maps a first-column prefix onto its entity.
var headerPrefixes = []struct {
	prefix string
	entity Entity
}{
	{"patient_", EntityPatient},
	{"doctor_", EntityDoctor},
	{"hospital_", EntityHospital},
	{"console_", EntityConsole},
	{"scan_", EntityConsole},
}

// Row is one parsed record keyed by lower-cased column name.
type Row map[string]string

// Get returns the trimmed value of the first present column among names.
func (r Row) Get(names ...string) string {
	for _, n := range names {
		if v, ok := r[n]; ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Tables holds the record sets of a parsed snapshot.
type Tables struct {
	rows    map[Entity][]Row
	skipped int
}

// Rows returns the records of entity in file order.
func (t *Tables) Rows(e Entity) []Row {
	if t == nil {
		return nil
	}
	return t.rows[e]
}

// Skipped is the number of malformed rows dropped while parsing.
func (t *Tables) Skipped() int { return t.skipped }

// Counts returns the record count per entity.
func (t *Tables) Counts() map[Entity]int {
	out := make(map[Entity]int, len(t.rows))
	for e, rows := range t.rows {
		out[e] = len(rows)
	}
	return out
}

func entityForHeader(first string) (Entity, bool) {
	first = strings.ToLower(strings.TrimSpace(first))
	for _, hp := range headerPrefixes {
		if strings.HasPrefix(first, hp.prefix) {
			return hp.entity, true
		}
	}
	return "", false
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Parse splits raw records into entity blocks. Rows before the first header,
// blank rows and rows whose width differs from the active header are skipped.
func Parse(records [][]string) *Tables {
	t := &Tables{rows: make(map[Entity][]Row)}
	var header []string
	var entity Entity

	for _, rec := range records {
		if len(rec) == 0 || blank(rec) {
			continue
		}
		if e, ok := entityForHeader(rec[0]); ok {
			entity = e
			header = make([]string, len(rec))
			for i, col := range rec {
				header[i] = strings.ToLower(strings.TrimSpace(col))
			}
			continue
		}
		if header == nil || len(rec) != len(header) {
			t.skipped++
			continue
		}
		row := make(Row, len(header))
		for i, col := range header {
			row[col] = rec[i]
		}
		t.rows[entity] = append(t.rows[entity], row)
	}
	return t
}

// ReadCSV reads every record of a CSV export. Records may have differing
// widths; Parse decides which to keep.
func ReadCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	var out [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				// A broken line is a malformed row, not a broken file.
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
}

// ReadXLSX reads every row of every sheet of a workbook export. Header rows
// lose their trailing empty cells; data rows are fitted to the width of the
// header above them, since a workbook does not store trailing empty cells.
func ReadXLSX(path string) ([][]string, error) {
	file, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	var out [][]string
	for _, sheet := range file.Sheets {
		width := 0
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			rec := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				rec = append(rec, cell.Value)
			}
			if len(rec) > 0 {
				if _, ok := entityForHeader(rec[0]); ok {
					rec = trimTrailing(rec, 0)
					width = len(rec)
					out = append(out, rec)
					continue
				}
			}
			out = append(out, fitWidth(rec, width))
		}
	}
	return out, nil
}

// trimTrailing drops empty cells past the first keep cells.
func trimTrailing(rec []string, keep int) []string {
	for len(rec) > keep && strings.TrimSpace(rec[len(rec)-1]) == "" {
		rec = rec[:len(rec)-1]
	}
	return rec
}

func fitWidth(rec []string, width int) []string {
	if width == 0 || blank(rec) {
		return trimTrailing(rec, 0)
	}
	rec = trimTrailing(rec, width)
	for len(rec) < width {
		rec = append(rec, "")
	}
	return rec
}

// ReadFile reads a snapshot export. Files ending in .xlsx are read as
// workbooks; everything else is parsed as CSV.
func ReadFile(path string) (*Tables, error) {
	var records [][]string
	var err error
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		records, err = ReadXLSX(path)
	} else {
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open snapshot %s: %w", path, err)
		}
		defer f.Close()
		records, err = ReadCSV(f)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return Parse(records), nil
}

// Reader loads a snapshot file lazily. The first successful load is cached
// for the lifetime of the process; a failed load is retried on the next call.
type Reader struct {
	path string
	read func(path string) (*Tables, error)

	mu     sync.Mutex
	tables *Tables
}

func NewReader(path string) *Reader {
	return &Reader{path: path, read: ReadFile}
}

// Path returns the configured file path.
func (r *Reader) Path() string { return r.path }

// Load returns the parsed tables, reading the file on first use.
func (r *Reader) Load(ctx context.Context) (*Tables, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tables != nil {
		return r.tables, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := r.read(r.path)
	if err != nil {
		return nil, err
	}
	r.tables = t
	return t, nil
}

// Loaded reports whether the snapshot has been parsed.
func (r *Reader) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tables != nil
}

// ID returns raw as a uuid when it is one. Legacy exports carry short
// numeric or free-form ids; those map to a stable name-based uuid per kind.
func ID(kind, raw string) uuid.UUID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil
	}
	if id, err := uuid.Parse(raw); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+":"+raw))
}

// MaxPatientResults caps patient lookups served from the snapshot.
const MaxPatientResults = 50

// Matches reports whether search occurs, case-insensitively, in any of values.
// An empty search matches everything.
func Matches(search string, values ...string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), search) {
			return true
		}
	}
	return false
}
