package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	cferr "github.com/cleanflow/cleanflow/pkg/errors"
)

// Limits bounds dataset ingest. Oversized uploads are rejected before any
// parsing so a single tenant cannot exhaust the process.
type Limits struct {
	MaxBytes          int64
	MaxRows           int
	AllowedExtensions []string
}

// DefaultLimits returns the product defaults: 5MB files, 10k rows.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:          5 * 1024 * 1024,
		MaxRows:           10000,
		AllowedExtensions: []string{"csv", "xlsx"},
	}
}

func (l Limits) allows(ext string) bool {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, a := range l.AllowedExtensions {
		if a == ext {
			return true
		}
	}
	return false
}

// validate checks extension and size before any bytes are parsed.
func (l Limits) validate(path string) error {
	if !l.allows(filepath.Ext(path)) {
		return cferr.New(cferr.CodeFormatUnknown, "extension not allowed").
			WithContext("path", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return cferr.Wrap(err, cferr.CodeFileNotFound, "cannot stat dataset file").
			WithContext("path", path)
	}
	if l.MaxBytes > 0 && info.Size() > l.MaxBytes {
		return cferr.New(cferr.CodeFileTooLarge, "dataset file exceeds size limit").
			WithContext("path", path).
			WithContext("size", info.Size()).
			WithContext("limit", l.MaxBytes)
	}
	return nil
}

// Loader ingests delimited files into frames through DuckDB's CSV reader,
// which handles quoting, encodings, and type sniffing far better than a
// hand-rolled parser.
type Loader struct {
	db     *sql.DB
	limits Limits
}

// NewLoader creates a loader with an in-memory DuckDB engine.
func NewLoader(limits Limits) (*Loader, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connection: %w", err)
	}
	return &Loader{db: db, limits: limits}, nil
}

// Close releases the DuckDB engine.
func (l *Loader) Close() error {
	return l.db.Close()
}

// LoadCSV reads a CSV file into a frame, enforcing ingest limits.
func (l *Loader) LoadCSV(ctx context.Context, path string) (*Frame, error) {
	if err := l.limits.validate(path); err != nil {
		return nil, err
	}

	limit := l.limits.MaxRows
	if limit <= 0 {
		limit = 10000
	}
	query := fmt.Sprintf(
		`SELECT * FROM read_csv_auto('%s', header=true, sample_size=1000) LIMIT %d`,
		escapePath(path), limit)

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, cferr.Wrap(err, cferr.CodeFormatUnknown, "CSV read failed").
			WithContext("path", path)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	columns := normalizeColumns(cols)

	var out [][]Value
	scan := make([]interface{}, len(columns))
	for i := range scan {
		scan[i] = new(interface{})
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, cferr.Wrap(err, cferr.CodeFormatUnknown, "CSV row scan failed").
				WithContext("path", path)
		}
		row := make([]Value, len(columns))
		for i := range scan {
			row[i] = fromSQL(*(scan[i].(*interface{})))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, cferr.New(cferr.CodeDatasetEmpty, "empty dataset").
			WithContext("path", path)
	}

	return NewFrame(columns, out)
}

// fromSQL converts a DuckDB scan result into a cell value.
func fromSQL(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case bool:
		if t {
			return String("true")
		}
		return String("false")
	case time.Time:
		return Timestamp(t)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// normalizeColumns lowercases and underscores headers so downstream step
// parameters and generated SQL reference columns reliably.
func normalizeColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		c = strings.TrimSpace(strings.ToLower(c))
		c = strings.ReplaceAll(c, " ", "_")
		if c == "" {
			c = fmt.Sprintf("column_%d", i)
		}
		out[i] = c
	}
	return out
}

func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
