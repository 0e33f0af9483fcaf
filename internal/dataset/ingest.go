package dataset

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/tabulant/tabulant/pkg/models"
)

// TableName is the single table every dataset is loaded into. Queries refer
// to the dataset by this name regardless of the uploaded filename.
const TableName = "data"

// previewRows bounds the sample rows cached in the profile.
const previewRows = 500

// column pairs a sanitized column name with its inferred type.
type column struct {
	Name string
	Type models.ColumnType
}

// Handle is a dataset loaded into an in-memory SQLite database, ready for
// read-only querying. A handle is built once per session and cached; it is
// safe for sequential turns but not for concurrent use.
type Handle struct {
	db      *sql.DB
	profile *models.Profile
	path    string
}

// Open loads the file at path into a fresh in-memory database and computes
// its profile. filename is the original upload name recorded in the profile.
func Open(ctx context.Context, path, filename string) (*Handle, error) {
	var (
		cols []column
		rows [][]any
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		cols, rows, err = loadCSV(path)
	case ".parquet", ".pq":
		cols, rows, err = loadParquet(path)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// One connection so every statement sees the same in-memory database.
	db.SetMaxOpenConns(1)

	h := &Handle{db: db, path: path}
	if err := h.ingest(ctx, cols, rows); err != nil {
		db.Close()
		return nil, err
	}

	profile, err := computeProfile(ctx, db, cols, filename)
	if err != nil {
		db.Close()
		return nil, err
	}
	h.profile = profile
	return h, nil
}

// DB exposes the loaded database for the query engine.
func (h *Handle) DB() *sql.DB {
	return h.db
}

// Profile returns the cached dataset profile.
func (h *Handle) Profile() *models.Profile {
	return h.profile
}

// Close releases the in-memory database.
func (h *Handle) Close() error {
	return h.db.Close()
}

func (h *Handle) ingest(ctx context.Context, cols []column, rows [][]any) error {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(c.Name), sqliteAffinity(c.Type))
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", TableName, strings.Join(defs, ", "))
	if _, err := h.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create data table: %w", err)
	}

	if len(rows) == 0 {
		return nil
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT INTO %s VALUES (%s)", TableName, placeholders))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}
	return tx.Commit()
}

func sqliteAffinity(t models.ColumnType) string {
	switch t {
	case models.TypeInteger, models.TypeBoolean:
		return "INTEGER"
	case models.TypeFloating:
		return "REAL"
	default:
		return "TEXT"
	}
}

// quoteIdent wraps an identifier in double quotes, escaping embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// loadCSV reads the whole file, sanitizes the header, infers column types,
// and converts cells to driver values.
func loadCSV(path string) ([]column, [][]any, error) {
	f, err := os.Open(path) // #nosec G304 -- path is built from a server-generated session id
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("csv file is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	names := sanitizeNames(header)
	records := make([][]string, 0, 1024)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		records = append(records, record)
	}

	cols := make([]column, len(names))
	for i, name := range names {
		cols[i] = column{Name: name, Type: inferColumnType(records, i)}
	}

	rows := make([][]any, len(records))
	for r, record := range records {
		row := make([]any, len(cols))
		for c := range cols {
			row[c] = convertCell(record[c], cols[c].Type)
		}
		rows[r] = row
	}
	return cols, rows, nil
}

// sanitizeNames trims header cells, fills in names for blank ones, and
// deduplicates repeats so every column is addressable in SQL.
func sanitizeNames(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		key := strings.ToLower(name)
		if n := seen[key]; n > 0 {
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		seen[key]++
		names[i] = name
	}
	return names
}

var temporalLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// inferColumnType scans every value in the column and returns the narrowest
// type all non-empty values satisfy. A column of only empty cells is textual.
func inferColumnType(records [][]string, col int) models.ColumnType {
	canInt, canFloat, canBool, canTime := true, true, true, true
	sawValue := false

	for _, record := range records {
		if col >= len(record) {
			continue
		}
		v := strings.TrimSpace(record[col])
		if v == "" {
			continue
		}
		sawValue = true

		if canBool && !isBoolLiteral(v) {
			canBool = false
		}
		if canInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				canInt = false
			}
		}
		if canFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				canFloat = false
			}
		}
		if canTime && !isTemporalLiteral(v) {
			canTime = false
		}
		if !canInt && !canFloat && !canBool && !canTime {
			return models.TypeTextual
		}
	}

	switch {
	case !sawValue:
		return models.TypeTextual
	case canBool:
		return models.TypeBoolean
	case canInt:
		return models.TypeInteger
	case canFloat:
		return models.TypeFloating
	case canTime:
		return models.TypeTemporal
	default:
		return models.TypeTextual
	}
}

func isBoolLiteral(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false":
		return true
	}
	return false
}

func isTemporalLiteral(v string) bool {
	for _, layout := range temporalLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

// convertCell turns a CSV cell into a driver value matching the inferred
// column type. Empty cells and values that fail to parse become NULL.
func convertCell(raw string, t models.ColumnType) any {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}
	switch t {
	case models.TypeInteger:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		return nil
	case models.TypeFloating:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		return nil
	case models.TypeBoolean:
		if strings.EqualFold(v, "true") {
			return int64(1)
		}
		return int64(0)
	case models.TypeTemporal:
		for _, layout := range temporalLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC().Format(time.RFC3339)
			}
		}
		return nil
	default:
		return raw
	}
}
