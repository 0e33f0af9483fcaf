package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/tabulant/tabulant/pkg/models"
)

// sampleValues bounds the distinct sample values kept per column.
const sampleValues = 5

// computeProfile derives the cached dataset description from the loaded
// table. Samples are distinct non-null values in table order, so the result
// is stable for a given file.
func computeProfile(ctx context.Context, db *sql.DB, cols []column, filename string) (*models.Profile, error) {
	profile := &models.Profile{
		Filename:    filename,
		ColumnCount: len(cols),
		Columns:     make([]models.ColumnProfile, 0, len(cols)),
	}

	if err := db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", TableName)).Scan(&profile.RowCount); err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	for _, c := range cols {
		cp, err := profileColumn(ctx, db, c)
		if err != nil {
			return nil, err
		}
		profile.Columns = append(profile.Columns, cp)
	}

	preview, err := loadPreview(ctx, db, cols)
	if err != nil {
		return nil, err
	}
	profile.Preview = preview
	return profile, nil
}

func profileColumn(ctx context.Context, db *sql.DB, c column) (models.ColumnProfile, error) {
	cp := models.ColumnProfile{Name: c.Name, Type: c.Type, Samples: []string{}}
	q := quoteIdent(c.Name)

	err := db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*) - COUNT(%s), COUNT(DISTINCT %s) FROM %s", q, q, TableName,
	)).Scan(&cp.NullCount, &cp.UniqueCount)
	if err != nil {
		return cp, fmt.Errorf("failed to profile column %s: %w", c.Name, err)
	}

	if c.Type == models.TypeInteger || c.Type == models.TypeFloating {
		var min, max, mean sql.NullFloat64
		err := db.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT MIN(%s), MAX(%s), AVG(%s) FROM %s", q, q, q, TableName,
		)).Scan(&min, &max, &mean)
		if err != nil {
			return cp, fmt.Errorf("failed to aggregate column %s: %w", c.Name, err)
		}
		if min.Valid {
			cp.Min = &min.Float64
		}
		if max.Valid {
			cp.Max = &max.Float64
		}
		if mean.Valid {
			cp.Mean = &mean.Float64
		}
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL LIMIT %d",
		q, TableName, q, sampleValues,
	))
	if err != nil {
		return cp, fmt.Errorf("failed to sample column %s: %w", c.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return cp, fmt.Errorf("failed to scan sample for %s: %w", c.Name, err)
		}
		cp.Samples = append(cp.Samples, formatSample(v, c.Type))
	}
	return cp, rows.Err()
}

func loadPreview(ctx context.Context, db *sql.DB, cols []column) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT * FROM %s LIMIT %d", TableName, previewRows,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to load preview: %w", err)
	}
	defer rows.Close()

	preview := make([]map[string]any, 0, previewRows)
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan preview row: %w", err)
		}

		record := make(map[string]any, len(cols))
		for i, c := range cols {
			record[c.Name] = previewCell(raw[i], c.Type)
		}
		preview = append(preview, record)
	}
	return preview, rows.Err()
}

// previewCell renders a stored value in its logical form. Booleans come back
// from storage as 0/1 integers.
func previewCell(v any, t models.ColumnType) any {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if t == models.TypeBoolean {
		if n, ok := v.(int64); ok {
			return n != 0
		}
	}
	return v
}

func formatSample(v any, t models.ColumnType) string {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if t == models.TypeBoolean {
		if n, ok := v.(int64); ok {
			return strconv.FormatBool(n != 0)
		}
	}
	switch val := v.(type) {
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
