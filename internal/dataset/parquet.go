package dataset

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"

	"github.com/tabulant/tabulant/pkg/models"
)

// loadParquet reads a flat Parquet file into columns and driver values.
// Nested fields render as their textual form.
func loadParquet(path string) ([]column, [][]any, error) {
	f, err := os.Open(path) // #nosec G304 -- path is built from a server-generated session id
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open parquet: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat parquet: %w", err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse parquet: %w", err)
	}

	fields := pf.Schema().Fields()
	names := make([]string, len(fields))
	for i, field := range fields {
		names[i] = field.Name()
	}
	names = sanitizeNames(names)

	cols := make([]column, len(fields))
	for i, field := range fields {
		cols[i] = column{Name: names[i], Type: parquetColumnType(field)}
	}

	rows := make([][]any, 0, pf.NumRows())
	buf := make([]parquet.Row, 128)
	for _, group := range pf.RowGroups() {
		reader := group.Rows()
		for {
			n, err := reader.ReadRows(buf)
			for _, raw := range buf[:n] {
				row := make([]any, len(cols))
				for _, value := range raw {
					idx := int(value.Column())
					if idx < 0 || idx >= len(cols) {
						continue
					}
					row[idx] = parquetValue(value, fields[idx], cols[idx].Type)
				}
				rows = append(rows, row)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				reader.Close()
				return nil, nil, fmt.Errorf("failed to read parquet rows: %w", err)
			}
		}
		if err := reader.Close(); err != nil {
			return nil, nil, fmt.Errorf("failed to close parquet reader: %w", err)
		}
	}
	return cols, rows, nil
}

// parquetColumnType maps a Parquet field to the profile's logical types.
func parquetColumnType(field parquet.Field) models.ColumnType {
	t := field.Type()
	if lt := t.LogicalType(); lt != nil {
		switch {
		case lt.UTF8 != nil:
			return models.TypeTextual
		case lt.Timestamp != nil, lt.Date != nil:
			return models.TypeTemporal
		case lt.Integer != nil:
			return models.TypeInteger
		}
	}
	switch t.Kind() {
	case parquet.Boolean:
		return models.TypeBoolean
	case parquet.Int32, parquet.Int64:
		return models.TypeInteger
	case parquet.Float, parquet.Double:
		return models.TypeFloating
	default:
		return models.TypeTextual
	}
}

// parquetValue converts a single cell to a driver value.
func parquetValue(value parquet.Value, field parquet.Field, t models.ColumnType) any {
	if value.IsNull() {
		return nil
	}

	if lt := field.Type().LogicalType(); lt != nil {
		if lt.Timestamp != nil {
			return parquetTimestamp(value.Int64(), lt.Timestamp.Unit).UTC().Format(time.RFC3339)
		}
		if lt.Date != nil {
			days := value.Int32()
			return time.Unix(int64(days)*86400, 0).UTC().Format("2006-01-02")
		}
	}

	switch value.Kind() {
	case parquet.Boolean:
		if value.Boolean() {
			return int64(1)
		}
		return int64(0)
	case parquet.Int32, parquet.Int64:
		return value.Int64()
	case parquet.Float, parquet.Double:
		return value.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return value.String()
	default:
		return value.String()
	}
}

func parquetTimestamp(ticks int64, unit format.TimeUnit) time.Time {
	switch {
	case unit.Millis != nil:
		return time.UnixMilli(ticks)
	case unit.Micros != nil:
		return time.UnixMicro(ticks)
	case unit.Nanos != nil:
		return time.Unix(0, ticks)
	default:
		return time.UnixMilli(ticks)
	}
}
