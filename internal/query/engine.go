package query

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"
)

// DefaultTimeout bounds a single query's wall-clock time.
const DefaultTimeout = 10 * time.Second

// Result is a materialized, capped query result.
type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
}

// Engine runs validated read-only SQL against a dataset database.
type Engine struct {
	timeout time.Duration
}

// NewEngine builds an engine; timeout <= 0 selects DefaultTimeout.
func NewEngine(timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{timeout: timeout}
}

// Execute validates sqlText, runs it, and materializes up to maxRows rows.
// Rows beyond the cap set Truncated without being read. All failures are
// *Error values.
func (e *Engine) Execute(ctx context.Context, db *sql.DB, sqlText string, maxRows int) (*Result, error) {
	if err := Validate(sqlText); err != nil {
		return nil, err
	}
	if maxRows <= 0 {
		maxRows = 50
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, strings.TrimRight(strings.TrimSpace(sqlText), ";"))
	if err != nil {
		return nil, e.classify(ctx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, e.classify(ctx, err)
	}

	result := &Result{Columns: columns, Rows: make([][]any, 0, maxRows)}
	for rows.Next() {
		if len(result.Rows) == maxRows {
			result.Truncated = true
			break
		}
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, e.classify(ctx, err)
		}
		row := make([]any, len(columns))
		for i, v := range raw {
			row[i] = normalizeCell(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, e.classify(ctx, err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

func (e *Engine) classify(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "query exceeded the time limit"}
	}
	return &Error{Kind: KindExecution, Message: err.Error()}
}

// normalizeCell maps driver values onto the JSON-safe cell forms: integer,
// floating (NaN and infinities become null), string, boolean, ISO-8601
// timestamp string, or null.
func normalizeCell(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case int64, bool, string:
		return val
	default:
		return val
	}
}
