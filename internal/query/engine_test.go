package query

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T, rows int) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE data (a INTEGER, b TEXT, c REAL)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	for i := 0; i < rows; i++ {
		if _, err := db.Exec("INSERT INTO data VALUES (?, ?, ?)", i, fmt.Sprintf("row-%d", i), float64(i)/2); err != nil {
			t.Fatalf("failed to insert row: %v", err)
		}
	}
	return db
}

func TestExecuteReturnsRows(t *testing.T) {
	db := openTestDB(t, 3)
	engine := NewEngine(0)

	res, err := engine.Execute(context.Background(), db, "SELECT a, b FROM data ORDER BY a", 50)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(res.Columns) != 2 || res.Columns[0] != "a" || res.Columns[1] != "b" {
		t.Errorf("Columns = %v", res.Columns)
	}
	if res.RowCount != 3 || res.Truncated {
		t.Errorf("RowCount = %d, Truncated = %v", res.RowCount, res.Truncated)
	}
	if res.Rows[0][0] != int64(0) || res.Rows[0][1] != "row-0" {
		t.Errorf("first row = %v", res.Rows[0])
	}
}

func TestExecuteNormalizesCells(t *testing.T) {
	db := openTestDB(t, 1)
	engine := NewEngine(0)

	res, err := engine.Execute(context.Background(), db,
		"SELECT NULL AS n, 1.5 AS f, 'x' AS s, 0.0/0.0 AS nan FROM data", 50)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	row := res.Rows[0]
	if row[0] != nil {
		t.Errorf("null cell = %v, want nil", row[0])
	}
	if row[1] != 1.5 {
		t.Errorf("float cell = %v, want 1.5", row[1])
	}
	if row[2] != "x" {
		t.Errorf("string cell = %v, want x", row[2])
	}
	if row[3] != nil {
		t.Errorf("NaN cell = %v, want nil", row[3])
	}
}

func TestExecuteRejectsBeforeRunning(t *testing.T) {
	db := openTestDB(t, 1)
	engine := NewEngine(0)

	_, err := engine.Execute(context.Background(), db, "DELETE FROM data", 50)
	if err == nil || kindOf(t, err) != KindSyntax {
		t.Fatalf("Execute(DELETE) error = %v, want syntax error", err)
	}

	_, err = engine.Execute(context.Background(), db, "SELECT * FROM other", 50)
	if err == nil || kindOf(t, err) != KindForbidden {
		t.Fatalf("Execute(other table) error = %v, want forbidden error", err)
	}

	// A comma-separated table list must not reach the catalog either.
	_, err = engine.Execute(context.Background(), db, "SELECT m.name, m.sql FROM data, sqlite_master m", 50)
	if err == nil || kindOf(t, err) != KindForbidden {
		t.Fatalf("Execute(comma table list) error = %v, want forbidden error", err)
	}
}

func TestExecuteReportsExecutionErrors(t *testing.T) {
	db := openTestDB(t, 1)
	engine := NewEngine(0)

	_, err := engine.Execute(context.Background(), db, "SELECT missing_column FROM data", 50)
	if err == nil || kindOf(t, err) != KindExecution {
		t.Fatalf("Execute() error = %v, want execution error", err)
	}
}

func TestExecuteTimesOut(t *testing.T) {
	db := openTestDB(t, 1)
	engine := NewEngine(time.Nanosecond)

	_, err := engine.Execute(context.Background(), db, "SELECT * FROM data", 50)
	if err == nil || kindOf(t, err) != KindTimeout {
		t.Fatalf("Execute() error = %v, want timeout error", err)
	}
}

func TestRowCapProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)
	engine := NewEngine(0)

	properties.Property("rows = min(R, cap), truncated = R > cap", prop.ForAll(
		func(rowCount, maxRows int) bool {
			db, err := sql.Open("sqlite", ":memory:")
			if err != nil {
				return false
			}
			defer db.Close()
			db.SetMaxOpenConns(1)

			if _, err := db.Exec("CREATE TABLE data (a INTEGER)"); err != nil {
				return false
			}
			for i := 0; i < rowCount; i++ {
				if _, err := db.Exec("INSERT INTO data VALUES (?)", i); err != nil {
					return false
				}
			}

			res, err := engine.Execute(context.Background(), db, "SELECT a FROM data", maxRows)
			if err != nil {
				return false
			}
			want := rowCount
			if want > maxRows {
				want = maxRows
			}
			return len(res.Rows) == want && res.Truncated == (rowCount > maxRows)
		},
		gen.IntRange(0, 120),
		gen.IntRange(1, 60),
	))

	properties.TestingRun(t)
}
