package scan

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Source abstracts the database being scanned, so the core algorithm in
// scan.go works the same whether the backend is the bundled SQLite driver
// or an arbitrary Postgres instance (see PostgresSource).
type Source interface {
	Tables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]string, error)
	ColumnValues(ctx context.Context, table, column string) ([]any, error)
}

// SQLiteSource scans a modernc.org/sqlite-backed database.
type SQLiteSource struct {
	DB *sql.DB
}

// isIndexPseudoTable filters out sqlite_master rows that describe
// indexes rather than real tables, per §4.J step 2.
func isIndexPseudoTable(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "idx") {
		return true
	}
	if strings.HasPrefix(lower, "sqlite_autoindex") {
		return true
	}
	return strings.HasSuffix(lower, "index")
}

func (s SQLiteSource) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, fmt.Errorf("scan: list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan: scan table name: %w", err)
		}
		if !isIndexPseudoTable(name) {
			tables = append(tables, name)
		}
	}
	return tables, rows.Err()
}

func (s SQLiteSource) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("SELECT name FROM PRAGMA_TABLE_INFO('%s')", table))
	if err != nil {
		return nil, fmt.Errorf("scan: list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan: scan column name: %w", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func (s SQLiteSource) ColumnValues(ctx context.Context, table, column string) ([]any, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("SELECT `%s` FROM `%s`", column, table))
	if err != nil {
		return nil, fmt.Errorf("scan: select %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	var values []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: scan %s.%s: %w", table, column, err)
		}
		if v == nil {
			continue
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// BuildJobs enumerates every table and column of src and loads their
// distinct non-null values, producing one ColumnJob per non-empty
// column, per §4.J step 2.
func BuildJobs(ctx context.Context, src Source) ([]ColumnJob, error) {
	tables, err := src.Tables(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []ColumnJob
	for _, table := range tables {
		columns, err := src.Columns(ctx, table)
		if err != nil {
			return nil, err
		}
		for _, column := range columns {
			values, err := src.ColumnValues(ctx, table, column)
			if err != nil {
				return nil, err
			}
			if len(values) == 0 {
				continue
			}
			jobs = append(jobs, ColumnJob{Table: table, Column: column, Values: dedupe(values)})
		}
	}
	return jobs, nil
}

// dedupe reduces values to their distinct set, mirroring the `SELECT
// DISTINCT`-adjacent behavior of the source scanner's set comprehension.
// Scanning distinct values only, rather than every row, is what keeps a
// column with millions of repeated rows tractable.
func dedupe(values []any) []any {
	seen := make(map[string]bool, len(values))
	out := make([]any, 0, len(values))
	for _, v := range values {
		var key string
		switch t := v.(type) {
		case string:
			key = "s:" + t
		case []byte:
			key = "b:" + string(t)
		default:
			key = fmt.Sprintf("o:%v", t)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
