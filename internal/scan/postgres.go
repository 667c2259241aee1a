package scan

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource scans an arbitrary Postgres database -- used, for
// instance, to check a plugin's own database for leftover ids rather
// than just the SQLite catalogs the core migration passes touch.
type PostgresSource struct {
	Pool   *pgxpool.Pool
	Schema string // defaults to "public"
}

func (s PostgresSource) schema() string {
	if s.Schema == "" {
		return "public"
	}
	return s.Schema
}

func (s PostgresSource) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'`, s.schema())
	if err != nil {
		return nil, fmt.Errorf("scan: list postgres tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan: scan postgres table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (s PostgresSource) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, s.schema(), table)
	if err != nil {
		return nil, fmt.Errorf("scan: list postgres columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan: scan postgres column name: %w", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func (s PostgresSource) ColumnValues(ctx context.Context, table, column string) ([]any, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %q FROM %q.%q WHERE %q IS NOT NULL`, column, s.schema(), table, column)
	rows, err := s.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scan: select %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	var values []any
	for rows.Next() {
		v, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan: scan %s.%s: %w", table, column, err)
		}
		if len(v) == 1 && v[0] != nil {
			values = append(values, v[0])
		}
	}
	return values, rows.Err()
}
