// Package relational rewrites columns of a SQLite database in place,
// implementing the Relational Rewriter (§4.F): path, JSON, and packed
// image-descriptor columns are transformed row by row; id columns are
// updated keyed on distinct value, with collision collapse handled by
// deleting the colliding rows.
//
// Row identities are snapshotted once into a plain slice before any
// writes happen, matching the source's own comment that a live cursor
// cannot survive concurrent mutation of the table it is iterating.
package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jfvault/migrator/internal/errs"
	"github.com/jfvault/migrator/internal/imagedesc"
	"github.com/jfvault/migrator/internal/logging"
	"github.com/jfvault/migrator/internal/walk"
)

// Leaf transforms one scalar value (a path, or the path field of an image
// descriptor, or a string inside a JSON document). It reports whether the
// value changed and whether it was left unmatched (a "missed path").
type Leaf func(s string) (value string, modified bool, ignored bool)

// TableSpec names one table's column groups to rewrite.
type TableSpec struct {
	Table              string
	PathColumns        []string
	JSONColumns        []string
	ImageColumns       []string
	IDColumnsByVariant map[string][]string // variant name -> columns holding ids of that variant
}

// Stats tallies what a table rewrite did.
type Stats struct {
	RowsProcessed int
	Modified      int
	Ignored       int
	RowsDeleted   int
}

func (s *Stats) add(o Stats) {
	s.RowsProcessed += o.RowsProcessed
	s.Modified += o.Modified
	s.Ignored += o.Ignored
	s.RowsDeleted += o.RowsDeleted
}

// Options controls a rewrite run.
type Options struct {
	Preview bool // when true, never commit
	Logger  logging.Logger
}

// RewriteColumns rewrites the path, JSON, and image columns of spec.Table
// using leaf for every scalar, per the algorithm in §4.F step 2. It does
// not touch id columns; see RewriteIDs for those.
func RewriteColumns(ctx context.Context, db *sql.DB, spec TableSpec, leaf Leaf, opts Options) (Stats, error) {
	var stats Stats
	log := opts.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return stats, errs.New(errs.Driver, "begin transaction for "+spec.Table, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT `rowid` FROM `%s`", spec.Table))
	if err != nil {
		return stats, errs.New(errs.Driver, "select rowids from "+spec.Table, err)
	}
	var todo []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return stats, errs.New(errs.Driver, "scan rowid", err)
		}
		todo = append(todo, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, errs.New(errs.Driver, "iterate rowids", err)
	}

	columns := append(append(append([]string{}, spec.JSONColumns...), spec.PathColumns...), spec.ImageColumns...)
	if len(columns) == 0 {
		return stats, nil
	}
	selectCols := quoteColumns(columns)
	selectQuery := fmt.Sprintf("SELECT %s FROM `%s` WHERE `rowid` = ?", selectCols, spec.Table)

	jsonStop := len(spec.JSONColumns)
	pathStop := jsonStop + len(spec.PathColumns)

	last := time.Time{}
	for i, rowID := range todo {
		if time.Since(last) > time.Second {
			log.Info("relational rewrite progress", "table", spec.Table,
				"row", humanize.Comma(int64(i)), "of", humanize.Comma(int64(len(todo))))
			last = time.Now()
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for j := range values {
			ptrs[j] = &values[j]
		}
		if err := tx.QueryRowContext(ctx, selectQuery, rowID).Scan(ptrs...); err != nil {
			return stats, errs.New(errs.Driver, fmt.Sprintf("select row %d of %s", rowID, spec.Table), err)
		}

		sets := make(map[string]any)

		for j, col := range spec.JSONColumns {
			raw := asString(values[j])
			if raw == "" {
				continue
			}
			var doc any
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				return stats, errs.New(errs.Parse, fmt.Sprintf("row %d column %s", rowID, col), err)
			}
			newDoc, counts := walk.Walk(doc, walk.Leaf(leaf))
			stats.Modified += counts.Modified
			stats.Ignored += counts.Ignored
			if counts.Modified > 0 {
				out, err := json.Marshal(newDoc)
				if err != nil {
					return stats, errs.New(errs.Parse, fmt.Sprintf("re-marshal row %d column %s", rowID, col), err)
				}
				sets[col] = string(out)
			}
		}

		for j, col := range spec.PathColumns {
			raw := asString(values[jsonStop+j])
			newVal, modified, ignored := leaf(raw)
			if modified {
				stats.Modified++
				sets[col] = newVal
			} else if ignored {
				stats.Ignored++
			}
		}

		for j, col := range spec.ImageColumns {
			raw := asString(values[pathStop+j])
			if raw == "" {
				continue
			}
			rec := imagedesc.Parse(raw)
			rewritten, n := imagedesc.RewritePaths(rec, func(p string) (string, bool) {
				newVal, modified, ignored := leaf(p)
				if ignored {
					stats.Ignored++
				}
				return newVal, modified
			})
			if n > 0 {
				stats.Modified += n
				sets[col] = rewritten.Serialize()
			}
		}

		stats.RowsProcessed++
		if len(sets) == 0 {
			continue
		}

		setClause, args := buildSetClause(sets)
		args = append(args, rowID)
		query := fmt.Sprintf("UPDATE `%s` SET %s WHERE `rowid` = ?", spec.Table, setClause)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return stats, errs.New(errs.Driver, fmt.Sprintf("update row %d of %s", rowID, spec.Table), err)
		}
	}

	if opts.Preview {
		return stats, nil
	}
	if err := tx.Commit(); err != nil {
		return stats, errs.New(errs.Driver, "commit "+spec.Table, err)
	}
	return stats, nil
}

// RewriteIDs updates id-bearing columns for one (table, column) pair,
// keyed on distinct old value, per §4.F step 3. When an UPDATE fails on a
// unique constraint (for instance because another row already holds the
// new value), every row still holding the old value is deleted instead,
// never partially updated. Without such a constraint, two old values that
// map to the same new value are both updated and no row is deleted.
func RewriteIDs(ctx context.Context, db *sql.DB, table, column string, replacements map[string]string, opts Options) (Stats, error) {
	var stats Stats
	log := opts.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return stats, errs.New(errs.Driver, fmt.Sprintf("begin transaction for %s.%s", table, column), err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT `%s` FROM `%s`", column, table))
	if err != nil {
		return stats, errs.New(errs.Driver, fmt.Sprintf("select distinct %s.%s", table, column), err)
	}
	var distinct []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return stats, errs.New(errs.Driver, "scan distinct value", err)
		}
		if v.Valid {
			distinct = append(distinct, v.String)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, errs.New(errs.Driver, "iterate distinct values", err)
	}

	updateQuery := fmt.Sprintf("UPDATE `%s` SET `%s` = ? WHERE `%s` = ?", table, column, column)
	deleteQuery := fmt.Sprintf("DELETE FROM `%s` WHERE `%s` = ?", table, column)

	for _, old := range distinct {
		newVal, ok := replacements[old]
		if !ok {
			continue
		}
		_, err := tx.ExecContext(ctx, updateQuery, newVal, old)
		if err == nil {
			stats.Modified++
			continue
		}
		if !isUniqueConstraintErr(err) {
			return stats, errs.New(errs.Driver, fmt.Sprintf("update %s.%s from %s to %s", table, column, old, newVal), err)
		}

		res, delErr := tx.ExecContext(ctx, deleteQuery, old)
		if delErr != nil {
			return stats, errs.New(errs.Driver, fmt.Sprintf("delete colliding rows %s.%s = %s", table, column, old), delErr)
		}
		n, _ := res.RowsAffected()
		stats.RowsDeleted += int(n)
		log.Warn("id update collided on unique constraint; deleted colliding rows",
			"table", table, "column", column, "old", old, "new", newVal, "deleted", n)
	}

	if opts.Preview {
		return stats, nil
	}
	if err := tx.Commit(); err != nil {
		return stats, errs.New(errs.Driver, fmt.Sprintf("commit %s.%s", table, column), err)
	}
	return stats, nil
}

// isUniqueConstraintErr reports whether err looks like a SQLite unique
// constraint violation. The driver surfaces this as a plain error string
// rather than a typed sentinel, so it is matched textually.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("`%s`", c)
	}
	return strings.Join(quoted, ", ")
}

func buildSetClause(sets map[string]any) (string, []any) {
	clauses := make([]string, 0, len(sets))
	args := make([]any, 0, len(sets))
	for col, val := range sets {
		clauses = append(clauses, fmt.Sprintf("`%s` = ?", col))
		args = append(args, val)
	}
	return strings.Join(clauses, ", "), args
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
