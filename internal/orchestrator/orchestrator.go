// Package orchestrator sequences the three migration passes against a
// loaded configuration (§4.K): it runs the Job Runner and File
// Dispatcher over each pass's job list in order, runs Id Derivation &
// Collision Analysis once between pass 1 and pass 2, and -- once pass 3
// has finished -- reconciles file dates against the filesystem.
//
// It is the one place that knows how the lower-level packages
// (jobs, dispatch, pathmap, idpath, relational, derive) fit together;
// none of those packages know about each other's existence.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	_ "modernc.org/sqlite"

	"github.com/jfvault/migrator/internal/config"
	"github.com/jfvault/migrator/internal/derive"
	"github.com/jfvault/migrator/internal/dispatch"
	"github.com/jfvault/migrator/internal/errs"
	"github.com/jfvault/migrator/internal/idcodec"
	"github.com/jfvault/migrator/internal/idpath"
	"github.com/jfvault/migrator/internal/jobs"
	"github.com/jfvault/migrator/internal/logging"
	"github.com/jfvault/migrator/internal/pathmap"
	"github.com/jfvault/migrator/internal/relational"
	"github.com/jfvault/migrator/internal/runctx"
)

// catalogTable is the table the target runtime stores every item in,
// keyed by guid, with its type and current path. It is the same table
// name the standalone scanner's catalog loader reads (internal/scan is
// a read-only probe; this is the in-place mutator).
const catalogTable = "TypedBaseItems"

// Options tunes one orchestrated run.
type Options struct {
	// Preview runs every pass exactly as normal -- files still get
	// copied and rewritten under TargetRoot -- except that every SQL
	// transaction against a rewritten database is rolled back instead
	// of committed, per §4.F step 5. It reports what would change
	// without leaving any database file altered.
	Preview bool
	// PruneEmptyDirs removes directories left empty under TargetRoot
	// once every pass has finished. Off by default -- the original
	// left the equivalent call commented out.
	PruneEmptyDirs bool
}

// Environment bundles the operator-facing hooks a run needs: logging,
// the prompt for overwriting an existing target file, and the collision
// confirmation prompt. Tests substitute canned answers; cmd/jfmigrate
// wires the prompts to stdin and a colorized stdout writer.
type Environment struct {
	Logger         logging.Logger
	OverwritePrompt dispatch.Prompt
	ReportCollision func(derive.Collision)
	ConfirmProceed  func() bool
}

func (e Environment) logger() logging.Logger {
	if e.Logger == nil {
		return logging.NewNopLogger()
	}
	return e.Logger
}

// PassStats tallies one pass's activity across every job it ran.
type PassStats struct {
	FilesMatched int
	FilesCopied  int
	Modified     int
	Ignored      int
	RowsDeleted  int
}

func (s *PassStats) add(o PassStats) {
	s.FilesMatched += o.FilesMatched
	s.FilesCopied += o.FilesCopied
	s.Modified += o.Modified
	s.Ignored += o.Ignored
	s.RowsDeleted += o.RowsDeleted
}

// Summary reports what a full orchestrated run did.
type Summary struct {
	Pass1           PassStats
	Pass2           PassStats
	Pass3           PassStats
	Collisions      []derive.Collision
	Aborted         bool // true when the operator declined to proceed past a collision report
	DatesReconciled int
}

// Run executes passes 1, 2, and 3 against cfg in order, deriving and
// injecting the id replacement map between passes 1 and 2, and runs the
// file-date reconciliation epilogue once pass 3 completes.
func Run(ctx context.Context, cfg config.Config, opts Options, env Environment) (Summary, error) {
	log := env.logger()
	var summary Summary

	fsMap := buildPathMap(cfg.FSPathReplacements)
	defaultJobMap := buildPathMap(cfg.PathReplacements)
	roots := dispatch.Roots{OriginalRoot: cfg.OriginalRoot, SourceRoot: cfg.SourceRoot, TargetRoot: cfg.TargetRoot}
	run := &runner{ctx: ctx, log: log, fsMap: fsMap, defaultJobMap: defaultJobMap, roots: roots, opts: opts, env: env}

	rc := runctx.New()

	stats1, err := run.runPass(cfg.Pass1Jobs, nil, rc)
	summary.Pass1 = stats1
	if err != nil {
		return summary, fmt.Errorf("pass 1: %w", err)
	}

	if rc.LibraryDBPath != "" {
		collisions, aborted, err := run.deriveAndConfirm(rc)
		summary.Collisions = collisions
		if err != nil {
			return summary, fmt.Errorf("id derivation: %w", err)
		}
		if aborted {
			summary.Aborted = true
			log.Warn("operator declined to proceed past id collisions; stopping before pass 2")
			return summary, nil
		}
	} else {
		log.Warn("no library database located in pass 1; pass 2 will run with an empty id map")
	}

	idReplacements := flattenVariants(rc.IDsByVariant)

	stats2, err := run.runPass(cfg.Pass2Jobs, idReplacements, rc)
	summary.Pass2 = stats2
	if err != nil {
		return summary, fmt.Errorf("pass 2: %w", err)
	}

	stats3, err := run.runPass(cfg.Pass3Jobs, idReplacements, rc)
	summary.Pass3 = stats3
	if err != nil {
		return summary, fmt.Errorf("pass 3: %w", err)
	}

	reconciled, err := run.reconcileDates(rc)
	summary.DatesReconciled = reconciled
	if err != nil {
		return summary, fmt.Errorf("file-date reconciliation: %w", err)
	}

	if opts.PruneEmptyDirs && !opts.Preview {
		if err := pruneEmptyDirs(cfg.TargetRoot); err != nil {
			log.Warn("prune empty directories failed", "error", err)
		}
	}

	return summary, nil
}

// flattenVariants merges every variant's old->new map into one flat
// dictionary. The keys come in three lengths (16 raw bytes for bin and
// ancestor-bin, 32 hex characters for str and ancestor-str, 36 for the two
// dashed forms); two variants of the same length only share a key when one
// old id is the ancestor permutation of another, which does not occur in
// practice. idpath.Rewrite does not care which variant a match came from,
// only whether the id-shaped path component has an entry.
func flattenVariants(byVariant map[string]map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range byVariant {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func buildPathMap(pm config.PrefixMap) *pathmap.Map {
	entries := make([]pathmap.Entry, len(pm.Entries))
	for i, e := range pm.Entries {
		entries[i] = pathmap.Entry{Source: e.Source, Destination: e.Destination}
	}
	m := pathmap.NewMap(entries, pm.TargetPathSlash)
	m.LogNoWarnings = pm.LogNoWarnings
	return m
}

// runner holds the state threaded through one pass's job loop.
type runner struct {
	ctx   context.Context
	log   logging.Logger
	fsMap *pathmap.Map
	// defaultJobMap is built from the configuration's top-level
	// path_replacements and is used for any job that declares no
	// replacements of its own -- see the "job-local vs. default path
	// map" decision in the design notes.
	defaultJobMap *pathmap.Map
	roots         dispatch.Roots
	opts          Options
	env           Environment
}

// jobPathMap picks the replacements map a job's path rewriting should
// use: its own, if it declares any entries, otherwise the
// configuration-wide default.
func (r *runner) jobPathMap(job config.Job) *pathmap.Map {
	if len(job.Replacements.Entries) == 0 {
		return r.defaultJobMap
	}
	return buildPathMap(job.Replacements)
}

// runPass expands every job in jobList against the source tree and
// dispatches each matched file. idReplacements is nil for pass 1 (plain
// path rewriting, before any id map exists) and the derived id map for
// passes 2 and 3, both of which must rewrite the old identifiers out of
// path/JSON/image columns and path-embedded filenames.
func (r *runner) runPass(jobList []config.Job, idReplacements map[string]string, rc *runctx.Context) (PassStats, error) {
	var stats PassStats
	if len(jobList) == 0 {
		return stats, nil
	}

	fsys := os.DirFS(r.roots.SourceRoot)
	seen := jobs.NewSeen()

	byPattern := make(map[string]config.Job, len(jobList))
	runtimeJobs := make([]jobs.Job, len(jobList))
	for i, j := range jobList {
		byPattern[j.SourcePattern] = j
		var tables []string
		for _, t := range j.Tables {
			tables = append(tables, t.Table)
		}
		runtimeJobs[i] = jobs.Job{
			SourcePattern: j.SourcePattern,
			TargetSpec:    j.TargetSpec,
			Replacements:  idReplacements,
			Tables:        tables,
			CopyOnly:      j.CopyOnly,
			Quiet:         j.Quiet,
		}
	}

	matches, err := jobs.Expand(fsys, r.roots.SourceRoot, runtimeJobs, seen, r.log)
	if err != nil {
		return stats, err
	}

	var copyChoice dispatch.CopyChoice
	if rc.Confirm() == runctx.ConfirmAlwaysYes {
		copyChoice = dispatch.CopyAlways
	}
	prompt := r.env.OverwritePrompt
	if prompt == nil {
		prompt = func(string, string) dispatch.CopyChoice { return dispatch.CopyYes }
	}

	for _, m := range matches {
		stats.FilesMatched++
		job := byPattern[m.Job.SourcePattern]

		jobMap := r.jobPathMap(job)
		target, err := dispatch.ResolveTarget(m.Source, dispatch.ParseTargetSpec(job.TargetSpec), r.roots, jobMap, r.fsMap)
		if err != nil {
			return stats, err
		}

		if err := dispatch.CopyFile(m.Source, target, &copyChoice, prompt); err != nil {
			return stats, err
		}
		if copyChoice == dispatch.CopyAlways {
			rc.SetConfirm(runctx.ConfirmAlwaysYes)
		}
		if m.Source != target {
			stats.FilesCopied++
		}

		if job.CopyOnly {
			continue
		}

		if strings.EqualFold(filepath.Ext(target), ".db") {
			if err := r.dispatchDatabase(target, job, idReplacements, rc, &stats); err != nil {
				return stats, err
			}
			continue
		}

		leaf := r.buildLeaf(jobMap, idReplacements)
		res, err := dispatch.DispatchExtension(target, leaf, job.CopyOnly, r.log)
		if err != nil {
			return stats, err
		}
		stats.Modified += res.Modified
		stats.Ignored += res.Ignored

		if idReplacements != nil {
			moved := idpath.Rewrite(target, idReplacements, r.fsMap.TargetSlash)
			if moved.Modified {
				if err := dispatch.MoveIfIDPath(target, moved.Value); err != nil {
					return stats, err
				}
			}
		}
	}

	return stats, nil
}

// buildLeaf returns the scalar transformer dispatch.DispatchExtension
// (and, for database targets, the Relational Rewriter) should use for
// this job: the ordinary two-step Path Rewriter for pass 1, before any
// id map exists, or the Id-in-Path Rewriter once a derived id map is in
// play (passes 2 and 3).
func (r *runner) buildLeaf(jobMap *pathmap.Map, idReplacements map[string]string) func(string) (string, bool, bool) {
	if idReplacements != nil {
		return func(s string) (string, bool, bool) {
			res := idpath.Rewrite(s, idReplacements, r.fsMap.TargetSlash)
			return res.Value, res.Modified, !res.Modified
		}
	}
	return func(s string) (string, bool, bool) {
		first := jobMap.Rewrite(s)
		second := r.fsMap.Rewrite(first.Value)
		modified := first.Modified || second.Modified
		return second.Value, modified, !modified
	}
}

// dispatchDatabase runs the Relational Rewriter over target's configured
// tables (§4.F) instead of routing through dispatch.DispatchExtension,
// whose Leaf-only signature cannot express per-table column groups.
// library.db is recognized by name and its path recorded into rc so the
// derivation step can reopen it.
func (r *runner) dispatchDatabase(target string, job config.Job, idReplacements map[string]string, rc *runctx.Context, stats *PassStats) error {
	if _, err := os.Stat(target); err != nil {
		r.log.Debug("target database not found after copy, skipping rewrite", "target", target)
		return nil
	}

	db, err := sql.Open("sqlite", target)
	if err != nil {
		return errs.New(errs.IO, "open "+target, err)
	}
	defer db.Close()

	if strings.EqualFold(filepath.Base(target), "library.db") {
		rc.LibraryDBPath = target
	}

	jobMap := r.jobPathMap(job)
	pathLeaf := r.buildLeaf(jobMap, idReplacements)

	relOpts := relational.Options{Preview: r.opts.Preview, Logger: r.log}

	for _, table := range job.Tables {
		spec := relational.TableSpec{
			Table:              table.Table,
			PathColumns:        table.PathColumns,
			JSONColumns:        table.JSONColumns,
			ImageColumns:       table.ImageColumns,
			IDColumnsByVariant: table.IDColumns,
		}
		if len(spec.PathColumns)+len(spec.JSONColumns)+len(spec.ImageColumns) > 0 {
			colStats, err := relational.RewriteColumns(r.ctx, db, spec, pathLeaf, relOpts)
			if err != nil {
				return err
			}
			stats.Modified += colStats.Modified
			stats.Ignored += colStats.Ignored
			stats.RowsDeleted += colStats.RowsDeleted
		}

		if idReplacements == nil {
			continue
		}
		for variant, columns := range table.IDColumns {
			variantMap := idReplacements
			for _, column := range columns {
				idStats, err := relational.RewriteIDs(r.ctx, db, table.Table, column, variantMap, relOpts)
				if err != nil {
					return fmt.Errorf("rewrite ids %s.%s (%s): %w", table.Table, column, variant, err)
				}
				stats.Modified += idStats.Modified
				stats.RowsDeleted += idStats.RowsDeleted
			}
		}
	}
	return nil
}

// deriveAndConfirm reopens the library database, recomputes every row's
// identifier the way the target runtime would, and -- if any new ids
// collide -- presents the operator with a report before continuing
// (§4.I).
func (r *runner) deriveAndConfirm(rc *runctx.Context) ([]derive.Collision, bool, error) {
	db, err := sql.Open("sqlite", rc.LibraryDBPath)
	if err != nil {
		return nil, false, errs.New(errs.IO, "reopen "+rc.LibraryDBPath, err)
	}
	defer db.Close()

	result, err := db.QueryContext(r.ctx, fmt.Sprintf("SELECT guid, type, path FROM `%s` WHERE path IS NOT NULL", catalogTable))
	if err != nil {
		return nil, false, errs.New(errs.Driver, "select catalog rows", err)
	}
	defer result.Close()

	var catalogRows []derive.Row
	for result.Next() {
		var guid []byte
		var typ, path string
		if err := result.Scan(&guid, &typ, &path); err != nil {
			return nil, false, errs.New(errs.Driver, "scan catalog row", err)
		}
		if len(guid) != 16 {
			continue
		}
		var id [16]byte
		copy(id[:], guid)
		catalogRows = append(catalogRows, derive.Row{
			OldGUID: idcodec.ID(id),
			OldPath: path,
			Type:    typ,
			NewPath: path,
		})
	}
	if err := result.Err(); err != nil {
		return nil, false, errs.New(errs.Driver, "iterate catalog rows", err)
	}

	reps := derive.Derive(catalogRows)
	byVariant := derive.ByVariant(reps)
	for _, v := range idcodec.All {
		rc.SetVariant(string(v), byVariant[v])
	}

	collisions := derive.FindCollisions(reps)
	if len(collisions) == 0 {
		return nil, false, nil
	}

	report := r.env.ReportCollision
	if report == nil {
		report = defaultReportCollision
	}
	confirm := r.env.ConfirmProceed
	if confirm == nil {
		confirm = defaultConfirmProceed
	}
	proceed := derive.Confirm(collisions, report, confirm)
	return collisions, !proceed, nil
}

// defaultReportCollision prints one collision's colliding paths to
// stderr, colorized the way an interactive operator session would
// render a warning.
func defaultReportCollision(c derive.Collision) {
	warn := color.New(color.FgYellow, color.Bold).SprintFunc()
	fmt.Fprintf(os.Stderr, "%s new id %s is shared by %d items:\n", warn("collision:"), c.NewStr, len(c.Old))
	for _, old := range c.Old {
		fmt.Fprintf(os.Stderr, "  %s -> %s\n", old.OldPath, old.NewPath)
	}
}

// defaultConfirmProceed reads a single line from stdin, proceeding on
// anything starting with "y" or "Y".
func defaultConfirmProceed() bool {
	fmt.Fprint(os.Stderr, color.New(color.FgCyan).Sprint("Continue past these collisions? [y/N] "))
	var line string
	_, _ = fmt.Scanln(&line)
	return strings.HasPrefix(strings.ToLower(line), "y")
}

// dotNetEpochTicks is the number of 100-nanosecond ticks between
// 0001-01-01 (the .NET DateTime epoch) and the Unix epoch.
const dotNetEpochTicks = 621355968000000000

// toDotNetTicks converts t to the target runtime's tick-based date
// encoding, always in UTC (SPEC_FULL's Open Question #4 decision).
func toDotNetTicks(t time.Time) int64 {
	return dotNetEpochTicks + t.UTC().UnixNano()/100
}

// reconcileDates stats every file the catalog references and, where the
// stored DateCreated/DateModified is NULL or decodes to a negative tick
// count (the sentinel the source library uses for "unknown"), overwrites it with
// the file's own modification time, tick-encoded in UTC.
func (r *runner) reconcileDates(rc *runctx.Context) (int, error) {
	if rc.LibraryDBPath == "" {
		return 0, nil
	}

	db, err := sql.Open("sqlite", rc.LibraryDBPath)
	if err != nil {
		return 0, errs.New(errs.IO, "reopen "+rc.LibraryDBPath, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(r.ctx, fmt.Sprintf(
		"SELECT `rowid`, `path`, `DateCreated`, `DateModified` FROM `%s` WHERE path IS NOT NULL", catalogTable))
	if err != nil {
		return 0, errs.New(errs.Driver, "select dates", err)
	}

	type fix struct {
		rowid   int64
		created *int64
		modified *int64
	}
	var fixes []fix
	for rows.Next() {
		var rowid int64
		var path string
		var created, modified sql.NullString
		if err := rows.Scan(&rowid, &path, &created, &modified); err != nil {
			rows.Close()
			return 0, errs.New(errs.Driver, "scan date row", err)
		}

		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		ticks := toDotNetTicks(info.ModTime())

		f := fix{rowid: rowid}
		if needsReconciliation(created) {
			f.created = &ticks
		}
		if needsReconciliation(modified) {
			f.modified = &ticks
		}
		if f.created != nil || f.modified != nil {
			fixes = append(fixes, f)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errs.New(errs.Driver, "iterate date rows", err)
	}

	if r.opts.Preview {
		return len(fixes), nil
	}

	tx, err := db.BeginTx(r.ctx, nil)
	if err != nil {
		return 0, errs.New(errs.Driver, "begin date reconciliation transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	for _, f := range fixes {
		switch {
		case f.created != nil && f.modified != nil:
			_, err = tx.ExecContext(r.ctx,
				fmt.Sprintf("UPDATE `%s` SET `DateCreated` = ?, `DateModified` = ? WHERE `rowid` = ?", catalogTable),
				*f.created, *f.modified, f.rowid)
		case f.created != nil:
			_, err = tx.ExecContext(r.ctx,
				fmt.Sprintf("UPDATE `%s` SET `DateCreated` = ? WHERE `rowid` = ?", catalogTable),
				*f.created, f.rowid)
		default:
			_, err = tx.ExecContext(r.ctx,
				fmt.Sprintf("UPDATE `%s` SET `DateModified` = ? WHERE `rowid` = ?", catalogTable),
				*f.modified, f.rowid)
		}
		if err != nil {
			return 0, errs.New(errs.Driver, fmt.Sprintf("update dates for rowid %d", f.rowid), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.New(errs.Driver, "commit date reconciliation", err)
	}
	return len(fixes), nil
}

// needsReconciliation reports whether a nullable tick-count column is
// absent or holds a negative value -- the sentinel the target runtime
// uses for "unknown date" -- and so should be overwritten with the
// filesystem's own modification time.
func needsReconciliation(v sql.NullString) bool {
	if !v.Valid {
		return true
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v.String), 10, 64)
	if err != nil {
		return false
	}
	return n < 0
}

// pruneEmptyDirs removes every directory under root that contains no
// files, deepest first, mirroring the original implementation's
// commented-out delete_empty_folders call.
func pruneEmptyDirs(root string) error {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i]) // no-op if not empty
	}
	return nil
}
