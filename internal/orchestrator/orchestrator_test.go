package orchestrator

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/jfvault/migrator/internal/config"
	"github.com/jfvault/migrator/internal/dispatch"
	"github.com/jfvault/migrator/internal/logging"
	"github.com/jfvault/migrator/internal/pathmap"
	"github.com/jfvault/migrator/internal/runctx"
)

func newTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRunner(sourceRoot, targetRoot string) *runner {
	return &runner{
		ctx:           context.Background(),
		log:           logging.NewNopLogger(),
		fsMap:         pathmap.NewMap(nil, "/"),
		defaultJobMap: pathmap.NewMap(nil, "/"),
		roots:         dispatch.Roots{SourceRoot: sourceRoot, TargetRoot: targetRoot},
	}
}

// TestBuildLeafSwitchesRewriterOnReplacements pins down buildLeaf's
// contract directly: nil idReplacements must select the two-step prefix
// Path Rewriter, and a non-nil map must select the Id-in-Path Rewriter,
// regardless of which pass calls it.
func TestBuildLeafSwitchesRewriterOnReplacements(t *testing.T) {
	r := newTestRunner(t.TempDir(), t.TempDir())
	jobMap := pathmap.NewMap([]pathmap.Entry{{Source: "/srv/media", Destination: "/data/media"}}, "/")
	const idPath = "/srv/media/833addde992893e93d0572907f8b4cad/poster.jpg"

	plain := r.buildLeaf(jobMap, nil)
	got, modified, ignored := plain(idPath)
	want := "/data/media/833addde992893e93d0572907f8b4cad/poster.jpg"
	if got != want || !modified || ignored {
		t.Fatalf("plain leaf(%q) = (%q, %v, %v), want (%q, true, false)", idPath, got, modified, ignored, want)
	}

	idAware := r.buildLeaf(jobMap, map[string]string{
		"833addde992893e93d0572907f8b4cad": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	})
	got, modified, ignored = idAware(idPath)
	want = "/srv/media/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa/poster.jpg"
	if got != want || !modified || ignored {
		t.Fatalf("id-aware leaf(%q) = (%q, %v, %v), want (%q, true, false)", idPath, got, modified, ignored, want)
	}
}

// TestDispatchDatabaseUsesIDAwareRewriteWhenReplacementsPresent is a
// regression test: dispatchDatabase must build its pathLeaf from the
// idReplacements it was actually given, not hardcode a plain rewrite.
// Without the fix, the inserted path's id-shaped directory component
// would never be touched, since no path_replacements prefix matches it.
func TestDispatchDatabaseUsesIDAwareRewriteWhenReplacementsPresent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "library.db")
	seed := newTestDB(t, dbPath)
	if _, err := seed.Exec(`CREATE TABLE TypedBaseItems (Path TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	const oldPath = "/srv/media/833addde992893e93d0572907f8b4cad/poster.jpg"
	if _, err := seed.Exec(`INSERT INTO TypedBaseItems (Path) VALUES (?)`, oldPath); err != nil {
		t.Fatalf("insert: %v", err)
	}
	seed.Close()

	job := config.Job{
		Tables: []config.TableJob{{
			Table:       "TypedBaseItems",
			PathColumns: []string{"Path"},
		}},
	}
	idReplacements := map[string]string{
		"833addde992893e93d0572907f8b4cad": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	}

	r := newTestRunner(filepath.Dir(dbPath), t.TempDir())
	rc := runctx.New()
	stats := &PassStats{}

	if err := r.dispatchDatabase(dbPath, job, idReplacements, rc, stats); err != nil {
		t.Fatalf("dispatchDatabase: %v", err)
	}
	if stats.Modified != 1 {
		t.Fatalf("stats.Modified = %d, want 1", stats.Modified)
	}

	check := newTestDB(t, dbPath)
	var gotPath string
	if err := check.QueryRow(`SELECT Path FROM TypedBaseItems`).Scan(&gotPath); err != nil {
		t.Fatalf("select: %v", err)
	}
	const wantPath = "/srv/media/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa/poster.jpg"
	if gotPath != wantPath {
		t.Fatalf("Path = %q, want %q (id-aware rewrite did not apply; a plain path rewrite with no configured prefixes would have left it at %q)",
			gotPath, wantPath, oldPath)
	}
}

// TestDispatchDatabaseLeavesPathsAloneWithoutReplacements exercises pass
// 1's behavior: with a nil idReplacements and no configured path prefix,
// the plain Path Rewriter has nothing to match and the column is left as
// is, reporting it as ignored rather than modified.
func TestDispatchDatabaseLeavesPathsAloneWithoutReplacements(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "library.db")
	seed := newTestDB(t, dbPath)
	if _, err := seed.Exec(`CREATE TABLE TypedBaseItems (Path TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	const oldPath = "/srv/media/833addde992893e93d0572907f8b4cad/poster.jpg"
	if _, err := seed.Exec(`INSERT INTO TypedBaseItems (Path) VALUES (?)`, oldPath); err != nil {
		t.Fatalf("insert: %v", err)
	}
	seed.Close()

	job := config.Job{
		Tables: []config.TableJob{{
			Table:       "TypedBaseItems",
			PathColumns: []string{"Path"},
		}},
	}

	r := newTestRunner(filepath.Dir(dbPath), t.TempDir())
	rc := runctx.New()
	stats := &PassStats{}

	if err := r.dispatchDatabase(dbPath, job, nil, rc, stats); err != nil {
		t.Fatalf("dispatchDatabase: %v", err)
	}
	if stats.Modified != 0 || stats.Ignored != 1 {
		t.Fatalf("stats = %+v, want Modified=0 Ignored=1", stats)
	}

	check := newTestDB(t, dbPath)
	var gotPath string
	if err := check.QueryRow(`SELECT Path FROM TypedBaseItems`).Scan(&gotPath); err != nil {
		t.Fatalf("select: %v", err)
	}
	if gotPath != oldPath {
		t.Fatalf("Path = %q, want unchanged %q", gotPath, oldPath)
	}
}

// TestDispatchDatabaseRecordsLibraryDBPath confirms library.db is
// recognized by filename and recorded into the run context, regardless
// of its directory, so derivation can reopen it between passes.
func TestDispatchDatabaseRecordsLibraryDBPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "library.db")
	seed := newTestDB(t, dbPath)
	if _, err := seed.Exec(`CREATE TABLE TypedBaseItems (Path TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	seed.Close()

	r := newTestRunner(filepath.Dir(dbPath), t.TempDir())
	rc := runctx.New()
	stats := &PassStats{}

	if err := r.dispatchDatabase(dbPath, config.Job{}, nil, rc, stats); err != nil {
		t.Fatalf("dispatchDatabase: %v", err)
	}
	if rc.LibraryDBPath != dbPath {
		t.Fatalf("LibraryDBPath = %q, want %q", rc.LibraryDBPath, dbPath)
	}
}

// TestDispatchDatabaseRewritesIDColumnsWhenReplacementsPresent exercises
// the id-column half of dispatchDatabase: a configured id_columns entry
// should have its distinct old values swapped for their replacements.
func TestDispatchDatabaseRewritesIDColumnsWhenReplacementsPresent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "library.db")
	seed := newTestDB(t, dbPath)
	if _, err := seed.Exec(`CREATE TABLE TypedBaseItems (guid TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := seed.Exec(`INSERT INTO TypedBaseItems (guid) VALUES (?)`, "oldguid"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	seed.Close()

	job := config.Job{
		Tables: []config.TableJob{{
			Table:     "TypedBaseItems",
			IDColumns: map[string][]string{"bin": {"guid"}},
		}},
	}
	idReplacements := map[string]string{"oldguid": "newguid"}

	r := newTestRunner(filepath.Dir(dbPath), t.TempDir())
	rc := runctx.New()
	stats := &PassStats{}

	if err := r.dispatchDatabase(dbPath, job, idReplacements, rc, stats); err != nil {
		t.Fatalf("dispatchDatabase: %v", err)
	}
	if stats.Modified != 1 {
		t.Fatalf("stats.Modified = %d, want 1", stats.Modified)
	}

	check := newTestDB(t, dbPath)
	var got string
	if err := check.QueryRow(`SELECT guid FROM TypedBaseItems`).Scan(&got); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != "newguid" {
		t.Fatalf("guid = %q, want %q", got, "newguid")
	}
}

// TestRunPassDispatchesDatabaseWithIDAwareRewrite exercises the bug's
// actual call site end to end through runPass: a pass-2-shaped job whose
// source_pattern names a literal .db file must come out the other side
// with its path column rewritten by the Id-in-Path Rewriter, exactly as
// the non-database dispatch branch already does.
func TestRunPassDispatchesDatabaseWithIDAwareRewrite(t *testing.T) {
	sourceRoot := t.TempDir()
	targetRoot := t.TempDir()

	dbPath := filepath.Join(sourceRoot, "library.db")
	seed := newTestDB(t, dbPath)
	if _, err := seed.Exec(`CREATE TABLE TypedBaseItems (Path TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	const oldPath = "/srv/media/833addde992893e93d0572907f8b4cad/poster.jpg"
	if _, err := seed.Exec(`INSERT INTO TypedBaseItems (Path) VALUES (?)`, oldPath); err != nil {
		t.Fatalf("insert: %v", err)
	}
	seed.Close()

	job := config.Job{
		SourcePattern: dbPath,
		TargetSpec:    "auto",
		Tables: []config.TableJob{{
			Table:       "TypedBaseItems",
			PathColumns: []string{"Path"},
		}},
	}
	idReplacements := map[string]string{
		"833addde992893e93d0572907f8b4cad": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	}

	r := newTestRunner(sourceRoot, targetRoot)
	rc := runctx.New()

	stats, err := r.runPass([]config.Job{job}, idReplacements, rc)
	if err != nil {
		t.Fatalf("runPass: %v", err)
	}
	if stats.FilesMatched != 1 || stats.FilesCopied != 1 {
		t.Fatalf("stats = %+v, want FilesMatched=1 FilesCopied=1", stats)
	}
	if stats.Modified != 1 {
		t.Fatalf("stats.Modified = %d, want 1", stats.Modified)
	}

	target, err := dispatch.ResolveTarget(dbPath, dispatch.ParseTargetSpec("auto"),
		dispatch.Roots{SourceRoot: sourceRoot, TargetRoot: targetRoot},
		pathmap.NewMap(nil, "/"), pathmap.NewMap(nil, "/"))
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}

	check := newTestDB(t, target)
	var gotPath string
	if err := check.QueryRow(`SELECT Path FROM TypedBaseItems`).Scan(&gotPath); err != nil {
		t.Fatalf("select: %v", err)
	}
	const wantPath = "/srv/media/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa/poster.jpg"
	if gotPath != wantPath {
		t.Fatalf("Path = %q, want %q", gotPath, wantPath)
	}
}

// TestFlattenVariants confirms the six per-variant maps merge into one
// flat dictionary with no loss, the shape idReplacements is threaded
// through every pass in as.
func TestFlattenVariants(t *testing.T) {
	byVariant := map[string]map[string]string{
		"bin": {"a": "1"},
		"str": {"b": "2"},
	}
	got := flattenVariants(byVariant)
	if got["a"] != "1" || got["b"] != "2" || len(got) != 2 {
		t.Fatalf("flattenVariants = %+v", got)
	}
}
