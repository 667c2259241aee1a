package relational

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func upperLeaf(s string) (string, bool, bool) {
	if s == "" {
		return s, false, true
	}
	return "X-" + s, true, false
}

func TestRewriteColumnsPathAndJSON(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec(`CREATE TABLE items (path TEXT, data TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO items (path, data) VALUES (?, ?)`, "/a/b.jpg", `{"path":"/c/d.jpg"}`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	spec := TableSpec{
		Table:       "items",
		PathColumns: []string{"path"},
		JSONColumns: []string{"data"},
	}
	stats, err := RewriteColumns(ctx, db, spec, upperLeaf, Options{})
	if err != nil {
		t.Fatalf("RewriteColumns: %v", err)
	}
	if stats.RowsProcessed != 1 || stats.Modified != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	var path, data string
	if err := db.QueryRow(`SELECT path, data FROM items`).Scan(&path, &data); err != nil {
		t.Fatalf("select: %v", err)
	}
	if path != "X-/a/b.jpg" {
		t.Fatalf("path = %q", path)
	}
	if data != `{"path":"X-/c/d.jpg"}` {
		t.Fatalf("data = %q", data)
	}
}

func TestRewriteColumnsSkipsUnmodifiedRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec(`CREATE TABLE items (path TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO items (path) VALUES ('')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	identity := func(s string) (string, bool, bool) { return s, false, true }
	spec := TableSpec{Table: "items", PathColumns: []string{"path"}}
	stats, err := RewriteColumns(ctx, db, spec, identity, Options{})
	if err != nil {
		t.Fatalf("RewriteColumns: %v", err)
	}
	if stats.Modified != 0 || stats.Ignored != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRewriteIDsUpdatesDistinctValue(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec(`CREATE TABLE items (guid TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO items (guid) VALUES ('old1'), ('old1'), ('old2')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stats, err := RewriteIDs(ctx, db, "items", "guid", map[string]string{"old1": "new1"}, Options{})
	if err != nil {
		t.Fatalf("RewriteIDs: %v", err)
	}
	if stats.Modified != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	rows, err := db.Query(`SELECT guid FROM items ORDER BY guid`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer rows.Close()
	var got []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, g)
	}
	want := []string{"new1", "new1", "old2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRewriteIDsCollapsesOnCollision(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec(`CREATE TABLE items (guid TEXT UNIQUE)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO items (guid) VALUES ('old1'), ('existing-new')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stats, err := RewriteIDs(ctx, db, "items", "guid", map[string]string{"old1": "existing-new"}, Options{})
	if err != nil {
		t.Fatalf("RewriteIDs: %v", err)
	}
	if stats.RowsDeleted != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM items WHERE guid = 'old1'`).Scan(&count); err != nil {
		t.Fatalf("select: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected colliding row deleted, count = %d", count)
	}
}

func TestRewriteColumnsPreviewNeverCommits(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec(`CREATE TABLE items (path TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO items (path) VALUES ('/a/b.jpg')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	spec := TableSpec{Table: "items", PathColumns: []string{"path"}}
	stats, err := RewriteColumns(ctx, db, spec, upperLeaf, Options{Preview: true})
	if err != nil {
		t.Fatalf("RewriteColumns: %v", err)
	}
	if stats.Modified != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	var path string
	if err := db.QueryRow(`SELECT path FROM items`).Scan(&path); err != nil {
		t.Fatalf("select: %v", err)
	}
	if path != "/a/b.jpg" {
		t.Fatalf("preview run must not persist changes, got path = %q", path)
	}
}

func TestStatsAdd(t *testing.T) {
	var total Stats
	total.add(Stats{RowsProcessed: 2, Modified: 1})
	total.add(Stats{RowsProcessed: 3, RowsDeleted: 1})
	if total.RowsProcessed != 5 || total.Modified != 1 || total.RowsDeleted != 1 {
		t.Fatalf("total = %+v", total)
	}
}
