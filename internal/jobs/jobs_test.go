package jobs

import (
	"testing"
	"testing/fstest"
)

func TestExpandLiteralPath(t *testing.T) {
	fsys := fstest.MapFS{}
	seen := NewSeen()
	jobList := []Job{{SourcePattern: "/srv/jf/library.db", TargetSpec: "auto"}}

	matches, err := Expand(fsys, "/srv/jf", jobList, seen, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(matches) != 1 || matches[0].Source != "/srv/jf/library.db" {
		t.Fatalf("got %+v", matches)
	}
}

func TestExpandLiteralPathClaimedOnce(t *testing.T) {
	seen := NewSeen()
	fsys := fstest.MapFS{}
	jobList := []Job{
		{SourcePattern: "/srv/jf/library.db", TargetSpec: "auto"},
		{SourcePattern: "/srv/jf/library.db", TargetSpec: "auto-existing"},
	}
	matches, err := Expand(fsys, "/srv/jf", jobList, seen, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected second job to be skipped as already claimed, got %+v", matches)
	}
}

func TestExpandGlobPattern(t *testing.T) {
	fsys := fstest.MapFS{
		"metadata/a/poster.jpg": &fstest.MapFile{Data: []byte("x")},
		"metadata/b/poster.jpg": &fstest.MapFile{Data: []byte("x")},
	}
	seen := NewSeen()
	jobList := []Job{{SourcePattern: "/srv/jf/metadata/**/poster.jpg", TargetSpec: "auto", CopyOnly: true}}

	matches, err := Expand(fsys, "/srv/jf", jobList, seen, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 glob matches, got %+v", matches)
	}
}

func TestIsGlobPattern(t *testing.T) {
	if !isGlobPattern("metadata/**/poster.jpg") {
		t.Fatal("expected ** to be recognized as a glob")
	}
	if isGlobPattern("library.db") {
		t.Fatal("expected literal path to not be a glob")
	}
}
