package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(tb testing.TB, dir, contents string) string {
	tb.Helper()

	path := filepath.Join(dir, "jfmigrate.toml")
	clean := strings.TrimSpace(contents) + "\n"
	if err := os.WriteFile(path, []byte(clean), 0o600); err != nil {
		tb.Fatalf("write config: %v", err)
	}
	return path
}

const minimalJobLists = `
[[pass1_jobs]]
source_pattern = "**/*.nfo"
target_spec = "auto"
`

func TestLoadSuccess(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	configPath := writeConfig(t, tempDir, `
source_root = "/data/source"
target_root = "/data/target"

[path_replacements]
target_path_slash = "/"

[[path_replacements.entries]]
source = "C:/JF"
destination = "/config/data"

[fs_path_replacements]
target_path_slash = "/"
`+minimalJobLists)

	result, err := Load(configPath, LoadOptions{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", result.Warnings)
	}
	if result.Plan.SourceRoot != "/data/source" {
		t.Fatalf("unexpected source_root: %q", result.Plan.SourceRoot)
	}
	if len(result.Plan.PathReplacements.Entries) != 1 {
		t.Fatalf("expected 1 path replacement entry, got %d", len(result.Plan.PathReplacements.Entries))
	}
	entry := result.Plan.PathReplacements.Entries[0]
	if entry.Source != "C:/JF" || entry.Destination != "/config/data" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if len(result.Plan.Pass1Jobs) != 1 {
		t.Fatalf("expected 1 pass1 job, got %d", len(result.Plan.Pass1Jobs))
	}
}

func TestLoadRequiresAbsoluteRoots(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	configPath := writeConfig(t, tempDir, `
source_root = "relative/source"
target_root = "/data/target"

[path_replacements]
target_path_slash = "/"
[fs_path_replacements]
target_path_slash = "/"
`+minimalJobLists)

	_, err := Load(configPath, LoadOptions{})
	if err == nil {
		t.Fatal("expected error for relative source_root")
	}
	if !strings.Contains(err.Error(), "source_root must be an absolute path") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRequiresTargetPathSlash(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	configPath := writeConfig(t, tempDir, `
source_root = "/data/source"
target_root = "/data/target"

[fs_path_replacements]
target_path_slash = "/"
`+minimalJobLists)

	_, err := Load(configPath, LoadOptions{})
	if err == nil {
		t.Fatal("expected error for missing target_path_slash")
	}
	if !strings.Contains(err.Error(), "path_replacements.target_path_slash") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsInvalidSlash(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	configPath := writeConfig(t, tempDir, `
source_root = "/data/source"
target_root = "/data/target"

[path_replacements]
target_path_slash = ":"
[fs_path_replacements]
target_path_slash = "/"
`+minimalJobLists)

	_, err := Load(configPath, LoadOptions{})
	if err == nil {
		t.Fatal("expected error for invalid target_path_slash")
	}
	if !strings.Contains(err.Error(), "must be \"/\" or") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsJobMissingTargetSpec(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	configPath := writeConfig(t, tempDir, `
source_root = "/data/source"
target_root = "/data/target"

[path_replacements]
target_path_slash = "/"
[fs_path_replacements]
target_path_slash = "/"

[[pass2_jobs]]
source_pattern = "**/*.db"
`)

	_, err := Load(configPath, LoadOptions{})
	if err == nil {
		t.Fatal("expected error for job missing target_spec")
	}
	if !strings.Contains(err.Error(), "missing target_spec") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadStrictUnknownKeys(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	configPath := writeConfig(t, tempDir, `
source_root = "/data/source"
target_root = "/data/target"
extra = "value"

[path_replacements]
target_path_slash = "/"
[fs_path_replacements]
target_path_slash = "/"
`+minimalJobLists)

	_, err := Load(configPath, LoadOptions{Strict: true})
	if err == nil {
		t.Fatal("expected strict mode to reject unknown keys")
	}
	if !strings.Contains(err.Error(), "unknown configuration keys") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "extra") {
		t.Fatalf("error should mention offending key, got: %v", err)
	}
}

func TestLoadNonStrictUnknownKeysWarning(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	configPath := writeConfig(t, tempDir, `
source_root = "/data/source"
target_root = "/data/target"
extra = "value"

[path_replacements]
target_path_slash = "/"
[fs_path_replacements]
target_path_slash = "/"
`+minimalJobLists)

	result, err := Load(configPath, LoadOptions{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", result.Warnings)
	}
	if !strings.Contains(result.Warnings[0], "extra") {
		t.Fatalf("warning should mention offending key, got: %q", result.Warnings[0])
	}
}

func TestLoadTableJobColumnGroups(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	configPath := writeConfig(t, tempDir, `
source_root = "/data/source"
target_root = "/data/target"

[path_replacements]
target_path_slash = "/"
[fs_path_replacements]
target_path_slash = "/"

[[pass2_jobs]]
source_pattern = "library.db"
target_spec = "auto"

[[pass2_jobs.tables]]
table = "TypedBaseItems"
path_columns = ["Path"]
json_columns = ["Data"]
image_columns = ["Images"]

[pass2_jobs.tables.id_columns]
bin = ["guid"]
str = ["PresentationUniqueKey"]
`)

	result, err := Load(configPath, LoadOptions{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	tables := result.Plan.Pass2Jobs[0].Tables
	if len(tables) != 1 {
		t.Fatalf("expected 1 table job, got %d", len(tables))
	}
	table := tables[0]
	if table.Table != "TypedBaseItems" {
		t.Fatalf("unexpected table name: %q", table.Table)
	}
	if len(table.IDColumns["bin"]) != 1 || table.IDColumns["bin"][0] != "guid" {
		t.Fatalf("unexpected bin id columns: %v", table.IDColumns["bin"])
	}
}
