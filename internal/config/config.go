// Package config loads and validates a migration run's TOML
// configuration: the two path mappings, the three root directories, the
// three pass job lists, and the log file path.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/jfvault/migrator/internal/logging"
)

// PrefixEntry is one (source, destination) pair of an ordered path
// mapping. Array order in the TOML document is preserved by go-toml/v2
// and is load-bearing: it becomes the resulting pathmap.Map's iteration
// order, and the first entry whose source is an ancestor of a path wins,
// however specific a later entry is.
type PrefixEntry struct {
	Source      string `toml:"source"`
	Destination string `toml:"destination"`
}

// PrefixMap is the TOML shape of an ordered path mapping: a list of
// entries plus the separator written into rewritten paths and whether
// unmatched paths should be logged as warnings.
type PrefixMap struct {
	Entries         []PrefixEntry `toml:"entries"`
	TargetPathSlash string        `toml:"target_path_slash"`
	LogNoWarnings   bool          `toml:"log_no_warnings"`
}

// TableJob names one table's column groups for the relational rewriter.
type TableJob struct {
	Table        string              `toml:"table"`
	PathColumns  []string            `toml:"path_columns"`
	JSONColumns  []string            `toml:"json_columns"`
	ImageColumns []string            `toml:"image_columns"`
	IDColumns    map[string][]string `toml:"id_columns"` // id variant name -> column names
}

// Job is one entry of a pass's job list: a source pattern, a target
// resolution spec, an optional job-local path mapping, and (for
// relational jobs) the tables it rewrites.
type Job struct {
	SourcePattern string     `toml:"source_pattern"`
	TargetSpec    string     `toml:"target_spec"`
	Replacements  PrefixMap  `toml:"replacements"`
	Tables        []TableJob `toml:"tables"`
	CopyOnly      bool       `toml:"copy_only"`
	Quiet         bool       `toml:"quiet"`
}

// Config mirrors the expected migration TOML schema.
type Config struct {
	PathReplacements   PrefixMap `toml:"path_replacements"`
	FSPathReplacements PrefixMap `toml:"fs_path_replacements"`
	OriginalRoot       string    `toml:"original_root"`
	SourceRoot         string    `toml:"source_root"`
	TargetRoot         string    `toml:"target_root"`
	Pass1Jobs          []Job     `toml:"pass1_jobs"`
	Pass2Jobs          []Job     `toml:"pass2_jobs"`
	Pass3Jobs          []Job     `toml:"pass3_jobs"`
	LogFile            string    `toml:"log_file"`
}

// LoadOptions tunes config loading behavior.
type LoadOptions struct {
	// Strict turns unknown top-level keys into a load error instead of a
	// warning.
	Strict bool
	// Logger receives warnings about unknown keys. If nil, warnings are
	// only added to Result.Warnings.
	Logger logging.Logger
}

// Result wraps a loaded Config alongside any non-fatal warnings.
type Result struct {
	Plan     Config
	Warnings []string
}

var knownTopLevelKeys = map[string]struct{}{
	"path_replacements":    {},
	"fs_path_replacements": {},
	"original_root":        {},
	"source_root":          {},
	"target_root":          {},
	"pass1_jobs":           {},
	"pass2_jobs":           {},
	"pass3_jobs":           {},
	"log_file":             {},
}

// Load reads, validates, and returns a migration run's configuration.
func Load(path string, opts LoadOptions) (Result, error) {
	var res Result

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}

	unknown, err := collectUnknownKeys(data)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		message := fmt.Sprintf("%s: unknown configuration keys: %s", path, strings.Join(unknown, ", "))
		if opts.Strict {
			return res, errors.New(message)
		}
		if opts.Logger != nil {
			opts.Logger.Warn("unknown configuration keys", "path", path, "keys", unknown)
		}
		res.Warnings = append(res.Warnings, message)
	}

	if err := validate(path, cfg); err != nil {
		return res, err
	}

	res.Plan = cfg
	return res, nil
}

func validate(path string, cfg Config) error {
	if cfg.SourceRoot == "" {
		return fmt.Errorf("%s: source_root is required", path)
	}
	if cfg.TargetRoot == "" {
		return fmt.Errorf("%s: target_root is required", path)
	}
	if !filepath.IsAbs(cfg.SourceRoot) {
		return fmt.Errorf("%s: source_root must be an absolute path, got %q", path, cfg.SourceRoot)
	}
	if !filepath.IsAbs(cfg.TargetRoot) {
		return fmt.Errorf("%s: target_root must be an absolute path, got %q", path, cfg.TargetRoot)
	}
	if cfg.OriginalRoot != "" && !filepath.IsAbs(cfg.OriginalRoot) {
		return fmt.Errorf("%s: original_root must be an absolute path, got %q", path, cfg.OriginalRoot)
	}
	if err := validateSlash(path, "path_replacements", cfg.PathReplacements.TargetPathSlash); err != nil {
		return err
	}
	if err := validateSlash(path, "fs_path_replacements", cfg.FSPathReplacements.TargetPathSlash); err != nil {
		return err
	}
	for name, list := range map[string][]Job{
		"pass1_jobs": cfg.Pass1Jobs,
		"pass2_jobs": cfg.Pass2Jobs,
		"pass3_jobs": cfg.Pass3Jobs,
	} {
		for _, job := range list {
			if job.SourcePattern == "" {
				return fmt.Errorf("%s: %s: job missing source_pattern", path, name)
			}
			if job.TargetSpec == "" {
				return fmt.Errorf("%s: %s: job %q missing target_spec", path, name, job.SourcePattern)
			}
		}
	}
	return nil
}

func validateSlash(path, field, slash string) error {
	if slash != "/" && slash != `\` {
		return fmt.Errorf("%s: %s.target_path_slash is required and must be \"/\" or \"\\\\\", got %q", path, field, slash)
	}
	return nil
}

func collectUnknownKeys(data []byte) ([]string, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	unknown := make([]string, 0)
	for key := range raw {
		if _, ok := knownTopLevelKeys[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	return unknown, nil
}
