// Package cli provides the command-line interface logic shared by the
// migrator and scanner binaries.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// MigrateOptions holds the configuration derived from jfmigrate's
// command-line arguments.
type MigrateOptions struct {
	ConfigPath   string
	StrictConfig bool
	Preview      bool
	Verbose      bool
	LogFile      string
	Args         []string
}

// ParseMigrate processes jfmigrate's command-line arguments.
func ParseMigrate(args []string) (MigrateOptions, error) {
	const defaultConfig = "jfmigrate.toml"

	opts := MigrateOptions{ConfigPath: defaultConfig}

	fs := flag.NewFlagSet("jfmigrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "Path to migration configuration file")
	fs.StringVar(&opts.ConfigPath, "c", opts.ConfigPath, "Path to migration configuration file")
	fs.BoolVar(&opts.StrictConfig, "strict-config", false, "Treat configuration warnings as errors")
	fs.BoolVar(&opts.Preview, "preview", false, "Run all passes, copying and rewriting files as usual, but roll back every database transaction instead of committing it")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.Verbose, "v", false, "Enable verbose logging")
	fs.StringVar(&opts.LogFile, "log", "", "Also write logs to this file (log_file in the configuration is not used)")

	if err := fs.Parse(args); err != nil {
		usage := Usage(fs)
		return MigrateOptions{}, fmt.Errorf("%w\n\n%s", err, usage)
	}

	opts.Args = fs.Args()
	return opts, nil
}

// ScanOptions holds the configuration derived from jfscan's command-line
// arguments.
type ScanOptions struct {
	SQLitePath  string
	PostgresDSN string
	Schema      string
	Format      string
	Workers     int
	Verbose     bool
	Args        []string
}

// ParseScan processes jfscan's command-line arguments.
func ParseScan(args []string) (ScanOptions, error) {
	opts := ScanOptions{Format: "table", Workers: 4}

	fs := flag.NewFlagSet("jfscan", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.SQLitePath, "db", "", "Path to a SQLite database to scan")
	fs.StringVar(&opts.PostgresDSN, "postgres", "", "Postgres connection string of a plugin database to scan")
	fs.StringVar(&opts.Schema, "schema", "public", "Postgres schema to scan (ignored for -db)")
	fs.StringVar(&opts.Format, "format", opts.Format, "Report format: table or yaml")
	fs.IntVar(&opts.Workers, "workers", opts.Workers, "Number of concurrent column scan workers")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.Verbose, "v", false, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		usage := Usage(fs)
		return ScanOptions{}, fmt.Errorf("%w\n\n%s", err, usage)
	}

	if opts.SQLitePath == "" && opts.PostgresDSN == "" {
		usage := Usage(fs)
		return ScanOptions{}, fmt.Errorf("one of -db or -postgres is required\n\n%s", usage)
	}
	if opts.Format != "table" && opts.Format != "yaml" {
		return ScanOptions{}, fmt.Errorf("unsupported -format %q: want \"table\" or \"yaml\"", opts.Format)
	}

	opts.Args = fs.Args()
	return opts, nil
}

// Usage returns the usage string for the command-line interface.
func Usage(fs *flag.FlagSet) string {
	if fs == nil {
		return ""
	}
	var buf strings.Builder
	_, _ = fmt.Fprintf(&buf, "Usage of %s:\n", fs.Name())
	out := fs.Output()
	fs.SetOutput(&buf)
	fs.PrintDefaults()
	fs.SetOutput(out)
	return buf.String()
}
