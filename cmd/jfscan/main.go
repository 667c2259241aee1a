// Command jfscan is the standalone Id Scanner (§4.J): given a catalog of
// known ids and a database to probe, it reports which tables and columns
// still hold them, in which of the six encodings.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/jfvault/migrator/internal/cli"
	"github.com/jfvault/migrator/internal/logging"
	"github.com/jfvault/migrator/internal/scan"
)

func main() {
	code := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := cli.ParseScan(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(stdout, err.Error())
			return 0
		}
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	log := logging.NewSlogAdapter(logging.New(logging.Options{Verbose: opts.Verbose, Writer: stderr}))

	if len(opts.Args) == 0 {
		_, _ = fmt.Fprintln(stderr, "usage: jfscan [flags] <catalog.db>")
		return 1
	}
	catalogPath := opts.Args[0]

	catalog, err := sql.Open("sqlite", catalogPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open catalog %s: %v\n", catalogPath, err)
		return 1
	}
	defer catalog.Close()

	guids, err := loadCatalogGUIDs(ctx, catalog)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load catalog ids: %v\n", err)
		return 1
	}
	ids := scan.BuildIDSet(guids)
	log.Info("catalog loaded", "ids", len(guids))

	src, closeSrc, err := openSource(opts)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer closeSrc()

	jobs, err := scan.BuildJobs(ctx, src)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "enumerate columns: %v\n", err)
		return 1
	}
	log.Info("columns enumerated", "jobs", len(jobs))

	results := scan.Run(ctx, jobs, ids, scan.RunOptions{Workers: opts.Workers})

	var writeErr error
	switch opts.Format {
	case "yaml":
		writeErr = scan.WriteYAML(stdout, results)
	default:
		writeErr = scan.WriteTable(stdout, results)
	}
	if writeErr != nil {
		_, _ = fmt.Fprintln(stderr, writeErr.Error())
		return 1
	}
	return 0
}

// loadCatalogGUIDs reads every item's 16-byte guid from the catalog's
// Items table, the authoritative set the scanner probes other databases
// against.
func loadCatalogGUIDs(ctx context.Context, db *sql.DB) ([][16]byte, error) {
	rows, err := db.QueryContext(ctx, "SELECT guid FROM TypedBaseItems")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][16]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		if len(b) != 16 {
			continue
		}
		var id [16]byte
		copy(id[:], b)
		out = append(out, id)
	}
	return out, rows.Err()
}

func openSource(opts cli.ScanOptions) (scan.Source, func(), error) {
	if opts.SQLitePath != "" {
		db, err := sql.Open("sqlite", opts.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", opts.SQLitePath, err)
		}
		return scan.SQLiteSource{DB: db}, func() { db.Close() }, nil
	}

	pool, err := pgxpool.New(context.Background(), opts.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return scan.PostgresSource{Pool: pool, Schema: opts.Schema}, pool.Close, nil
}
