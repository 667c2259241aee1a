// Command jfmigrate is the three-pass migration CLI (§4.K): it loads a
// TOML configuration, runs the Job Runner and File Dispatcher over
// passes 1-3, derives and confirms the id replacement map between
// passes 1 and 2, and reconciles file dates once pass 3 has finished.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/jfvault/migrator/internal/cli"
	"github.com/jfvault/migrator/internal/config"
	"github.com/jfvault/migrator/internal/derive"
	"github.com/jfvault/migrator/internal/dispatch"
	"github.com/jfvault/migrator/internal/logging"
	"github.com/jfvault/migrator/internal/orchestrator"
)

func main() {
	code := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := cli.ParseMigrate(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(stdout, err.Error())
			return 0
		}
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	logWriter := io.Writer(stderr)
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error opening log file: %v\n", err)
			return 1
		}
		defer f.Close()
		logWriter = io.MultiWriter(stderr, f)
	}

	slogLogger := logging.New(logging.Options{Verbose: opts.Verbose, Writer: logWriter})
	log := logging.NewSlogAdapter(slogLogger)

	loadResult, err := config.Load(opts.ConfigPath, config.LoadOptions{
		Strict: opts.StrictConfig,
		Logger: log,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	if loadResult.Plan.LogFile != "" && opts.LogFile == "" {
		log.Warn("log_file is set in configuration but -log was not passed; logging to stderr only")
	}

	if opts.Preview {
		_, _ = fmt.Fprintln(stdout, color.New(color.FgCyan, color.Bold).Sprint("running in preview mode: no database commit will be made"))
	}

	env := orchestrator.Environment{
		Logger:          log,
		OverwritePrompt: promptOverwrite(stdin(), stdout),
		ReportCollision: reportCollision(stdout),
		ConfirmProceed:  confirmProceed(stdin(), stdout),
	}

	summary, err := orchestrator.Run(ctx, loadResult.Plan, orchestrator.Options{
		Preview:        opts.Preview,
		PruneEmptyDirs: false,
	}, env)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error running migration: %v\n", err)
		return 1
	}

	printSummary(stdout, summary)
	if summary.Aborted {
		return 1
	}
	return 0
}

func stdin() *bufio.Reader {
	return bufio.NewReader(os.Stdin)
}

func printSummary(w io.Writer, s orchestrator.Summary) {
	bold := color.New(color.Bold).SprintFunc()
	_, _ = fmt.Fprintln(w, bold("migration summary"))
	printPass(w, "pass 1", s.Pass1)
	printPass(w, "pass 2", s.Pass2)
	printPass(w, "pass 3", s.Pass3)
	if s.Aborted {
		_, _ = fmt.Fprintln(w, color.New(color.FgRed, color.Bold).Sprint("aborted before pass 2: operator declined to proceed past id collisions"))
		return
	}
	_, _ = fmt.Fprintf(w, "dates reconciled: %d\n", s.DatesReconciled)
}

func printPass(w io.Writer, name string, stats orchestrator.PassStats) {
	_, _ = fmt.Fprintf(w, "%s: matched=%d copied=%d modified=%d ignored=%d rows_deleted=%d\n",
		name, stats.FilesMatched, stats.FilesCopied, stats.Modified, stats.Ignored, stats.RowsDeleted)
}

// promptOverwrite asks the operator whether an existing target file (at a
// path different from its source) should be overwritten, matching the
// dispatch.Prompt signature.
func promptOverwrite(in *bufio.Reader, out io.Writer) dispatch.Prompt {
	yellow := color.New(color.FgYellow).SprintFunc()
	return func(source, target string) dispatch.CopyChoice {
		_, _ = fmt.Fprintf(out, "%s %s already exists at %s; overwrite? [y/N] ", yellow("warning:"), source, target)
		if askYesNo(in) {
			return dispatch.CopyYes
		}
		return dispatch.CopyNo
	}
}

func reportCollision(out io.Writer) func(derive.Collision) {
	yellow := color.New(color.FgYellow, color.Bold).SprintFunc()
	return func(c derive.Collision) {
		_, _ = fmt.Fprintf(out, "%s new id %s is shared by %d old paths:\n", yellow("collision:"), c.NewStr, len(c.Old))
		for _, old := range c.Old {
			_, _ = fmt.Fprintf(out, "  - %s -> %s\n", old.OldPath, old.NewPath)
		}
	}
}

func confirmProceed(in *bufio.Reader, out io.Writer) func() bool {
	cyan := color.New(color.FgCyan).SprintFunc()
	return func() bool {
		_, _ = fmt.Fprint(out, cyan("proceed despite the collisions above? [y/N] "))
		return askYesNo(in)
	}
}

func askYesNo(in *bufio.Reader) bool {
	line, _ := in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
