// Package jobs iterates a pass's job list in order, expanding glob
// patterns against a source root and keeping later catch-all jobs from
// re-processing sources an earlier, more specific job already claimed
// (§4.H).
package jobs

import (
	"io/fs"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"

	"github.com/jfvault/migrator/internal/errs"
	"github.com/jfvault/migrator/internal/logging"
)

// Job is one entry of a pass's job list.
type Job struct {
	SourcePattern string
	TargetSpec    string
	Replacements  map[string]string // old id -> new id for passes 2 and 3 (nil in pass 1); Expand does not read it
	Tables        []string
	CopyOnly      bool
	Quiet         bool
}

// Match is one resolved (source, job) pair ready for dispatch.
type Match struct {
	Source string
	Job    Job
}

// Seen tracks sources already handed to a caller across the whole run, so
// a later catch-all copy_only job does not reprocess an earlier job's
// target.
type Seen struct {
	done map[string]bool
}

// NewSeen builds an empty Seen set.
func NewSeen() *Seen { return &Seen{done: make(map[string]bool)} }

func (s *Seen) claim(p string) bool {
	if s.done[p] {
		return false
	}
	s.done[p] = true
	return true
}

// Expand walks jobs in order, producing one Match per (job, matched file)
// pair. A pattern containing no glob metacharacters is treated as a
// literal path and processed exactly once, even if it does not exist --
// existence is the dispatcher's problem, not the job runner's. log, if
// non-nil, receives one line per glob job reporting how many files it
// matched.
func Expand(fsys fs.FS, sourceRoot string, jobList []Job, seen *Seen, log logging.Logger) ([]Match, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	var matches []Match

	for _, job := range jobList {
		if !isGlobPattern(job.SourcePattern) {
			if !seen.claim(job.SourcePattern) {
				continue
			}
			matches = append(matches, Match{Source: job.SourcePattern, Job: job})
			continue
		}

		rel := strings.TrimPrefix(job.SourcePattern, strings.TrimSuffix(sourceRoot, "/")+"/")
		names, err := doublestar.Glob(fsys, rel)
		if err != nil {
			return nil, errs.New(errs.Configuration, "glob pattern "+job.SourcePattern, err)
		}
		log.Info("job pattern expanded", "pattern", job.SourcePattern, "matches", humanize.Comma(int64(len(names))))

		for _, name := range names {
			info, err := fs.Stat(fsys, name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				continue
			}
			full := path.Join(sourceRoot, name)
			if !seen.claim(full) {
				continue
			}
			matches = append(matches, Match{Source: full, Job: job})
		}
	}

	return matches, nil
}

// isGlobPattern reports whether p contains any glob metacharacter
// doublestar recognizes.
func isGlobPattern(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
