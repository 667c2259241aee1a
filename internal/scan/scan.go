// Package scan implements the standalone Id Scanner (§4.J): given an
// authoritative catalog of ids and an arbitrary database to probe, it
// reports which columns of the scanned database hold which id variants,
// and whether they hold them "pure" (the column value is exactly the id)
// or "embedded" (the id is a substring of a larger value).
package scan

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jfvault/migrator/internal/idcodec"
)

// IDSet holds every loaded catalog id, expanded to all six variants, in
// both text and binary form.
type IDSet struct {
	Text map[idcodec.Variant][]string
	Bin  map[idcodec.Variant][][]byte
}

// textVariants and binVariants partition idcodec.All the same way the
// source's load_ids does: four variants are always textual, two are
// always binary.
var textVariants = []idcodec.Variant{idcodec.Str, idcodec.StrDash, idcodec.AncestorStr, idcodec.AncestorStrDash}
var binVariants = []idcodec.Variant{idcodec.Bin, idcodec.AncestorBin}

// BuildIDSet expands a catalog's raw binary guids into every variant.
func BuildIDSet(guids [][16]byte) IDSet {
	set := IDSet{
		Text: make(map[idcodec.Variant][]string, len(textVariants)),
		Bin:  make(map[idcodec.Variant][][]byte, len(binVariants)),
	}
	for _, v := range textVariants {
		set.Text[v] = make([]string, 0, len(guids))
	}
	for _, v := range binVariants {
		set.Bin[v] = make([][]byte, 0, len(guids))
	}
	for _, raw := range guids {
		id := idcodec.ID(raw)
		enc := idcodec.EncodeAll(id)
		set.Text[idcodec.Str] = append(set.Text[idcodec.Str], enc.Str)
		set.Text[idcodec.StrDash] = append(set.Text[idcodec.StrDash], enc.StrDash)
		set.Text[idcodec.AncestorStr] = append(set.Text[idcodec.AncestorStr], enc.AncestorStr)
		set.Text[idcodec.AncestorStrDash] = append(set.Text[idcodec.AncestorStrDash], enc.AncestorStrDash)
		set.Bin[idcodec.Bin] = append(set.Bin[idcodec.Bin], []byte(enc.Bin))
		set.Bin[idcodec.AncestorBin] = append(set.Bin[idcodec.AncestorBin], []byte(enc.AncestorBin))
	}
	return set
}

// ColumnJob is one (table, column) pair awaiting scan, with its set of
// distinct non-null values already loaded.
type ColumnJob struct {
	Table  string
	Column string
	Values []any // either string or []byte per row, uniform within a column in practice
}

// Finding is one (variant, tag) pair confirmed present in a column.
type Finding struct {
	Variant idcodec.Variant
	Tag     string // "pure" or "embedded"
}

// Result is one column's scan outcome.
type Result struct {
	Table    string
	Column   string
	Findings []Finding
}

// CheckBinColumn probes a binary-typed column's values for direct set
// membership against each binary id variant. As soon as one value of a
// variant is found, that variant is marked and scanning moves to the
// next variant -- presence, not counts, is what the scanner reports.
func CheckBinColumn(job ColumnJob, ids IDSet) *Result {
	if len(job.Values) == 0 {
		return nil
	}
	if _, ok := job.Values[0].([]byte); !ok {
		return nil
	}

	present := make(map[string]bool, len(job.Values))
	for _, v := range job.Values {
		if b, ok := v.([]byte); ok {
			present[string(b)] = true
		}
	}

	var findings []Finding
	for _, variant := range binVariants {
		for _, candidate := range ids.Bin[variant] {
			if present[string(candidate)] {
				findings = append(findings, Finding{Variant: variant, Tag: "pure"})
				break
			}
		}
	}
	if len(findings) == 0 {
		return nil
	}
	return &Result{Table: job.Table, Column: job.Column, Findings: findings}
}

// candidateSet holds the maximal hex-or-dash runs extracted from a
// column's values, split by whether the value a run came from was pure
// (the whole value was exactly this run) or embedded (the run was part of
// something larger).
type candidateSet struct {
	pure  map[string]bool
	embed map[string]bool
}

// IDCandidates reduces s to the set of its maximal substrings drawn from
// [0-9a-f-] that are at least 32 characters long -- long enough to be a
// 32-hex-character id, with or without dashes. It also reports whether s
// was itself exactly one such run.
func IDCandidates(s string) (pure bool, candidates []string) {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isHexOrDash(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	masked := b.String()
	pure = masked == s

	for _, piece := range strings.Split(masked, " ") {
		if len(piece) >= 32 {
			candidates = append(candidates, piece)
		}
	}
	return pure, candidates
}

func isHexOrDash(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'f':
		return true
	case r == '-':
		return true
	default:
		return false
	}
}

// CheckTextColumn probes a text-typed column's values for occurrences of
// any text id variant, tagging each find "pure" or "embedded" depending
// on whether the confirming value's candidate substring was the whole
// value. Short-circuits per variant exactly like CheckBinColumn.
func CheckTextColumn(job ColumnJob, ids IDSet) *Result {
	if len(job.Values) == 0 {
		return nil
	}
	if _, ok := job.Values[0].(string); !ok {
		return nil
	}

	set := candidateSet{pure: make(map[string]bool), embed: make(map[string]bool)}
	for _, v := range job.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		isPure, candidates := IDCandidates(s)
		for _, c := range candidates {
			if isPure {
				set.pure[c] = true
			} else {
				set.embed[c] = true
			}
		}
	}

	var findings []Finding
	for _, variant := range textVariants {
		for _, candidate := range ids.Text[variant] {
			if set.pure[candidate] {
				findings = append(findings, Finding{Variant: variant, Tag: "pure"})
				break
			}
			if set.embed[candidate] {
				findings = append(findings, Finding{Variant: variant, Tag: "embedded"})
				break
			}
		}
	}
	if len(findings) == 0 {
		return nil
	}
	return &Result{Table: job.Table, Column: job.Column, Findings: findings}
}

// Check dispatches a job to the binary or text checker based on the type
// of its first value.
func Check(job ColumnJob, ids IDSet) *Result {
	if len(job.Values) == 0 {
		return nil
	}
	switch job.Values[0].(type) {
	case []byte:
		return CheckBinColumn(job, ids)
	case string:
		return CheckTextColumn(job, ids)
	default:
		return nil
	}
}

// RunOptions configures a scan.
type RunOptions struct {
	// Workers bounds how many columns are scanned concurrently. A value
	// <= 1 scans sequentially.
	Workers int
}

// Run scans every job concurrently (bounded by opts.Workers) and returns
// every non-empty Result, sorted by (table, column).
func Run(ctx context.Context, jobs []ColumnJob, ids IDSet, opts RunOptions) []Result {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]*Result, len(jobs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, job ColumnJob) {
			defer wg.Done()
			defer func() { <-sem }()
			select {
			case <-ctx.Done():
				return
			default:
			}
			results[i] = Check(job, ids)
		}(i, job)
	}
	wg.Wait()

	var out []Result
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Column < out[j].Column
	})
	return out
}
