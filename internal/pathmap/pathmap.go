// Package pathmap implements the ordered path mapping and the longest
// -- actually first-match-wins -- prefix rewriter described in §3 and §4.B
// of the migration spec.
//
// Insertion order is load-bearing: the first source prefix that is an
// ancestor of a given path, in path-segment sense, wins. Implementers
// must use an ordered container rather than a hash map whose iteration
// order is randomized (§9 Design Notes).
package pathmap

import (
	"strings"

	"github.com/jfvault/migrator/internal/cache"
)

// Entry is one (source_prefix, destination_prefix) pair.
type Entry struct {
	Source      string
	Destination string
}

// Map is an ordered sequence of prefix entries plus the output separator
// policy. The placeholder prefixes %AppDataPath% and %MetadataPath% get no
// special handling: listed as entries that map to themselves, they match
// like any other root, so the separator rule still applies to them. Map
// does not add such entries on its own.
type Map struct {
	Entries       []Entry
	TargetSlash   string // "/" or "\\"
	LogNoWarnings bool
	cache         *cache.Rewrite
}

// NewMap builds a Map from ordered entries. targetSlash must be "/" or
// "\\"; LogNoWarnings defaults to false (warnings enabled).
func NewMap(entries []Entry, targetSlash string) *Map {
	return &Map{
		Entries:     entries,
		TargetSlash: targetSlash,
		cache:       cache.NewRewrite(),
	}
}

// segments splits a forward-slash-normalized path into non-empty
// components, preserving a leading "/" marker for absolute paths and a
// drive letter prefix for Windows-style paths (e.g. "C:").
func segments(p string) (segs []string, absolute bool) {
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		absolute = true
	}
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs, absolute
}

// isAncestor reports whether src's path segments are a prefix of p's path
// segments, segment by segment. "/a/b" is an ancestor of "/a/b/c.txt" but
// NOT of "/a/bc" -- segment boundaries matter, textual prefix matches are
// rejected.
func isAncestor(src, p string) (rel []string, ok bool) {
	srcSegs, _ := segments(src)
	pSegs, _ := segments(p)
	if len(srcSegs) > len(pSegs) {
		return nil, false
	}
	for i, s := range srcSegs {
		if s != pSegs[i] {
			return nil, false
		}
	}
	return pSegs[len(srcSegs):], true
}

// Result reports the outcome of rewriting a single scalar.
type Result struct {
	Value    string
	Modified bool
	Ignored  bool
}

// Rewrite applies the first matching prefix in m to v. If no prefix
// matches, v is returned unchanged with Ignored set; callers decide
// whether to log a "missed path" diagnostic (see ShouldWarn).
func (m *Map) Rewrite(v string) Result {
	if e, ok := m.cache.Get(v); ok {
		return Result{Value: e.Value, Modified: e.Modified, Ignored: !e.Modified}
	}

	for _, entry := range m.Entries {
		rel, ok := isAncestor(entry.Source, v)
		if !ok {
			continue
		}
		out := joinSlash(entry.Destination, rel)
		out = strings.ReplaceAll(out, "/", m.TargetSlash)
		m.cache.Put(v, cache.Entry{Value: out, Modified: true})
		return Result{Value: out, Modified: true}
	}

	m.cache.Put(v, cache.Entry{Value: v, Modified: false})
	return Result{Value: v, Modified: false, Ignored: true}
}

// joinSlash joins a destination prefix with the remaining path segments
// using forward slashes, regardless of target OS.
func joinSlash(dest string, rel []string) string {
	dest = strings.ReplaceAll(dest, "\\", "/")
	dest = strings.TrimSuffix(dest, "/")
	if len(rel) == 0 {
		return dest
	}
	return dest + "/" + strings.Join(rel, "/")
}

// ShouldWarn reports whether a missed (unmatched) path deserves a
// diagnostic: it must look like a non-trivial path (at least two parent
// segments) and must not be a URL.
func ShouldWarn(v string, logNoWarnings bool) bool {
	if logNoWarnings {
		return false
	}
	if strings.HasPrefix(v, "http:") || strings.HasPrefix(v, "https:") {
		return false
	}
	segs, _ := segments(v)
	return len(segs) > 2
}
