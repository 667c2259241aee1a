// Package imagedesc codecs the packed image-descriptor strings the server
// stores in its image info columns (§4.E):
//
//	record := entry ('|' entry)*
//	entry  := path ('*' field)*
//
// A record describes zero or more images; each entry packs a path and up
// to five trailing fields (last-write ticks, image type, width, height,
// blur hash) separated by '*'. Only the path -- the first field of an
// entry -- is ever a candidate for rewriting; the rest round-trip
// untouched.
//
// A grammar-combinator lexer was tried here first and dropped: the format
// requires exact preservation of empty entries and empty fields (two
// adjacent '|' is a legal empty entry, not an absent one), which a
// token-stream lexer does not represent without matching a zero-width
// token -- something regexp-based lexers refuse to do safely. A manual
// split is both simpler and exactly matches the reference CSV-like
// splitting this format is modeled on.
package imagedesc

import "strings"

// Entry is one '|'-delimited segment of a record.
type Entry struct {
	Path   string
	Fields []string // verbatim trailing '*'-delimited fields, if any
}

// Record is a fully parsed image-descriptor string.
type Record struct {
	Entries []Entry
	Empty   bool // the original string was empty; Entries is nil
}

// Parse splits s into a Record. Parse never fails: every input string,
// including the empty string, has a valid parse.
func Parse(s string) Record {
	if s == "" {
		return Record{Empty: true}
	}
	rawEntries := strings.Split(s, "|")
	entries := make([]Entry, len(rawEntries))
	for i, raw := range rawEntries {
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, "*")
		entries[i] = Entry{Path: parts[0], Fields: parts[1:]}
	}
	return Record{Entries: entries}
}

// Serialize renders r back to its packed string form.
func (r Record) Serialize() string {
	if r.Empty {
		return ""
	}
	rendered := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		if e.Path == "" && len(e.Fields) == 0 {
			rendered[i] = ""
			continue
		}
		parts := append([]string{e.Path}, e.Fields...)
		rendered[i] = strings.Join(parts, "*")
	}
	return strings.Join(rendered, "|")
}

// RewritePaths applies leaf to every entry's path and returns the
// rewritten Record along with how many paths were changed. leaf returns
// the new path and whether it counts as a modification.
func RewritePaths(r Record, leaf func(path string) (string, bool)) (Record, int) {
	modified := 0
	for i, e := range r.Entries {
		if e.Path == "" {
			continue
		}
		newPath, ok := leaf(e.Path)
		if ok {
			r.Entries[i].Path = newPath
			modified++
		}
	}
	return r, modified
}
