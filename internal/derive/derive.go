// Package derive computes the Id Derivation & Collision Analyzer pass
// (§4.I): for every catalog row whose path changed, it recomputes the
// item's identifier the same way the target runtime does, and flags any
// new identifier that collides with another row's.
package derive

import (
	"crypto/md5"
	"fmt"
	"sort"

	"golang.org/x/text/encoding/unicode"

	"github.com/jfvault/migrator/internal/idcodec"
)

// utf16LE is the exact encoding the target runtime uses when hashing an
// item's type+path into its identifier: UTF-16 little-endian, no byte
// order mark.
var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()

// Hash reproduces the target runtime's identifier derivation:
// MD5(UTF-16LE(typ + path)). This must byte-exactly match the native
// implementation, or every derived id silently diverges from what the
// runtime itself would compute for the same input.
func Hash(typ, path string) (idcodec.ID, error) {
	encoded, err := utf16LE.String(typ + path)
	if err != nil {
		return idcodec.ID{}, fmt.Errorf("derive: utf-16le encode: %w", err)
	}
	sum := md5.Sum([]byte(encoded))
	return idcodec.ID(sum), nil
}

// Row is one catalog entry considered for re-derivation.
type Row struct {
	OldGUID idcodec.ID
	OldPath string
	Type    string
	NewPath string
}

// Replacement is one old-to-new identifier mapping produced by
// derivation, expanded to all six encodings, alongside the paths that
// produced it (kept for the collision report's operator-facing output).
type Replacement struct {
	Old     idcodec.Encoded
	New     idcodec.Encoded
	OldPath string
	NewPath string
}

// Derive walks rows and computes a new identifier for each one whose path
// is non-empty and not itself a runtime-internal virtual path (the
// "%"-prefixed placeholders). Rows whose recomputed id equals the
// existing one are skipped -- nothing to replace.
func Derive(rows []Row) []Replacement {
	var out []Replacement
	for _, r := range rows {
		if r.NewPath == "" || r.NewPath[0] == '%' {
			continue
		}
		newID, err := Hash(r.Type, r.NewPath)
		if err != nil {
			continue
		}
		if newID == r.OldGUID {
			continue
		}
		out = append(out, Replacement{
			Old:     idcodec.EncodeAll(r.OldGUID),
			New:     idcodec.EncodeAll(newID),
			OldPath: r.OldPath,
			NewPath: r.NewPath,
		})
	}
	return out
}

// ByVariant flattens replacements into one old->new string map per
// variant, the shape the relational rewriter and path rewriters consume.
func ByVariant(reps []Replacement) map[idcodec.Variant]map[string]string {
	out := make(map[idcodec.Variant]map[string]string, len(idcodec.All))
	for _, v := range idcodec.All {
		out[v] = make(map[string]string)
	}
	for _, rep := range reps {
		for _, v := range idcodec.All {
			out[v][rep.Old.Get(v)] = rep.New.Get(v)
		}
	}
	return out
}

// Collision groups every replacement whose new `str` encoding collides
// with at least one other replacement's.
type Collision struct {
	NewStr string
	Old    []Replacement
}

// FindCollisions reports every new-`str` value produced by more than one
// replacement -- i.e. cases where the path mapping merged two previously
// distinct items into the same target path. Results are sorted by
// NewStr for deterministic operator-facing output.
func FindCollisions(reps []Replacement) []Collision {
	byNew := make(map[string][]Replacement)
	for _, rep := range reps {
		byNew[rep.New.Str] = append(byNew[rep.New.Str], rep)
	}

	var collisions []Collision
	for newStr, olds := range byNew {
		if len(olds) > 1 {
			collisions = append(collisions, Collision{NewStr: newStr, Old: olds})
		}
	}
	sort.Slice(collisions, func(i, j int) bool { return collisions[i].NewStr < collisions[j].NewStr })
	return collisions
}

// Confirm presents collisions to the operator and returns whether the run
// should proceed. report is expected to print each collision's old and
// new paths; confirm blocks on an "Enter to continue / Ctrl+C to abort"
// style prompt, here abstracted as a callback so tests can drive it
// without touching stdin.
func Confirm(collisions []Collision, report func(Collision), confirm func() bool) bool {
	if len(collisions) == 0 {
		return true
	}
	for _, c := range collisions {
		report(c)
	}
	return confirm()
}
