// Package idcodec implements the six encoding variants of a Jellyfin-style
// item identifier: a 16-byte value canonically interpreted as a 128-bit
// UUID (§3, §4.A of the migration spec).
//
// All conversions are pure, total, and allocation-bounded. The "ancestor"
// variants apply a fixed, involutive permutation to the first 8 bytes,
// mirroring the little-endian field layout the server uses when it stores
// ids in "ancestor" relationships and paths.
package idcodec

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ID is the canonical 16-byte identifier. It is a direct alias of
// uuid.UUID so parsing, formatting, and random generation reuse a
// well-tested, widely depended-on implementation instead of hand-rolled
// hex plumbing.
type ID = uuid.UUID

// Variant names one of the six encodings a value can take.
type Variant string

// The six variants recognized by the spec.
const (
	Bin             Variant = "bin"
	Str             Variant = "str"
	StrDash         Variant = "str-dash"
	AncestorBin     Variant = "ancestor-bin"
	AncestorStr     Variant = "ancestor-str"
	AncestorStrDash Variant = "ancestor-str-dash"
)

// All lists every variant in a stable order, useful for iteration in the
// scanner and the id derivation pass.
var All = []Variant{Bin, Str, StrDash, AncestorBin, AncestorStr, AncestorStrDash}

// ancestorOrder is the fixed permutation applied to the first 8 bytes of
// an id to compute its ancestor form. It is its own inverse: the pairs
// (0,3), (1,2), (4,5), (6,7) are swapped, so applying it twice is a no-op.
var ancestorOrder = [8]int{3, 2, 1, 0, 5, 4, 7, 6}

// Ancestor returns id with its first 8 bytes permuted by ancestorOrder.
// Bytes 8-15 are unchanged. Ancestor is involutive: Ancestor(Ancestor(id))
// == id.
func Ancestor(id ID) ID {
	var out ID
	for i, j := range ancestorOrder {
		out[i] = id[j]
	}
	copy(out[8:], id[8:])
	return out
}

// Str returns the 32-character lowercase hex encoding of id, with no
// dashes.
func Str(id ID) string {
	return hex.EncodeToString(id[:])
}

// StrDash returns the dashed hex encoding (8-4-4-4-12), i.e. the standard
// UUID string form.
func StrDash(id ID) string {
	return id.String()
}

// ParseHex decodes a 32-character hex string (no dashes) into an ID.
func ParseHex(s string) (ID, error) {
	if len(s) != 32 {
		return ID{}, fmt.Errorf("idcodec: %q is not a 32-character hex id", s)
	}
	var b [16]byte
	if _, err := hex.Decode(b[:], []byte(s)); err != nil {
		return ID{}, fmt.Errorf("idcodec: decode %q: %w", s, err)
	}
	return ID(b), nil
}

// ParseDashed decodes a dashed UUID string (8-4-4-4-12) into an ID.
func ParseDashed(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("idcodec: parse %q: %w", s, err)
	}
	return id, nil
}

// ParseAny decodes either a dashed or undashed hex id. It is used by
// callers (e.g. the scanner) that don't know ahead of time which textual
// form a value takes.
func ParseAny(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("idcodec: parse %q: %w", s, err)
	}
	return id, nil
}

// Encoded holds all six encodings of a single id, computed once and
// reused across the id derivation and collision analysis passes.
type Encoded struct {
	Bin             string // raw 16 bytes, as a string for map-key use
	Str             string
	StrDash         string
	AncestorBin     string
	AncestorStr     string
	AncestorStrDash string
}

// EncodeAll expands id into all six variants.
func EncodeAll(id ID) Encoded {
	anc := Ancestor(id)
	return Encoded{
		Bin:             string(id[:]),
		Str:             Str(id),
		StrDash:         StrDash(id),
		AncestorBin:     string(anc[:]),
		AncestorStr:     Str(anc),
		AncestorStrDash: StrDash(anc),
	}
}

// Get returns the requested variant's encoding as a string (raw bytes for
// the two binary variants, hex text for the other four).
func (e Encoded) Get(v Variant) string {
	switch v {
	case Bin:
		return e.Bin
	case Str:
		return e.Str
	case StrDash:
		return e.StrDash
	case AncestorBin:
		return e.AncestorBin
	case AncestorStr:
		return e.AncestorStr
	case AncestorStrDash:
		return e.AncestorStrDash
	default:
		return ""
	}
}
