// Package dispatch resolves a job's target path and applies the correct
// format handler to it, per the File Dispatcher (§4.G). It is the layer
// that turns a (source pattern match, target spec) pair into bytes on
// disk: copy policy, extension-based format dispatch, and the
// id-in-path-triggered file move all live here.
package dispatch

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/natefinch/atomic"

	"github.com/jfvault/migrator/internal/errs"
	"github.com/jfvault/migrator/internal/logging"
	"github.com/jfvault/migrator/internal/pathmap"
	"github.com/jfvault/migrator/internal/walk"
)

// TargetKind names one of the three target_spec forms a job can carry.
type TargetKind int

const (
	Auto TargetKind = iota
	AutoExisting
	Explicit
)

// TargetSpec is a job's target_spec field, parsed.
type TargetSpec struct {
	Kind    TargetKind
	Literal string // only set when Kind == Explicit
}

// ParseTargetSpec recognizes the two magic literals; anything else is an
// explicit path.
func ParseTargetSpec(s string) TargetSpec {
	switch s {
	case "auto":
		return TargetSpec{Kind: Auto}
	case "auto-existing":
		return TargetSpec{Kind: AutoExisting}
	default:
		return TargetSpec{Kind: Explicit, Literal: s}
	}
}

// Roots bundles the path roots needed for target resolution.
type Roots struct {
	OriginalRoot string // the pristine source tree, if distinct from SourceRoot
	SourceRoot   string // the tree the job runner is actually iterating
	TargetRoot   string // where rewritten output lands
}

// ResolveTarget computes the on-disk target path for source under spec,
// per §4.G's four-step recipe. jobMap is the job's own replacements;
// fsMap is fs_path_replacements, applied second.
func ResolveTarget(source string, spec TargetSpec, roots Roots, jobMap, fsMap *pathmap.Map) (string, error) {
	if spec.Kind == Explicit {
		return spec.Literal, nil
	}

	rebased := source
	if roots.OriginalRoot != "" && strings.HasPrefix(source, roots.SourceRoot) {
		rel := strings.TrimPrefix(source, roots.SourceRoot)
		rebased = strings.TrimSuffix(roots.OriginalRoot, "/") + rel
	}

	step1 := jobMap.Rewrite(rebased)
	step2 := fsMap.Rewrite(step1.Value)
	result := step2.Value

	if strings.HasPrefix(result, "/") {
		trimmed := strings.TrimPrefix(result, "/")
		return path.Join(roots.TargetRoot, trimmed), nil
	}
	return result, nil
}

// CopyChoice is the operator's answer to an in-place-overwrite prompt.
type CopyChoice int

const (
	CopyAsk CopyChoice = iota
	CopyYes
	CopyNo
	CopyAlways
)

// Prompt asks the operator whether it is OK to overwrite an existing
// target file. Tests substitute a canned answer; production wiring reads
// a line from stdin.
type Prompt func(source, target string) CopyChoice

// CopyFile copies src to dst bytewise using an os-rooted billy
// filesystem, creating parent directories as needed. It is a no-op, per
// §4.G, when src == dst, and defers to prompt when dst already exists and
// choice has not already been pinned to "always".
func CopyFile(src, dst string, choice *CopyChoice, prompt Prompt) error {
	if src == dst {
		return nil
	}

	fs := osfs.New("/")

	if *choice != CopyAlways {
		if _, err := fs.Stat(dst); err == nil {
			answer := prompt(src, dst)
			switch answer {
			case CopyNo:
				return nil
			case CopyAlways:
				*choice = CopyAlways
			case CopyYes:
				// proceed once, don't pin
			default:
				return nil
			}
		}
	}

	if err := fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return errs.New(errs.IO, "mkdir "+path.Dir(dst), err)
	}

	in, err := fs.Open(src)
	if err != nil {
		return errs.New(errs.IO, "open source "+src, err)
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return errs.New(errs.IO, "create target "+dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errs.New(errs.IO, "copy "+src+" to "+dst, err)
	}
	return nil
}

// Leaf is a scalar transformer, shared by every text-based format
// handler below.
type Leaf func(s string) (value string, modified bool, ignored bool)

// Result reports what one format handler did.
type Result struct {
	Modified int
	Ignored  int
	Moved    bool   // true when the id-in-path transform relocated the file
	NewPath  string // set when Moved
}

// DispatchExtension runs the correct format handler for target, based on
// its file extension, per the table in §4.G. copyOnly governs the
// fallback for unrecognized extensions: accepted silently when true,
// otherwise ignored.
func DispatchExtension(target string, leaf Leaf, copyOnly bool, log logging.Logger) (Result, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	ext := strings.ToLower(path.Ext(target))
	switch ext {
	case ".xml", ".nfo":
		return dispatchXML(target, leaf)
	case ".mblink":
		return dispatchPathFile(target, leaf)
	case ".json":
		return dispatchJSON(target, leaf)
	default:
		if copyOnly {
			return Result{}, nil
		}
		log.Debug("ignoring unrecognized extension", "target", target, "ext", ext)
		return Result{}, nil
	}
}

// skipTags names element tags excluded from the XML walk because they
// hold free text, not paths, and only generate noisy missed-path
// warnings.
var skipTags = map[string]bool{"biography": true, "outline": true}

func dispatchXML(target string, leaf Leaf) (Result, error) {
	fs := osfs.New("/")
	f, err := fs.Open(target)
	if err != nil {
		return Result{}, errs.New(errs.IO, "open "+target, err)
	}
	raw, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return Result{}, errs.New(errs.IO, "read "+target, err)
	}

	decoder := xml.NewDecoder(bytes.NewReader(raw))
	var out bytes.Buffer
	encoder := xml.NewEncoder(&out)

	var res Result
	var skipDepth int
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, errs.New(errs.Parse, target, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if skipTags[strings.ToLower(t.Name.Local)] {
				skipDepth++
			}
			tok = t.Copy()
		case xml.EndElement:
			if skipTags[strings.ToLower(t.Name.Local)] && skipDepth > 0 {
				skipDepth--
			}
		case xml.CharData:
			text := string(t)
			if skipDepth == 0 {
				newText, modified, ignored := leaf(text)
				if modified {
					res.Modified++
					text = newText
				} else if ignored {
					res.Ignored++
				}
			}
			tok = xml.CharData([]byte(text))
		}

		if err := encoder.EncodeToken(tok); err != nil {
			return Result{}, errs.New(errs.IO, "re-encode "+target, err)
		}
	}
	if err := encoder.Flush(); err != nil {
		return Result{}, errs.New(errs.IO, "flush "+target, err)
	}

	final := append([]byte(xml.Header), out.Bytes()...)
	if err := atomic.WriteFile(target, bytes.NewReader(final)); err != nil {
		return Result{}, errs.New(errs.IO, "write "+target, err)
	}
	return res, nil
}

func dispatchPathFile(target string, leaf Leaf) (Result, error) {
	fs := osfs.New("/")
	f, err := fs.Open(target)
	if err != nil {
		return Result{}, errs.New(errs.IO, "open "+target, err)
	}
	raw, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return Result{}, errs.New(errs.IO, "read "+target, err)
	}

	newVal, modified, ignored := leaf(string(raw))
	res := Result{}
	if modified {
		res.Modified = 1
	} else if ignored {
		res.Ignored = 1
	}
	if !modified {
		return res, nil
	}
	if err := atomic.WriteFile(target, strings.NewReader(newVal)); err != nil {
		return Result{}, errs.New(errs.IO, "write "+target, err)
	}
	return res, nil
}

func dispatchJSON(target string, leaf Leaf) (Result, error) {
	fs := osfs.New("/")
	f, err := fs.Open(target)
	if err != nil {
		return Result{}, errs.New(errs.IO, "open "+target, err)
	}
	raw, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return Result{}, errs.New(errs.IO, "read "+target, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Result{}, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Result{}, errs.New(errs.Parse, target, err)
	}

	newDoc, counts := walk.Walk(doc, walk.Leaf(leaf))
	res := Result{Modified: counts.Modified, Ignored: counts.Ignored}
	if counts.Modified == 0 {
		return res, nil
	}

	out, err := json.MarshalIndent(newDoc, "", "  ")
	if err != nil {
		return Result{}, errs.New(errs.Parse, "re-marshal "+target, err)
	}
	if err := atomic.WriteFile(target, bytes.NewReader(out)); err != nil {
		return Result{}, errs.New(errs.IO, "write "+target, err)
	}
	return res, nil
}

// MoveIfIDPath moves oldPath to newPath, creating parent directories as
// needed, when the Id-in-Path Rewriter has produced a different target
// path for the file itself (not just its contents). It is a no-op when
// the two paths are equal.
func MoveIfIDPath(oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}
	fs := osfs.New("/")
	if err := fs.MkdirAll(path.Dir(newPath), 0o755); err != nil {
		return errs.New(errs.IO, "mkdir "+path.Dir(newPath), err)
	}
	if err := fs.Rename(oldPath, newPath); err != nil {
		return errs.New(errs.IO, fmt.Sprintf("move %s to %s", oldPath, newPath), err)
	}
	return nil
}
