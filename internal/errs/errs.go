// Package errs classifies the error kinds a migration run can fail with
// (§7), so callers at the orchestrator boundary can decide what is fatal,
// what is swallowed, and what is merely logged.
package errs

import "fmt"

// Kind names one of the error categories the run distinguishes.
type Kind string

const (
	// Configuration covers a bad prefix, a missing root, or any other
	// malformed input discovered before any file is touched.
	Configuration Kind = "configuration"
	// IO covers a missing source file or a permission failure.
	IO Kind = "io"
	// Parse covers a malformed JSON/XML/image-descriptor value in a
	// non-empty field.
	Parse Kind = "parse"
	// Driver covers an unexpected SQL failure from the database driver.
	Driver Kind = "driver"
	// Integrity covers a unique-constraint violation during an id
	// update. Callers resolve this locally (delete the colliding rows)
	// rather than raising it further, but it is still classified here
	// for logging.
	Integrity Kind = "integrity"
)

// Error wraps an underlying error with a Kind and a short description of
// what was being attempted when it occurred.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Err)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, context string, err error) *Error {
	return &Error{Kind: kind, Context: context, Err: err}
}

// Fatal reports whether errors of this kind must stop the run immediately,
// per the propagation rules in §7. Integrity violations are resolved
// locally by the relational rewriter and never reach this check; Parse
// errors on non-empty fields are fatal, but empty-field parse errors never
// construct an *Error in the first place.
func Fatal(kind Kind) bool {
	switch kind {
	case Configuration, IO, Parse, Driver:
		return true
	default:
		return false
	}
}
