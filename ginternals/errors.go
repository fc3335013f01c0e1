// Package ginternals holds the small set of types and helpers shared by
// every layer of the core: the algorithm-agnostic Oid alias, the
// stable error taxonomy described in the design notes, and the
// relative paths used inside a .git directory.
package ginternals

import "fmt"

// Kind is a stable tag attached to every error the core returns, so
// callers can branch on failure category without parsing messages.
type Kind string

// The recognized error kinds. Kept deliberately small and stable:
// callers switch on these, not on error strings.
const (
	KindNotFound         Kind = "not_found"
	KindAlreadyExists    Kind = "already_exists"
	KindInvalidRef       Kind = "invalid_ref"
	KindRefStale         Kind = "ref_stale"
	KindCheckoutConflict Kind = "checkout_conflict"
	KindMergeConflict    Kind = "merge_conflict"
	KindUnmergedPaths    Kind = "unmerged_paths"
	KindMissingParameter Kind = "missing_parameter"
	KindInvalidFilepath  Kind = "invalid_filepath"
	KindObjectType       Kind = "object_type"
	KindCorrupt          Kind = "corrupt"
	KindPushRejected     Kind = "push_rejected"
	KindHTTP             Kind = "http"
	KindParseURL         Kind = "parse_url"
	KindUnknownTransport Kind = "unknown_transport"
	KindCommitNotFetched Kind = "commit_not_fetched"
	KindInternal         Kind = "internal"
)

// Error is the error type returned by every core operation that fails
// for a reason the caller might want to branch on.
type Error struct {
	Kind   Kind
	Caller string // public command name that triggered the failure, for diagnostics
	Msg    string
	Cause  error
	Data   map[string]any
}

func (e *Error) Error() string {
	if e.Caller != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %s", e.Caller, e.Msg, e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Caller, e.Msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Cause)
	}
	return e.Msg
}

// Unwrap lets errors.Is/As see through to the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error carrying the same Kind, so
// callers can do errors.Is(err, ginternals.Err(KindNotFound)).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// NewError builds an *Error of the given kind.
func NewError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithCaller returns a shallow copy of the error annotated with the
// public command name that triggered it.
func WithCaller(err error, caller string) error {
	if e, ok := err.(*Error); ok {
		cp := *e
		cp.Caller = caller
		return &cp
	}
	return err
}

// Err returns a sentinel of the given kind, suitable for errors.Is
// comparisons against errors produced by NewError.
func Err(kind Kind) error {
	return &Error{Kind: kind, Msg: string(kind)}
}

// Multiple aggregates child errors from a parallel operation (e.g.
// staging many files at once) into a single error.
type Multiple struct {
	Errors []error
}

func (m *Multiple) Error() string {
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred, first: %s", len(m.Errors), m.Errors[0])
}

// Unwrap supports errors.Is/As against any of the aggregated causes.
func (m *Multiple) Unwrap() []error {
	return m.Errors
}
