// Package errs implements the error-kind taxonomy and multi-branch
// aggregation rules of the union filesystem.
package errs

import (
	"bytes"
	"fmt"
)

// Kind is an abstract error classification, mapped to errno only at the
// FUSE transport boundary (internal/fusefront).
type Kind int

const (
	// KindNone indicates success.
	KindNone Kind = iota
	KindNotFound
	KindPermissionDenied
	KindReadOnly
	KindOutOfSpace
	KindCrossDevice
	KindNotSupported
	KindIOError
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not-found"
	case KindPermissionDenied:
		return "permission-denied"
	case KindReadOnly:
		return "read-only"
	case KindOutOfSpace:
		return "out-of-space"
	case KindCrossDevice:
		return "cross-device"
	case KindNotSupported:
		return "not-supported"
	case KindIOError:
		return "io-error"
	default:
		return "unknown"
	}
}

// priority is highest-first:
// PermissionDenied > CrossDevice > OutOfSpace > ReadOnly > IOError > NotSupported > NotFound
var priority = map[Kind]int{
	KindPermissionDenied: 7,
	KindCrossDevice:      6,
	KindOutOfSpace:       5,
	KindReadOnly:         4,
	KindIOError:          3,
	KindNotSupported:     2,
	KindNotFound:         1,
	KindNone:             0,
}

// Error wraps a Kind with the underlying cause.
type Error struct {
	Kind  Kind
	Cause error
}

func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf extracts the Kind from err, defaulting to KindIOError for
// unclassified errors and KindNone for nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindIOError
}

// Errors aggregates per-branch outcomes into one verdict, nil meaning
// at least one branch succeeded (or there were no outcomes).
type Errors []error

// Map returns a copy with every element passed through mapping; elements
// mapped to nil are dropped.
func (e Errors) Map(mapping func(error) error) Errors {
	s := make([]error, len(e))
	i := 0
	for _, err := range e {
		nerr := mapping(err)
		if nerr == nil {
			continue
		}
		s[i] = nerr
		i++
	}
	return Errors(s[:i])
}

// FilterNil drops nil entries.
func (e Errors) FilterNil() Errors {
	return e.Map(func(err error) error { return err })
}

// Err reports the verdict across every original per-branch outcome: if
// any branch succeeded (a nil entry), the overall operation succeeded
// and Err returns nil, even though other branches failed. Only when
// every branch failed does Err return the single highest-priority
// error among them.
func (e Errors) Err() error {
	var worst error
	worstPrio := -1
	for _, err := range e {
		if err == nil {
			return nil
		}
		if p := priority[KindOf(err)]; p > worstPrio {
			worst, worstPrio = err, p
		}
	}
	return worst
}

// Error renders a concatenated summary.
func (e Errors) Error() string {
	var buf bytes.Buffer
	switch len(e) {
	case 0:
		buf.WriteString("no error")
	case 1:
		buf.WriteString("1 error: ")
	default:
		fmt.Fprintf(&buf, "%d errors: ", len(e))
	}
	for i, err := range e {
		if i != 0 {
			buf.WriteString("; ")
		}
		if err != nil {
			buf.WriteString(err.Error())
		} else {
			buf.WriteString("nil error")
		}
	}
	return buf.String()
}

// Unwrap exposes the wrapped errors for errors.Is/As.
func (e Errors) Unwrap() []error { return e }

// Sentinels used by the policy catalog (internal/policy) and resolver.
var (
	ErrNoBranches        = New(KindNotFound, fmt.Errorf("no branches available"))
	ErrReadOnlyFilesystem = New(KindReadOnly, fmt.Errorf("no writable branch qualifies"))
	ErrOutOfSpace        = New(KindOutOfSpace, fmt.Errorf("no branch has sufficient free space"))
	ErrNotFound          = New(KindNotFound, fmt.Errorf("path not found on any branch"))
	ErrCrossDevice        = New(KindCrossDevice, fmt.Errorf("operation spans branches and cannot be emulated"))
)
