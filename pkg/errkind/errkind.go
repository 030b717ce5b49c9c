// Package errkind classifies pipeline failures by severity so callers can
// decide between skipping, replying and reconnecting without inspecting
// control flow.
package errkind

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// Unknown is the kind of errors that were never classified.
	Unknown Kind = iota
	// NotFound covers absent links, unmatched patterns, catalog and page misses.
	NotFound
	// TransientIO covers network and send failures. Logged and skipped.
	TransientIO
	// SessionInit means the messaging client could not be created.
	SessionInit
	// SessionLost means the messaging transport is gone; reconnection owns recovery.
	SessionLost
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case TransientIO:
		return "transient_io"
	case SessionInit:
		return "session_init"
	case SessionLost:
		return "session_lost"
	default:
		return "unknown"
	}
}

// Fatal reports whether the kind must be propagated instead of skipped.
func (k Kind) Fatal() bool {
	return k == SessionInit || k == SessionLost
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
