// Package errkind classifies the errors raised by the window pool, the
// protocol handlers and the backends. The wire status byte and the legacy
// control return codes are both derived from the Kind of an error.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is the abstract class of an error.
type Kind int

// The error kinds.
const (
	Internal Kind = iota
	InvalidArgument
	Sequence
	Busy
	Window
	Permission
	Unmapped
	BackendIO
	Unsupported
	Timeout
	Configuration
)

var kindNames = map[Kind]string{
	Internal:        "internal",
	InvalidArgument: "invalid argument",
	Sequence:        "sequence",
	Busy:            "busy",
	Window:          "window",
	Permission:      "permission",
	Unmapped:        "unmapped",
	BackendIO:       "backend io",
	Unsupported:     "unsupported",
	Timeout:         "timeout",
	Configuration:   "configuration",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("kind(%d)", int(k))
	}

	return name
}

// ParseKind returns the kind named name, as printed by Kind.String.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}

	return Internal, false
}

// Error is an error with a kind and the operation that raised it.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}

	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, op string, format string, args ...any) error {
	return &Error{
		Op:   op,
		Kind: kind,
		Err:  fmt.Errorf(format, args...),
	}
}

// Wrap attaches a kind to err. It returns nil if err is nil. An error that is
// already classified keeps its kind and gains the outer operation name only.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		kind = e.Kind
	}

	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
// Unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
