// Package fault classifies the errors a handler can fail with.
package fault

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the class of a failure
type Kind int

const (
	// Unknown is returned by KindOf for errors not built by this package
	Unknown Kind = iota
	// CollaboratorKind is a failed call to an AWS service
	CollaboratorKind
	// ValidationKind is a domain check that did not hold
	ValidationKind
)

func (k Kind) String() string {
	switch k {
	case CollaboratorKind:
		return "collaborator"
	case ValidationKind:
		return "validation"
	default:
		return "unknown"
	}
}

// Error carries a kind, the failing operation and its cause
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Collaborator wraps a failed service call. A nil err yields nil.
func Collaborator(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: CollaboratorKind, Op: op, Err: err}
}

// Invalid builds a validation failure
func Invalid(format string, args ...interface{}) error {
	return &Error{Kind: ValidationKind, Err: errors.Errorf(format, args...)}
}

// KindOf reports the kind of the outermost classified error in err's chain
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}
