// Package errkind defines the closed set of error kinds the storage core
// surfaces to callers (spec.md §7) and the propagation policy around them.
package errkind

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the distinct error variants a caller of the core must be
// able to distinguish with errors.Is.
type Kind int

const (
	NotFound Kind = iota
	KeyEmpty
	KeyExists
	UniqueViolation
	Deadlock
	LockNotGranted
	NeedsSplit
	OldVersion
	PageFormat
	IOError
	NoMemory
	NoTransactionMemory
	InvalidFlags
	InvalidAttr
	UnknownType
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case KeyEmpty:
		return "key_empty"
	case KeyExists:
		return "key_exists"
	case UniqueViolation:
		return "unique_violation"
	case Deadlock:
		return "deadlock"
	case LockNotGranted:
		return "lock_not_granted"
	case NeedsSplit:
		return "needs_split"
	case OldVersion:
		return "old_version"
	case PageFormat:
		return "page_format"
	case IOError:
		return "io_error"
	case NoMemory:
		return "no_memory"
	case NoTransactionMemory:
		return "no_transaction_memory"
	case InvalidFlags:
		return "invalid_flags"
	case InvalidAttr:
		return "invalid_attr"
	case UnknownType:
		return "unknown_type"
	default:
		return "unknown_kind"
	}
}

// Error wraps a Kind with the operation that raised it and an optional
// underlying cause. It implements Unwrap and Is, so errors.Is against the
// Kind sentinels (e.g. NotFoundErr) and errors.As both work. Wrap runs an
// io_error/page_format cause through pkg/errors so a %+v format prints
// where it originated; New attaches no stack.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, SomeKind) work by comparing against a sentinel
// wrapping just a Kind (see the Kind-typed sentinels below), as well as
// against another *Error with the same Kind.
func (e *Error) Is(target error) bool {
	if k, ok := target.(kindSentinel); ok {
		return e.Kind == Kind(k)
	}
	if other, ok := target.(*Error); ok {
		return e.Kind == other.Kind
	}
	return false
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return Kind(k).String() }

// New builds an *Error for Kind k from operation op, with no further cause.
func New(op string, k Kind) *Error {
	return &Error{Kind: k, Op: op}
}

// Wrap builds an *Error for Kind k, attaching cause as the wrapped error.
// For IOError and PageFormat the cause is run through pkg/errors.Wrap so a
// stack trace is captured at the point of failure.
func Wrap(op string, k Kind, cause error) *Error {
	if cause == nil {
		return New(op, k)
	}
	switch k {
	case IOError, PageFormat:
		cause = errors.Wrap(cause, op)
	}
	return &Error{Kind: k, Op: op, Err: cause}
}

// Sentinel values usable with errors.Is(err, errkind.NotFoundErr) etc.
var (
	NotFoundErr             = kindSentinel(NotFound)
	KeyEmptyErr             = kindSentinel(KeyEmpty)
	KeyExistsErr            = kindSentinel(KeyExists)
	UniqueViolationErr      = kindSentinel(UniqueViolation)
	DeadlockErr             = kindSentinel(Deadlock)
	LockNotGrantedErr       = kindSentinel(LockNotGranted)
	NeedsSplitErr           = kindSentinel(NeedsSplit)
	OldVersionErr           = kindSentinel(OldVersion)
	PageFormatErr           = kindSentinel(PageFormat)
	IOErrorErr              = kindSentinel(IOError)
	NoMemoryErr             = kindSentinel(NoMemory)
	NoTransactionMemoryErr  = kindSentinel(NoTransactionMemory)
	InvalidFlagsErr         = kindSentinel(InvalidFlags)
	InvalidAttrErr          = kindSentinel(InvalidAttr)
	UnknownTypeErr          = kindSentinel(UnknownType)
)

// Of reports the Kind of err if err is (or wraps) an *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
