package types

import (
	"errors"
	"fmt"
)

// RefactorError represents errors in refactoring operations
type RefactorError struct {
	Type    ErrorType
	Message string
	Module  string
	Line    int
	Column  int
	Cause   error
}

func (e *RefactorError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("%s:%d:%d: %s", e.Module, e.Line, e.Column, e.Message)
	}
	return e.Message
}

func (e *RefactorError) Unwrap() error {
	return e.Cause
}

// Is matches any *RefactorError of the same Type, so callers can write
// errors.Is(err, types.ErrNoReferences).
func (e *RefactorError) Is(target error) bool {
	t, ok := target.(*RefactorError)
	return ok && t.Type == e.Type
}

// UserFacing reports whether the error is a precondition failure that is
// shown to the user and leaves every buffer untouched.
func (e *RefactorError) UserFacing() bool {
	switch e.Type {
	case InvalidSelection, NotRelocatable, NoReferences, MultipleEnclosingScopes:
		return true
	}
	return false
}

type ErrorType int

const (
	ParseError ErrorType = iota
	FileSystemError
	ModuleNotFound
	InvalidSelection
	NotRelocatable
	NoReferences
	MultipleEnclosingScopes
	RefactorInProgress
	ReparseTimeout
	StructuralMatchNotFound
	EditConflict
)

// String returns the string representation of an ErrorType
func (t ErrorType) String() string {
	switch t {
	case ParseError:
		return "ParseError"
	case FileSystemError:
		return "FileSystemError"
	case ModuleNotFound:
		return "ModuleNotFound"
	case InvalidSelection:
		return "InvalidSelection"
	case NotRelocatable:
		return "NotRelocatable"
	case NoReferences:
		return "NoReferences"
	case MultipleEnclosingScopes:
		return "MultipleEnclosingScopes"
	case RefactorInProgress:
		return "RefactorInProgress"
	case ReparseTimeout:
		return "ReparseTimeout"
	case StructuralMatchNotFound:
		return "StructuralMatchNotFound"
	case EditConflict:
		return "EditConflict"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidSelection        = &RefactorError{Type: InvalidSelection, Message: "invalid selection"}
	ErrNotRelocatable          = &RefactorError{Type: NotRelocatable, Message: "not a relocatable variable"}
	ErrNoReferences            = &RefactorError{Type: NoReferences, Message: "no references"}
	ErrMultipleEnclosingScopes = &RefactorError{Type: MultipleEnclosingScopes, Message: "used in multiple methods"}
	ErrRefactorInProgress      = &RefactorError{Type: RefactorInProgress, Message: "refactoring already in progress"}
	ErrReparseTimeout          = &RefactorError{Type: ReparseTimeout, Message: "reparse timed out"}
	ErrStructuralMatchNotFound = &RefactorError{Type: StructuralMatchNotFound, Message: "declaration not found after reparse"}
)

// ErrorTypeOf extracts the ErrorType of the first RefactorError in err's
// chain.
func ErrorTypeOf(err error) (ErrorType, bool) {
	var re *RefactorError
	if errors.As(err, &re) {
		return re.Type, true
	}
	return 0, false
}
