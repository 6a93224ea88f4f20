package pipeline

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindSourceUnavailable ErrorKind = iota
	KindSelectionFailed
	KindRenderFailed
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindSourceUnavailable:
		return "SourceUnavailable"
	case KindSelectionFailed:
		return "SelectionFailed"
	case KindRenderFailed:
		return "RenderFailed"
	default:
		return "Unknown"
	}
}

// StageError is the classified failure of one pipeline stage. Its message is
// what callers see on the job record; the cause stays internal. Timeout marks
// failures produced by a stage deadline rather than the collaborator itself.
type StageError struct {
	Kind    ErrorKind
	Message string
	Timeout bool
	Cause   error
}

func NewStageError(kind ErrorKind, message string) *StageError {
	return &StageError{Kind: kind, Message: message}
}

func WrapStageError(kind ErrorKind, message string, cause error) *StageError {
	return &StageError{Kind: kind, Message: message, Cause: cause}
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
