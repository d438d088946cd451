package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by the capability they affect.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindGeneration    ErrorKind = "generation"
	KindTranscription ErrorKind = "transcription"
	KindIndexing      ErrorKind = "indexing"
	KindSynthesis     ErrorKind = "synthesis"
	KindValidation    ErrorKind = "validation"
	KindSession       ErrorKind = "session"
)

// Error is a classified failure with a user-facing reason.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// ReasonOf returns the user-facing reason of err, or its message.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
