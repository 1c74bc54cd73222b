package grading

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput means the extraction was neither text nor a mapping,
	// or the answer key was missing.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidAnswerKey is matched by every *KeyError.
	ErrInvalidAnswerKey = errors.New("invalid answer key")
	// ErrExtraction is matched by every *ExtractionError.
	ErrExtraction = errors.New("extraction failed")
)

// KeyError describes a malformed question in an answer key.
type KeyError struct {
	Question string
	Field    string
	Reason   string
}

func (e *KeyError) Error() string {
	return "invalid answer key: " + e.Detail()
}

// Detail describes the problem without the error prefix.
func (e *KeyError) Detail() string {
	if e.Field == "" {
		return fmt.Sprintf("question %q: %s", e.Question, e.Reason)
	}
	return fmt.Sprintf("question %q: %s: %s", e.Question, e.Field, e.Reason)
}

func (e *KeyError) Is(target error) bool {
	return target == ErrInvalidAnswerKey
}

// ExtractionError carries a collaborator-reported extraction failure verbatim.
type ExtractionError struct {
	Cause string
}

func (e *ExtractionError) Error() string {
	return "extraction failed: " + e.Cause
}

func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}
