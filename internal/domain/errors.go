package domain

import (
	"errors"
	"strings"
)

// Error kinds. Match with errors.Is.
var (
	ErrConfig         = errors.New("config error")
	ErrCorpus         = errors.New("corpus error")
	ErrEmbedding      = errors.New("embedding error")
	ErrIndexEmpty     = errors.New("index is empty")
	ErrIndexCorrupt   = errors.New("index is missing or corrupt")
	ErrIndexExists    = errors.New("index already exists")
	ErrRetrieval      = errors.New("retrieval error")
	ErrGeneration     = errors.New("generation error")
	ErrNotInitialized = errors.New("pipeline not initialized")
)

// Error pairs an error kind with the failing operation and its cause.
type Error struct {
	Kind      error
	Op        string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.Error())
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError wraps err with kind. A nil err yields an error carrying only the kind.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Retryable: IsRetryable(err)}
}

// NewRetryableError is NewError with the retryable flag forced on.
func NewRetryableError(kind error, op string, err error) *Error {
	e := NewError(kind, op, err)
	e.Retryable = true
	return e
}

// IsRetryable reports whether any error in the chain is marked retryable.
func IsRetryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		if de.Retryable {
			return true
		}
		return IsRetryable(de.Err)
	}
	return false
}
