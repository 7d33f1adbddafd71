package faults

import (
	"errors"
	"fmt"
)

// Kind closed classification of external service failures, decided once at
// the call boundary and consumed by the worker loops as data
type Kind int

const (
	Transient     Kind = iota //timeout, rate limit, transient server error: retry within the attempt budget
	ContentPolicy             //moderation rejection: retry once with the fallback prompt
	Permanent                 //bad credential, malformed request, quota: no retry
)

func (k Kind) String() string {
	switch k {
	case ContentPolicy:
		return "content_policy"
	case Permanent:
		return "permanent"
	}
	return "transient"
}

// Error classified failure from an external dependency
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Newf(kind Kind, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, a...)}
}

// KindOf unwraps the classification, unclassified errors count as transient
// so an unknown failure never burns a token permanently
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Transient
}

// Truncate bounds a recorded error message to fit the ledger columns
func Truncate(msg string, max int) string {
	if len(msg) <= max {
		return msg
	}
	return msg[:max]
}
