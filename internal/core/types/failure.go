package types

import (
	"errors"
	"fmt"
)

// FailureKind categorizes errors crossing the repository boundary. Failures
// surface through the repository with their kind unchanged; a cache failure
// is never reinterpreted as a network one.
type FailureKind string

const (
	FailureNetwork FailureKind = "network" // transport or connectivity error
	FailureServer  FailureKind = "server"  // non-success response or malformed payload
	FailureCache   FailureKind = "cache"   // disk I/O error, cache directory unavailable
	FailureUnknown FailureKind = "unknown" // uncategorized
)

// Failure is an error tagged with a FailureKind. It wraps an underlying
// cause when one exists and participates in errors.Is / errors.As.
type Failure struct {
	Kind FailureKind
	msg  string
	err  error
}

func NewFailure(kind FailureKind, msg string, err error) *Failure {
	return &Failure{Kind: kind, msg: msg, err: err}
}

func NetworkFailure(msg string, err error) *Failure {
	return NewFailure(FailureNetwork, msg, err)
}

func ServerFailure(msg string, err error) *Failure {
	return NewFailure(FailureServer, msg, err)
}

func CacheFailure(msg string, err error) *Failure {
	return NewFailure(FailureCache, msg, err)
}

func UnknownFailure(msg string, err error) *Failure {
	return NewFailure(FailureUnknown, msg, err)
}

func (f *Failure) Error() string {
	if f.err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.msg, f.err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.msg)
}

func (f *Failure) Unwrap() error {
	return f.err
}

// Is matches any *Failure of the same kind, so callers can test with
// errors.Is(err, &Failure{Kind: FailureCache}).
func (f *Failure) Is(target error) bool {
	var other *Failure
	if !errors.As(target, &other) {
		return false
	}
	return f.Kind == other.Kind
}

// KindOf returns the failure kind of err, or FailureUnknown when err
// carries no *Failure in its chain.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureUnknown
}
