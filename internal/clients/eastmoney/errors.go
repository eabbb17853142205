package eastmoney

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fetch failure for retry decisions.
type ErrorKind int

const (
	// KindTransient covers timeouts and connection failures. Eligible for a
	// retry with a fresh proxy credential.
	KindTransient ErrorKind = iota
	// KindEmpty is a well-formed response with zero rows. Not retried.
	KindEmpty
	// KindParse is a malformed upstream payload. Treated like KindEmpty.
	KindParse
)

// FetchError is the typed failure of one upstream round-trip.
type FetchError struct {
	Kind   ErrorKind
	Target string
	Err    error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	switch e.Kind {
	case KindTransient:
		return fmt.Sprintf("transient fetch failure for %s: %v", e.Target, e.Err)
	case KindEmpty:
		return fmt.Sprintf("no data for %s", e.Target)
	case KindParse:
		return fmt.Sprintf("malformed payload for %s: %v", e.Target, e.Err)
	default:
		return fmt.Sprintf("fetch failure for %s: %v", e.Target, e.Err)
	}
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

func transientErr(target string, err error) *FetchError {
	return &FetchError{Kind: KindTransient, Target: target, Err: err}
}

func emptyErr(target string) *FetchError {
	return &FetchError{Kind: KindEmpty, Target: target}
}

func parseErr(target string, err error) *FetchError {
	return &FetchError{Kind: KindParse, Target: target, Err: err}
}

// IsTransient reports whether err is a retryable fetch failure.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindTransient
}

// IsEmpty reports whether err is a zero-row result.
func IsEmpty(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindEmpty
}
