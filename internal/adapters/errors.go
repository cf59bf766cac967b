package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies an adapter failure for the retry policy.
type ErrorKind string

const (
	// KindTransient covers network failures and timeouts; the engine retries these.
	KindTransient ErrorKind = "transient"
	// KindPermanent covers malformed input and unsupported requests; never retried.
	KindPermanent ErrorKind = "permanent"
)

// Error is a classified adapter failure.
type Error struct {
	Kind    ErrorKind
	Adapter string
	Err     error
}

func (e *Error) Error() string {
	if e.Adapter != "" {
		return fmt.Sprintf("%s: %s error: %v", e.Adapter, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(adapter string, err error) error {
	return &Error{Kind: KindTransient, Adapter: adapter, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(adapter string, err error) error {
	return &Error{Kind: KindPermanent, Adapter: adapter, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors are
// permanent unless they are deadline or network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsPermanent is the complement of IsTransient for non-nil errors.
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}
