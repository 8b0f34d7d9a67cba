// Package errs defines the error classes the sync core reports to callers.
// Match them with errors.As; IsRetryable and IsAuth cover the common checks.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError is a network failure, timeout or server-side hiccup.
// The operation may be retried.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: temporary failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError means the credential was rejected. It is never retried locally.
type AuthError struct {
	Op     string
	Status int
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: not authorized (HTTP %d)", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: not authorized", e.Op)
}

// MalformedEventError is a push payload that failed its schema check.
type MalformedEventError struct {
	Type   string
	Reason string
}

func (e *MalformedEventError) Error() string {
	if e.Type == "" {
		return "malformed event: " + e.Reason
	}
	return fmt.Sprintf("malformed %s event: %s", e.Type, e.Reason)
}

// ChannelError is a transport-level loss of the push connection.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string { return "push channel: " + e.Err.Error() }

func (e *ChannelError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError unless it already carries a class.
func Transient(op string, err error) error {
	if err == nil || Classified(err) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// Classified reports whether err already belongs to one of the classes above.
func Classified(err error) bool {
	var (
		te *TransientError
		ae *AuthError
		me *MalformedEventError
		ce *ChannelError
	)
	return errors.As(err, &te) || errors.As(err, &ae) || errors.As(err, &me) || errors.As(err, &ce)
}

// IsRetryable reports whether retrying the failed operation can succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	var ce *ChannelError
	if errors.As(err, &te) || errors.As(err, &ce) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsAuth reports whether err is an authorization failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
