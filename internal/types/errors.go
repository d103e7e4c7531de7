package types

import (
	"errors"
	"fmt"
)

// CodeConcurrentOperationConflict is the provider error code returned when a
// request collides with another in-flight operation. Callers may resubmit.
const CodeConcurrentOperationConflict = "ConcurrentOperationConflict"

var (
	// ErrDecode matches any *DecodeError via errors.Is.
	ErrDecode = errors.New("image decode failed")

	// ErrDimensionMismatch is returned when a mask and an image differ in size.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrRetriesExhausted marks a batch item that kept hitting conflicts.
	ErrRetriesExhausted = errors.New("conflict retries exhausted")
)

// DecodeError reports bytes that could not be decoded as an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return ErrDecode.Error()
	}
	return fmt.Sprintf("%s: %v", ErrDecode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDecode) match.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// ServiceError is a non-success response from a remote service.
type ServiceError struct {
	Service    string
	StatusCode int
	Code       string
	Message    string
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s service returned status %d (%s): %s", e.Service, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s service returned status %d: %s", e.Service, e.StatusCode, e.Message)
}

// TransientError is a retriable remote condition: throttling, server
// overload, a transport timeout, or a concurrent-operation conflict.
type TransientError struct {
	Service    string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *TransientError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s service unavailable: %v", e.Service, e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s service returned status %d (%s): %s", e.Service, e.StatusCode, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s service returned status %d: %s", e.Service, e.StatusCode, e.Message)
	}
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsConflict reports whether the provider flagged a concurrent-operation conflict.
func (e *TransientError) IsConflict() bool {
	return e.Code == CodeConcurrentOperationConflict
}

// IsConflict reports whether err carries a concurrent-operation conflict anywhere in its chain.
func IsConflict(err error) bool {
	var te *TransientError
	return errors.As(err, &te) && te.IsConflict()
}
