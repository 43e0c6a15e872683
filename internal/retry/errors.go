package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Class is the error taxonomy every remote failure is reduced to.
type Class int

const (
	ClassNone Class = iota
	ClassTransient
	ClassServerFault
	ClassValidation
	ClassAuth
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassServerFault:
		return "server_fault"
	case ClassValidation:
		return "validation"
	case ClassAuth:
		return "auth"
	default:
		return "none"
	}
}

// TransientNetworkError is a connection-level failure: timeout, reset, refused.
type TransientNetworkError struct {
	Err error
}

func (e *TransientNetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ServerFault is a 5xx response or an unreadable reply.
type ServerFault struct {
	Status int
	Err    error
}

func (e *ServerFault) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("server error %d: %v", e.Status, e.Err)
	}
	return "server error: " + e.Err.Error()
}
func (e *ServerFault) Unwrap() error { return e.Err }

// ValidationError is a user-correctable rejection. Message is shown verbatim.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return e.Err }

// AuthError is a 401/403. The session must be treated as invalid.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string { return fmt.Sprintf("not authorized (%d): %v", e.Status, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// StatusCoder is implemented by transport errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// UserMessager is implemented by transport errors that carry a server message.
type UserMessager interface {
	UserMessage() string
}

// Classify maps err onto the taxonomy. Already classified errors are
// returned unchanged; nil stays nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if ClassOf(err) != ClassNone {
		return err
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		status := sc.StatusCode()
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &AuthError{Status: status, Err: err}
		case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
			return &TransientNetworkError{Err: err}
		case status >= 500:
			return &ServerFault{Status: status, Err: err}
		case status >= 400:
			msg := err.Error()
			var um UserMessager
			if errors.As(err, &um) && um.UserMessage() != "" {
				msg = um.UserMessage()
			}
			return &ValidationError{Message: msg, Err: err}
		}
	}

	if isConnectionError(err) {
		return &TransientNetworkError{Err: err}
	}
	return &ServerFault{Err: err}
}

// ClassOf reports the class of an already classified error.
func ClassOf(err error) Class {
	var (
		tn *TransientNetworkError
		sf *ServerFault
		ve *ValidationError
		ae *AuthError
	)
	switch {
	case err == nil:
		return ClassNone
	case errors.As(err, &ae):
		return ClassAuth
	case errors.As(err, &ve):
		return ClassValidation
	case errors.As(err, &tn):
		return ClassTransient
	case errors.As(err, &sf):
		return ClassServerFault
	}
	return ClassNone
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
