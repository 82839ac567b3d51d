package coordinator

import (
	"errors"
	"fmt"

	"github.com/dreamware/strumspace/internal/service"
)

var (
	// ErrInvalidRequest is matched by every validation failure.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInternal is matched by unexpected failures inside the pipeline.
	ErrInternal = errors.New("internal error")
	// ErrServiceNotFound is returned by the registry for unknown names.
	ErrServiceNotFound = errors.New("service not found")
)

// Kind classifies a RequestError.
type Kind string

const (
	KindInvalidRequest    Kind = "InvalidRequest"
	KindRemoteTimeout     Kind = "RemoteTimeout"
	KindRemoteUnavailable Kind = "RemoteUnavailable"
	KindInternal          Kind = "InternalError"
)

// internalMessage is all a caller learns about an internal failure.
const internalMessage = "We encountered an issue processing your request. Please try again."

// RequestError is the typed error carried by a failed request.
type RequestError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Is lets errors.Is match a RequestError against the sentinel for its kind.
func (e *RequestError) Is(target error) bool {
	switch e.Kind {
	case KindInvalidRequest:
		return target == ErrInvalidRequest
	case KindInternal:
		return target == ErrInternal
	case KindRemoteTimeout:
		return target == service.ErrRemoteTimeout
	case KindRemoteUnavailable:
		return target == service.ErrRemoteUnavailable
	}
	return false
}

func invalidRequest(format string, args ...any) *RequestError {
	return &RequestError{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func internalError(err error) *RequestError {
	return &RequestError{Kind: KindInternal, Message: internalMessage, Err: err}
}

// classifyRemote maps a client error onto a RequestError kind.
func classifyRemote(err error) *RequestError {
	switch {
	case errors.Is(err, service.ErrRemoteTimeout):
		return &RequestError{Kind: KindRemoteTimeout, Message: "remote service timed out", Err: err}
	case errors.Is(err, service.ErrBadResponse):
		return internalError(err)
	default:
		return &RequestError{Kind: KindRemoteUnavailable, Message: "remote service unavailable", Err: err}
	}
}

// ErrorInfo is the wire form of a RequestError. Internal details never
// appear in it.
type ErrorInfo struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func errorInfo(err error) *ErrorInfo {
	var re *RequestError
	if !errors.As(err, &re) {
		return &ErrorInfo{Kind: KindInternal, Message: internalMessage}
	}
	return &ErrorInfo{Kind: re.Kind, Message: re.Message}
}
