package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"
	KindAuth      ErrorKind = "auth"
	KindTransport ErrorKind = "transport"
	KindMalformed ErrorKind = "malformed_response"
)

// Sentinel errors matched with errors.Is against an *Error.
var (
	ErrTimeout           = errors.New("llm: request timed out")
	ErrAuth              = errors.New("llm: authentication failed")
	ErrTransport         = errors.New("llm: transport failure")
	ErrMalformedResponse = errors.New("llm: malformed response")
)

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider Provider
	Status   int // HTTP status, 0 when no response was received
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s %s error (%d): %s", e.Provider, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s %s error: %s", e.Provider, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrMalformedResponse:
		return e.Kind == KindMalformed
	}
	return false
}

// Classify returns the kind of err. Unclassified errors count as transport
// failures, and context deadlines count as timeouts.
func Classify(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransport
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return Classify(err) == KindAuth
}

func missingKey(p Provider) error {
	return &Error{Kind: KindAuth, Provider: p, Message: "API key is not configured"}
}

// requestError wraps a failure to get any response at all.
func requestError(p Provider, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: p, Err: err}
	}
	return &Error{Kind: KindTransport, Provider: p, Err: err}
}

// statusError maps a non-200 HTTP status to a classified error.
func statusError(p Provider, status int, body string) error {
	kind := KindTransport
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = KindAuth
	}
	if len(body) > 500 {
		body = body[:500] + "..."
	}
	return &Error{Kind: kind, Provider: p, Status: status, Message: body}
}

func malformed(p Provider, format string, args ...any) error {
	return &Error{Kind: KindMalformed, Provider: p, Message: fmt.Sprintf(format, args...)}
}
