package transport

import (
	"errors"
	"fmt"
)

// Kind categorizes a failed cart or order call.
type Kind string

const (
	// KindUnauthenticated means no usable token was present; nothing was sent.
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	// KindAuthExpired means the token was rejected (401) or found expired locally.
	KindAuthExpired Kind = "AUTH_EXPIRED_OR_INVALID"
	// KindForbidden means the token was accepted but lacks privilege (403).
	KindForbidden Kind = "FORBIDDEN"
	// KindNotFound means the target line or order no longer exists.
	KindNotFound Kind = "NOT_FOUND"
	// KindValidation is a precondition failure detected before or by the server.
	KindValidation Kind = "VALIDATION"
	// KindNetwork means the request could not complete, timeouts included.
	KindNetwork Kind = "NETWORK"
	// KindServer covers 5xx, unexpected statuses and unreadable bodies.
	KindServer Kind = "SERVER"
)

// Error is the typed failure returned by every Client call.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status=%d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not a transport error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsKind reports whether err is a transport error of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsAuth reports whether err should force the session to log out.
// Forbidden is an auth failure that keeps the session.
func IsAuth(err error) bool {
	k := KindOf(err)
	return k == KindUnauthenticated || k == KindAuthExpired
}

// UserMessage is the short text shown to a person for err.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindUnauthenticated:
		return "Please log in to continue."
	case KindAuthExpired:
		return "Your session has expired. Please log in again."
	case KindForbidden:
		return "Access denied. Please check your permissions."
	case KindNotFound:
		return "That item is no longer in your cart."
	case KindValidation:
		var te *Error
		if errors.As(err, &te) && te.Message != "" {
			return te.Message
		}
		return "The request was not valid."
	case KindNetwork:
		return "Network error. Please check your connection and try again."
	case KindServer:
		return "Something went wrong. Please try again."
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// NewError builds an Error for failures detected outside an HTTP exchange.
func NewError(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Message: msg}
}

func newError(op string, kind Kind, status int, msg string, err error) *Error {
	return &Error{Op: op, Kind: kind, Status: status, Message: msg, Err: err}
}
