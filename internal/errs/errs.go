// Package errs implements the language-neutral ErrorKind taxonomy (SPEC_FULL.md
// §7): every error that crosses a component boundary is wrapped in a *Error
// carrying one Kind, so callers classify failures with errors.As instead of
// string matching or bespoke sentinel values per package.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the seven error kinds from §7.
type Kind int

const (
	// Fatal is the zero value on purpose: an unclassified error defaults to
	// the most conservative (non-retried, loudly logged) kind.
	Fatal Kind = iota
	InvalidInput
	NotFound
	MissingCredential
	Transient
	QuotaExceeded
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case NotFound:
		return "NotFound"
	case MissingCredential:
		return "MissingCredential"
	case Transient:
		return "Transient"
	case QuotaExceeded:
		return "QuotaExceeded"
	case Cancelled:
		return "Cancelled"
	default:
		return "Fatal"
	}
}

// HTTPStatus maps a Kind to the REST surface's status code, per §7.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case MissingCredential:
		return http.StatusFailedDependency
	case Transient:
		return http.StatusServiceUnavailable
	case QuotaExceeded:
		return http.StatusTooManyRequests
	case Cancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// SSEEvent maps a Kind to the event type name the Streaming Dispatcher emits
// for it. Every kind other than MissingCredential collapses to "error".
func (k Kind) SSEEvent() string {
	if k == MissingCredential {
		return "missing_api_keys"
	}
	return "error"
}

// Error is the wrapped error type every component boundary returns.
type Error struct {
	Kind    Kind
	Message string
	// Provider/MissingKeys are populated for MissingCredential errors (§4.3):
	// the provider identifier and the missing env var names.
	Provider    string
	MissingKeys []string
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New wraps msg (and an optional cause) as the given Kind.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// MissingCred builds a MissingCredential error naming the provider and the
// env vars a caller must set, per §4.3.
func MissingCred(provider string, keys ...string) *Error {
	return &Error{Kind: MissingCredential, Message: "missing credential", Provider: provider, MissingKeys: keys}
}

// Of reports the Kind of err, defaulting to Fatal if err does not carry one.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// Is reports whether err's Kind equals k.
func Is(err error, k Kind) bool { return Of(err) == k }
