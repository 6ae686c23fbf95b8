// Package apperr maps every failure coming out of the transport into a
// closed taxonomy. The reconciliation engine and the user-facing
// messaging both key off the same classification, so the retry policy
// and the error copy can never disagree about what went wrong.
package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Kind is the closed set of failure classes.
type Kind int

const (
	// KindNoNetwork covers name-resolution and connectivity failures.
	KindNoNetwork Kind = iota
	// KindTimeout covers elapsed-deadline failures.
	KindTimeout
	// KindServer covers any response the server produced, with a
	// machine-readable code (sent or derived from the HTTP status).
	KindServer
	// KindUnknown is everything else.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNoNetwork:
		return "no_network"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether a later reconciliation pass may succeed
// without the user changing anything. Only connectivity classes are
// retryable; server verdicts are not.
func (k Kind) Retryable() bool {
	return k == KindNoNetwork || k == KindTimeout
}

// Machine-readable codes derived from HTTP statuses when the server
// omits one. Server-sent codes (e.g. "BENCH_NOT_FOUND") pass through
// untouched.
const (
	CodeInvalidRequest     = "VALIDATION_INVALID_REQUEST"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeForbidden          = "ACCESS_FORBIDDEN"
	CodeNotFound           = "RESOURCE_NOT_FOUND"
	CodeConflict           = "RESOURCE_CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "SYSTEM_INTERNAL_ERROR"
)

// ErrUnauthenticated is returned by the transport when a request fails
// because no usable credentials exist (missing refresh token, or a
// refresh that itself failed and forced a logout).
var ErrUnauthenticated = errors.New("not authenticated")

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Code    string // set only for KindServer
	Status  int    // HTTP status, set only for KindServer
	Message string
	cause   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindServer:
		return fmt.Sprintf("server error %s (%d): %s", e.Code, e.Status, e.Message)
	default:
		if e.Message != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Message)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.cause
}

// IsStatus reports whether the failure is a server verdict with the
// given HTTP status.
func (e *Error) IsStatus(status int) bool {
	return e.Kind == KindServer && e.Status == status
}

// serverErrorBody is the primary error body contract.
type serverErrorBody struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// legacyErrorBody is the free-text fallback some older endpoints still
// produce.
type legacyErrorBody struct {
	Error string `json:"error"`
}

// CodeForStatus derives a machine-readable code from an HTTP status.
// The mapping is total: every integer status maps to exactly one code.
func CodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeInvalidRequest
	case http.StatusUnauthorized:
		return CodeInvalidCredentials
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// FromResponse classifies a non-2xx response given its status and raw
// body. Body parsing order: primary {errorCode, message}, legacy
// {error}, then the bare status line.
func FromResponse(status int, body []byte) *Error {
	var primary serverErrorBody
	if err := json.Unmarshal(body, &primary); err == nil && primary.ErrorCode != "" {
		return &Error{
			Kind:    KindServer,
			Code:    primary.ErrorCode,
			Status:  status,
			Message: primary.Message,
		}
	}

	var legacy legacyErrorBody
	if err := json.Unmarshal(body, &legacy); err == nil && legacy.Error != "" {
		return &Error{
			Kind:    KindServer,
			Code:    CodeForStatus(status),
			Status:  status,
			Message: legacy.Error,
		}
	}

	return &Error{
		Kind:    KindServer,
		Code:    CodeForStatus(status),
		Status:  status,
		Message: http.StatusText(status),
	}
}

// Classify maps any failure into the taxonomy. Already-classified
// errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	// A forced logout must surface as unauthenticated, never Unknown.
	if errors.Is(err, ErrUnauthenticated) {
		return &Error{
			Kind:    KindServer,
			Code:    CodeInvalidCredentials,
			Status:  http.StatusUnauthorized,
			Message: err.Error(),
			cause:   err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: err.Error(), cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: err.Error(), cause: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Kind: KindNoNetwork, Message: err.Error(), cause: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Error{Kind: KindNoNetwork, Message: err.Error(), cause: err}
	}

	// url.Error timeouts that carry no net typing (e.g. client-side
	// deadline wrapping) still classify as Timeout.
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: err.Error(), cause: err}
	}

	return &Error{Kind: KindUnknown, Message: err.Error(), cause: err}
}
