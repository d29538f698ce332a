package packguard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/packguard/permission"
)

// Taxonomy roots. Every error returned by the Engine matches exactly one of
// these with errors.Is.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrValidation            = errors.New("validation error")
	ErrConflict              = errors.New("conflict")
	ErrNotFound              = errors.New("not found")
	ErrRateLimited           = errors.New("rate limited")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

var (
	ErrInvalidToken       = kindError(ErrUnauthorized, "invalid or expired token")
	ErrInvalidCredentials = kindError(ErrUnauthorized, "invalid credentials")
	ErrIdentityInactive   = kindError(ErrUnauthorized, "account inactive")
	ErrNoChallenge        = kindError(ErrUnauthorized, "no two-factor challenge pending, request a new code")
	ErrCodeExpired        = kindError(ErrUnauthorized, "two-factor code expired, request a new code")
	ErrInvalidCode        = kindError(ErrUnauthorized, "invalid two-factor code")
	ErrTooManyAttempts    = kindError(ErrRateLimited, "too many two-factor attempts, request a new code")
	ErrLoginThrottled     = kindError(ErrRateLimited, "too many failed logins, try again later")
	ErrSelfDeletion       = kindError(ErrForbidden, "cannot delete your own account")
	ErrOwnerImmutable     = kindError(ErrForbidden, "document owner cannot be granted, changed or revoked through shares")
	ErrVersionConflict    = kindError(ErrConflict, "record was modified concurrently")
	ErrEmailTaken         = kindError(ErrConflict, "email already registered")
	ErrCodeDispatch       = kindError(ErrDependencyUnavailable, "could not send two-factor code, try again")
)

// Stable client error codes.
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeExpired            = "CODE_EXPIRED"
	CodeTooManyAttempts    = "TOO_MANY_ATTEMPTS"
	CodeInvalidCode        = "INVALID_CODE"
	CodeValidation         = "VALIDATION_ERROR"
	CodeConflict           = "CONFLICT"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// kindedError is a client-safe error that belongs to one taxonomy root.
type kindedError struct {
	kind error
	msg  string
}

func kindError(kind error, msg string) error { return &kindedError{kind: kind, msg: msg} }

func (e *kindedError) Error() string { return e.msg }
func (e *kindedError) Unwrap() error { return e.kind }

func invalidf(format string, args ...any) error {
	return &kindedError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

func notFound(what string) error {
	return &kindedError{kind: ErrNotFound, msg: what + " not found"}
}

// ForbiddenError is returned when authorization denies one or more actions.
type ForbiddenError struct {
	Missing []permission.Action
	Reason  string
}

func (e *ForbiddenError) Error() string {
	if len(e.Missing) == 0 {
		return "forbidden"
	}
	names := make([]string, len(e.Missing))
	for i, a := range e.Missing {
		names[i] = string(a)
	}
	return "forbidden: missing " + strings.Join(names, ", ")
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// ErrorCode maps err to its stable client code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCodeExpired), errors.Is(err, ErrNoChallenge):
		return CodeExpired
	case errors.Is(err, ErrTooManyAttempts):
		return CodeTooManyAttempts
	case errors.Is(err, ErrInvalidCode):
		return CodeInvalidCode
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrDependencyUnavailable):
		return CodeServiceUnavailable
	default:
		return CodeInternal
	}
}

// PublicMessage returns a message safe to show a client. Store and driver
// errors collapse to a generic message.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var forbidden *ForbiddenError
	if errors.As(err, &forbidden) {
		return forbidden.Error()
	}
	var kinded *kindedError
	if errors.As(err, &kinded) {
		return kinded.msg
	}
	for _, root := range []error{
		ErrUnauthorized, ErrForbidden, ErrValidation, ErrConflict,
		ErrNotFound, ErrRateLimited, ErrDependencyUnavailable,
	} {
		if errors.Is(err, root) {
			return root.Error()
		}
	}
	return "internal error"
}
