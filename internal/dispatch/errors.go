package dispatch

import (
	"errors"
	"fmt"
)

// Request rejection kinds. A rejected request has no side effects.
var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrLengthMismatch   = errors.New("resource and value counts differ")
	ErrUnknownClient    = errors.New("unknown limit client")
	ErrUnknownResource  = errors.New("unknown resource")
	ErrValueOutOfDomain = errors.New("value outside resource domain")
	ErrInvalidMode      = errors.New("invalid device mode")
	ErrDisabled         = errors.New("boosting is disabled")
	ErrRequestTooLarge  = errors.New("request too large")
)

// RequestError wraps one of the rejection kinds with request detail.
type RequestError struct {
	Kind   error
	Detail string
}

func (e *RequestError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *RequestError) Unwrap() error {
	return e.Kind
}

func rejectf(kind error, format string, args ...any) error {
	return &RequestError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
