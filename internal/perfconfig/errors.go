package perfconfig

import (
	"errors"
	"fmt"
)

// Config error kinds. Every load failure wraps exactly one of them.
var (
	ErrMalformedStructure = errors.New("malformed structure")
	ErrInvalidResourceID  = errors.New("invalid resource id")
	ErrInvalidDefault     = errors.New("invalid default")
	ErrDanglingPair       = errors.New("dangling pair")
	ErrInvalidAction      = errors.New("invalid action")
)

// ConfigError reports a definition that cannot be loaded.
type ConfigError struct {
	Kind   error
	Source string
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %v: %s", e.Source, e.Kind, e.Detail)
}

func (e *ConfigError) Unwrap() error {
	return e.Kind
}

func configErrorf(kind error, format string, args ...any) *ConfigError {
	return &ConfigError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func withSource(err error, source string) error {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) && cfgErr.Source == "" {
		cfgErr.Source = source
	}
	return err
}
