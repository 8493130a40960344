package security

import (
	"errors"
	"fmt"
)

// TokenError is a failure to persist or remove the token record.
type TokenError struct {
	Operation string
	Message   string
	Err       error
}

func NewTokenError(operation, message string) *TokenError {
	return &TokenError{Operation: operation, Message: message}
}

func (e *TokenError) Error() string {
	return withCause(fmt.Sprintf("token %s failed: %s", e.Operation, e.Message), e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

func (e *TokenError) WithCause(err error) *TokenError {
	e.Err = err
	return e
}

// CryptoError is a failure to seal or open the token record. On load it
// means the record is corrupt or was sealed on another machine.
type CryptoError struct {
	Operation string
	Message   string
	Err       error
}

func NewCryptoError(operation, message string) *CryptoError {
	return &CryptoError{Operation: operation, Message: message}
}

// Error leaves the cause out: it may echo key material.
func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto %s failed: %s", e.Operation, e.Message)
}

func (e *CryptoError) Unwrap() error { return e.Err }

func (e *CryptoError) WithCause(err error) *CryptoError {
	e.Err = err
	return e
}

func IsCryptoError(err error) bool {
	var cryptoErr *CryptoError
	return errors.As(err, &cryptoErr)
}

// ConfigError names the configuration key that failed validation.
type ConfigError struct {
	Field   string
	Value   string
	Message string
	Err     error
}

func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Message: message}
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	if e.Value != "" {
		msg = fmt.Sprintf("invalid %s=%q: %s", e.Field, e.Value, e.Message)
	}
	return withCause(msg, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) WithCause(err error) *ConfigError {
	e.Err = err
	return e
}

func withCause(msg string, err error) string {
	if err == nil {
		return msg
	}
	return msg + ": " + err.Error()
}
