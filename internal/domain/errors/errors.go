package errors

import (
	"errors"
	"fmt"
)

var (
	// Subscription errors
	ErrSubscriptionNotFound    = errors.New("subscription not found")
	ErrTenantNotFound          = errors.New("tenant not found")
	ErrUnsupportedTier         = errors.New("unsupported tier")
	ErrUnsupportedCycle        = errors.New("unsupported billing cycle")
	ErrUnsupportedCurrency     = errors.New("unsupported currency")
	ErrMissingAuthorization    = errors.New("no stored payment authorization")
	ErrMissingSubscriptionCode = errors.New("no stored subscription code")
	ErrPriceUnavailable        = errors.New("price unavailable for tier")

	// Gateway errors
	ErrGatewayUnavailable       = errors.New("payment gateway unavailable")
	ErrGatewayDeclined          = errors.New("charge declined by gateway")
	ErrGatewayTimeout           = errors.New("gateway request timeout")
	ErrGatewayMalformedResponse = errors.New("malformed gateway response")

	// FX errors
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// Webhook errors
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrDuplicateWebhook   = errors.New("duplicate webhook delivery")
	ErrForbiddenOrigin    = errors.New("webhook origin not allowed")
	ErrUnsupportedContent = errors.New("unsupported content type")

	// Secret errors
	ErrDecryptFailed = errors.New("failed to decrypt stored secret")

	// Job queue errors
	ErrEnqueueFailed = errors.New("failed to enqueue job")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ConfigError marks a missing or invalid credential detected at construction
// time. Fatal, never retried.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing or invalid configuration: %s", e.Field)
}

// NewConfigError creates a new configuration error
func NewConfigError(field string) *ConfigError {
	return &ConfigError{Field: field}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
