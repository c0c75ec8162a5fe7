package unifiedllm

import (
	"errors"
	"fmt"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an LLM provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type QuotaExceededError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type StreamErrorType struct{ SDKError }
type ConfigurationError struct{ SDKError }

// BudgetExceededError is raised before a request once the accumulated
// session spend has reached the configured budget.
type BudgetExceededError struct {
	SDKError
	Spend float64
	Limit float64
}

// NewBudgetExceededError builds a BudgetExceededError for the given spend and limit.
func NewBudgetExceededError(spend, limit float64) *BudgetExceededError {
	return &BudgetExceededError{
		SDKError: SDKError{Message: fmt.Sprintf("max budget exceeded: spent $%.4f of $%.4f", spend, limit)},
		Spend:    spend,
		Limit:    limit,
	}
}

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, cause error, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message, Cause: cause},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 402:
		return &QuotaExceededError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: SDKError{Message: message, Cause: cause}}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		// Unknown errors default to retryable.
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable returns true if the error is safe to retry. Wrapped errors
// are classified by the first typed error in their chain.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		auth     *AuthenticationError
		denied   *AccessDeniedError
		notFound *NotFoundError
		invalid  *InvalidRequestError
		ctxLen   *ContextLengthError
		quota    *QuotaExceededError
		filter   *ContentFilterError
		cfg      *ConfigurationError
		budget   *BudgetExceededError
		abort    *AbortError
		rate     *RateLimitError
		server   *ServerError
		network  *NetworkError
		stream   *StreamErrorType
		timeout  *RequestTimeoutError
		provider *ProviderError
	)
	switch {
	case errors.As(err, &auth), errors.As(err, &denied), errors.As(err, &notFound),
		errors.As(err, &invalid), errors.As(err, &ctxLen), errors.As(err, &quota),
		errors.As(err, &filter), errors.As(err, &cfg), errors.As(err, &budget),
		errors.As(err, &abort):
		return false
	case errors.As(err, &rate), errors.As(err, &server), errors.As(err, &network),
		errors.As(err, &stream), errors.As(err, &timeout):
		return true
	case errors.As(err, &provider):
		return provider.Retryable
	default:
		// Unknown errors default to retryable.
		return true
	}
}
