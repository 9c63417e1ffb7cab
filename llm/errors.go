package llm

import "fmt"

// ClientError is the base error type for all llm package errors.
type ClientError struct {
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// BackendError represents an error returned by an LLM backend.
type BackendError struct {
	ClientError
	Backend    string
	StatusCode int
	Retryable  bool
	RetryAfter *float64
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Backend, e.Message, e.StatusCode, e.Retryable)
}

// Concrete backend error types.

type AuthenticationError struct{ BackendError }
type InvalidRequestError struct{ BackendError }
type RateLimitError struct{ BackendError }
type ServerError struct{ BackendError }
type ContextLengthError struct{ BackendError }

// Non-backend errors.

type RequestTimeoutError struct{ ClientError }
type AbortError struct{ ClientError }
type NetworkError struct{ ClientError }
type ConfigurationError struct{ ClientError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, backend string, retryAfter *float64) error {
	be := BackendError{
		ClientError: ClientError{Message: message},
		Backend:     backend,
		StatusCode:  statusCode,
		RetryAfter:  retryAfter,
	}

	switch statusCode {
	case 400, 403, 404, 422:
		be.Retryable = false
		return &InvalidRequestError{BackendError: be}
	case 401:
		be.Retryable = false
		return &AuthenticationError{BackendError: be}
	case 408:
		return &RequestTimeoutError{ClientError: ClientError{Message: message}}
	case 413:
		be.Retryable = false
		return &ContextLengthError{BackendError: be}
	case 429:
		be.Retryable = true
		return &RateLimitError{BackendError: be}
	case 500, 502, 503, 504:
		be.Retryable = true
		return &ServerError{BackendError: be}
	default:
		// Unknown errors default to retryable.
		be.Retryable = true
		return &be
	}
}

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *BackendError:
		return e.Retryable
	case *AuthenticationError:
		return false
	case *InvalidRequestError:
		return false
	case *ContextLengthError:
		return false
	case *ConfigurationError:
		return false
	case *AbortError:
		return false
	case *RateLimitError:
		return true
	case *ServerError:
		return true
	case *NetworkError:
		return true
	case *RequestTimeoutError:
		return true
	default:
		// Unknown errors default to retryable.
		return true
	}
}
