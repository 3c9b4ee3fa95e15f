package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Generation pipeline error codes
const (
	ErrParse             ErrorCode = "PARSE_ERROR"
	ErrUpstreamError     ErrorCode = "UPSTREAM_ERROR"
	ErrMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	ErrQuotaExhausted    ErrorCode = "QUOTA_EXHAUSTED"
	ErrTimeout           ErrorCode = "TIMEOUT"
)

// Transport / upstream status codes
const (
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrModelOverloaded    ErrorCode = "MODEL_OVERLOADED"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
)

// Service error codes
const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrMethodNotAllowed  ErrorCode = "METHOD_NOT_ALLOWED"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrConfiguration     ErrorCode = "CONFIGURATION"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	// Raw 保存上游原始响应体或无法解析的模型输出，便于诊断
	Raw   string `json:"raw,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithRaw attaches the raw upstream body or model text.
func (e *Error) WithRaw(raw string) *Error {
	e.Raw = raw
	return e
}

// =============================================================================
// 常用错误构造
// =============================================================================

// NewParseError 模型输出中找不到可解析的 JSON 对象
func NewParseError(text string, cause error) *Error {
	return NewError(ErrParse, "no parsable JSON object in model output").
		WithCause(cause).
		WithRaw(text)
}

// NewUpstreamError 上游返回非 2xx
func NewUpstreamError(status int, body string) *Error {
	return NewError(ErrUpstreamError, fmt.Sprintf("upstream returned status %d", status)).
		WithHTTPStatus(status).
		WithRaw(body)
}

// NewMalformedResponseError 上游返回 2xx 但载荷不可用
func NewMalformedResponseError(message, body string) *Error {
	return NewError(ErrMalformedResponse, message).WithRaw(body)
}

// NewQuotaExhaustedError 额度耗尽，不重试，原样展示给用户
func NewQuotaExhaustedError(status int, body string) *Error {
	return NewError(ErrQuotaExhausted, "API quota exhausted, check the account balance").
		WithHTTPStatus(status).
		WithRaw(body)
}

// NewTimeoutError 上游调用超时
func NewTimeoutError(message string, cause error) *Error {
	return NewError(ErrTimeout, message).WithCause(cause)
}

// =============================================================================
// 错误工具链
// =============================================================================

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
