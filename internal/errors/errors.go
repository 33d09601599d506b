// Package errors defines the gateway error taxonomy
package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies an error category with a stable wire value
type ErrorCode string

const (
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeBodyParser     ErrorCode = "BODY_PARSER_ERROR"
	ErrCodeRateLimit      ErrorCode = "RATE_LIMIT_ERROR"
	ErrCodePlugin         ErrorCode = "PLUGIN_ERROR"
	ErrCodeUpstream       ErrorCode = "UPSTREAM_ERROR"
	ErrCodeCircuitOpen    ErrorCode = "CIRCUIT_BREAKER_OPEN"
	ErrCodeConnection     ErrorCode = "CONNECTION_ERROR"
	ErrCodeTimeout        ErrorCode = "TIMEOUT_ERROR"
	ErrCodePluginTimeout  ErrorCode = "PLUGIN_TIMEOUT_ERROR"
	ErrCodeRouteNotFound  ErrorCode = "ROUTE_NOT_FOUND"
	ErrCodeGateway        ErrorCode = "GATEWAY_ERROR"
	ErrCodeAuthentication ErrorCode = "AUTH_ERROR"
)

// RequestInfo carries the request context an error occurred in
type RequestInfo struct {
	RequestID string `json:"requestId,omitempty"`
	Route     string `json:"route,omitempty"`
	Upstream  string `json:"upstream,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
}

// GatewayError is the single error type flowing through the pipeline
type GatewayError struct {
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode"`
	Retryable  bool        `json:"retryable"`
	Timestamp  time.Time   `json:"timestamp"`
	Request    RequestInfo `json:"request,omitempty"`
	Details    interface{} `json:"details,omitempty"`
	Cause      error       `json:"-"`
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code
func (e *GatewayError) Is(target error) bool {
	if t, ok := target.(*GatewayError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithRequest attaches request context to the error
func (e *GatewayError) WithRequest(info RequestInfo) *GatewayError {
	e.Request = info
	return e
}

// WithDetails attaches structured details to the error
func (e *GatewayError) WithDetails(details interface{}) *GatewayError {
	e.Details = details
	return e
}

func newError(code ErrorCode, message string, status int, retryable bool, cause error) *GatewayError {
	return &GatewayError{
		Code:       code,
		Message:    message,
		StatusCode: status,
		Retryable:  retryable,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

// ValidationError reports bad input or schema violations
func ValidationError(message string) *GatewayError {
	return newError(ErrCodeValidation, message, http.StatusBadRequest, false, nil)
}

// BodyParserError reports a malformed or oversize request body.
// status is one of 400, 408 or 413 depending on the failure mode.
func BodyParserError(message string, status int) *GatewayError {
	return newError(ErrCodeBodyParser, message, status, false, nil)
}

// RateLimitError reports a throttled request, retryable after retryAfter
func RateLimitError(message string, retryAfter float64) *GatewayError {
	err := newError(ErrCodeRateLimit, message, http.StatusTooManyRequests, true, nil)
	err.Details = map[string]interface{}{"retryAfter": retryAfter}
	return err
}

// PluginError reports a plugin that threw during a hook
func PluginError(plugin string, cause error) *GatewayError {
	return newError(ErrCodePlugin, fmt.Sprintf("plugin %q failed", plugin), http.StatusInternalServerError, false, cause)
}

// UpstreamError reports an upstream failure or unexpected response
func UpstreamError(message string, cause error) *GatewayError {
	return newError(ErrCodeUpstream, message, http.StatusBadGateway, true, cause)
}

// CircuitOpenError reports a fast-failed request behind an open circuit
func CircuitOpenError(upstream string) *GatewayError {
	return newError(ErrCodeCircuitOpen, fmt.Sprintf("circuit open for upstream %q", upstream), http.StatusServiceUnavailable, false, nil)
}

// ConnectionError reports pool saturation or a refused connection
func ConnectionError(message string, cause error) *GatewayError {
	return newError(ErrCodeConnection, message, http.StatusServiceUnavailable, true, cause)
}

// TimeoutError reports an exceeded request, upstream or connection timeout
func TimeoutError(operation string, limit time.Duration) *GatewayError {
	err := newError(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, limit), http.StatusGatewayTimeout, true, nil)
	return err
}

// PluginTimeoutError reports a hung plugin hook. Not retryable: the hook
// may have partially executed.
func PluginTimeoutError(plugin string, limit time.Duration) *GatewayError {
	return newError(ErrCodePluginTimeout, fmt.Sprintf("plugin %q hook timed out after %s", plugin, limit), http.StatusGatewayTimeout, false, nil)
}

// RouteNotFoundError reports an unmatched path
func RouteNotFoundError(method, path string) *GatewayError {
	return newError(ErrCodeRouteNotFound, fmt.Sprintf("no route for %s %s", method, path), http.StatusNotFound, false, nil)
}

// AuthenticationError reports a rejected credential
func AuthenticationError(message string) *GatewayError {
	return newError(ErrCodeAuthentication, message, http.StatusUnauthorized, false, nil)
}

// GatewayInternalError wraps an unclassified failure
func GatewayInternalError(message string, cause error) *GatewayError {
	return newError(ErrCodeGateway, message, http.StatusInternalServerError, false, cause)
}

// From converts any error to a GatewayError, classifying unknown errors
// as generic gateway failures
func From(err error) *GatewayError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GatewayError); ok {
		return ge
	}
	return GatewayInternalError("internal gateway error", err)
}

// IsRetryable reports whether the dispatch layer may retry after err
func IsRetryable(err error) bool {
	if ge, ok := err.(*GatewayError); ok {
		return ge.Retryable
	}
	return false
}
