package errors

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorResponse is the wire envelope for every error the gateway returns
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode"`
	Timestamp  string      `json:"timestamp"`
	RequestID  string      `json:"requestId,omitempty"`
	Retryable  *bool       `json:"retryable,omitempty"`
	Details    interface{} `json:"details,omitempty"`
	Stack      string      `json:"stack,omitempty"`
}

// ResponseBuilder renders GatewayErrors to HTTP responses. In production
// mode messages are redacted and stack traces omitted.
type ResponseBuilder struct {
	environment string
	logger      *logrus.Logger
}

// NewResponseBuilder creates a builder for the given environment
// (development, staging or production)
func NewResponseBuilder(environment string, logger *logrus.Logger) *ResponseBuilder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ResponseBuilder{environment: environment, logger: logger}
}

// Build renders err into the response envelope
func (b *ResponseBuilder) Build(err *GatewayError) ErrorResponse {
	message := err.Message
	if b.environment == "production" {
		message = Redact(message)
	}

	detail := ErrorDetail{
		Code:       string(err.Code),
		Message:    message,
		StatusCode: err.StatusCode,
		Timestamp:  err.Timestamp.UTC().Format(time.RFC3339),
		RequestID:  err.Request.RequestID,
		Details:    err.Details,
	}
	retryable := err.Retryable
	detail.Retryable = &retryable

	if b.environment == "development" && err.Cause != nil {
		detail.Stack = string(debug.Stack())
	}

	return ErrorResponse{Error: detail}
}

// Write renders err and writes it to w with the taxonomy headers
func (b *ResponseBuilder) Write(w http.ResponseWriter, err *GatewayError) {
	envelope := b.Build(err)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", string(err.Code))
	if err.Request.RequestID != "" {
		w.Header().Set("X-Request-ID", err.Request.RequestID)
	}
	if err.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60
		if details, ok := err.Details.(map[string]interface{}); ok {
			if ra, ok := details["retryAfter"].(float64); ok && ra > 0 {
				retryAfter = int(ra + 0.999)
			}
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}

	w.WriteHeader(err.StatusCode)
	if encodeErr := json.NewEncoder(w).Encode(envelope); encodeErr != nil {
		b.logger.WithError(encodeErr).Error("Failed to encode error response")
	}
}
