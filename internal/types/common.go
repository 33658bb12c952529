// Package types provides unified type definitions for the pyvidia API
package types

import (
	"fmt"
	"time"
)

// ErrorCode represents unified error codes
type ErrorCode string

const (
	ErrDeviceNotFound   ErrorCode = "DEVICE_NOT_FOUND"
	ErrSeriesNotFound   ErrorCode = "SERIES_NOT_FOUND"
	ErrSnapshotNotFound ErrorCode = "SNAPSHOT_NOT_FOUND"
	ErrFileNotFound     ErrorCode = "FILE_NOT_FOUND"
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrFetchFailed      ErrorCode = "FETCH_FAILED"
	ErrParseFailed      ErrorCode = "PARSE_FAILED"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrUnavailable      ErrorCode = "UNAVAILABLE"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// String returns the string representation of the error code
func (e ErrorCode) String() string {
	return string(e)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error
func (e ErrorCode) HTTPStatusCode() int {
	switch e {
	case ErrDeviceNotFound, ErrSeriesNotFound, ErrSnapshotNotFound, ErrFileNotFound:
		return 404
	case ErrInvalidRequest:
		return 400
	case ErrTimeout:
		return 408
	case ErrFetchFailed, ErrParseFailed:
		return 502
	case ErrUnavailable:
		return 503
	default:
		return 500
	}
}

// ErrorInfo represents detailed error information
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// Error returns a formatted error message
func (e *ErrorInfo) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ResponseMeta represents metadata included in API responses
type ResponseMeta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
	Latency   int64  `json:"latency,omitempty"` // milliseconds
}

// NewResponseMeta creates a new ResponseMeta with current timestamp
func NewResponseMeta(requestID string) *ResponseMeta {
	return &ResponseMeta{
		Timestamp: time.Now().Format(time.RFC3339),
		RequestID: requestID,
	}
}

// ApiResponse represents a unified API response format
type ApiResponse[T any] struct {
	Success  bool          `json:"success"`
	Data     T             `json:"data,omitempty"`
	Error    *ErrorInfo    `json:"error,omitempty"`
	Metadata *ResponseMeta `json:"metadata,omitempty"`
}

// NewSuccessResponse creates a successful API response
func NewSuccessResponse[T any](data T, requestID string) *ApiResponse[T] {
	return &ApiResponse[T]{
		Success:  true,
		Data:     data,
		Metadata: NewResponseMeta(requestID),
	}
}

// NewErrorResponse creates an error API response
func NewErrorResponse(code ErrorCode, message string, requestID string) *ApiResponse[struct{}] {
	return &ApiResponse[struct{}]{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
		Metadata: NewResponseMeta(requestID),
	}
}

// NewErrorResponseWithDetails creates an error API response with details
func NewErrorResponseWithDetails(code ErrorCode, message, details string, requestID string) *ApiResponse[struct{}] {
	return &ApiResponse[struct{}]{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
		Metadata: NewResponseMeta(requestID),
	}
}
