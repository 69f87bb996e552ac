// Package errors provides structured error handling with machine-readable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionInvalidID Code = "SESSION_INVALID_ID"
	CodeSessionExists    Code = "SESSION_EXISTS"

	// Storage errors
	CodeNotFound           Code = "NOT_FOUND"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeStorageFailure     Code = "STORAGE_FAILURE"
	CodeBlobRead           Code = "BLOB_READ"

	// Request errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodePayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// BadRequest - validation failures, bad input
	case CodeSessionInvalidID,
		CodeInvalidArgument:
		return http.StatusBadRequest

	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return http.StatusNotFound

	// Conflict - unique resource constraint
	case CodeSessionExists:
		return http.StatusConflict

	// ServiceUnavailable - the pool could not hand out a connection in time
	case CodeStorageUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
