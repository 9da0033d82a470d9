// Package apperr defines the error taxonomy shared by the catalog, storage and
// upload layers, and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed or missing input. Nothing has been mutated
// when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports that a referenced product, image or object does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// UploadError reports that the blob store rejected an upload.
type UploadError struct {
	Err     error
	Message string
}

func (e *UploadError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// TransientError reports a backend failure that may succeed on a later attempt
// (timeouts, throttling, connection resets).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// UnknownError wraps an unexpected backend failure. The message is the raw
// backend message.
type UnknownError struct {
	Err error
}

func (e *UnknownError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

func (e *UnknownError) Unwrap() error { return e.Err }

// Validation builds a ValidationError.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFoundError for an integer identifier.
func NotFound(resource string, id int) error {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

// Unknown wraps err as an UnknownError unless it is already classified.
func Unknown(err error) error {
	if err == nil || Classified(err) {
		return err
	}
	return &UnknownError{Err: err}
}

// Classified reports whether err (or anything it wraps) is one of the taxonomy types.
func Classified(err error) bool {
	var (
		v *ValidationError
		n *NotFoundError
		u *UploadError
		t *TransientError
		k *UnknownError
	)
	return errors.As(err, &v) || errors.As(err, &n) || errors.As(err, &u) ||
		errors.As(err, &t) || errors.As(err, &k)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// HTTPStatus maps an error onto the status code returned to API clients.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
