package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// StoreErrorMessage describes vector store failures.
	StoreErrorMessage = "vector store operation failed"
	// NoResultsMessage is returned when a similarity query matched nothing.
	NoResultsMessage = "No similar documents found.  Kindly refine your query."
	// ModelErrorMessage describes language or embedding model failures.
	ModelErrorMessage = "model invocation failed"
)

var (
	// ErrNoResults marks a retrieval that produced zero fragments.
	ErrNoResults = errors.New("no results")
	// ErrNotFound marks a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks bad caller input.
	ErrValidation = errors.New("validation failed")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// NoResults reports an empty retrieval as 404.
func NoResults() *AppError {
	return New(ErrNoResults, http.StatusNotFound, NoResultsMessage)
}

// NotFound reports a missing resource as 404.
func NotFound(message string) *AppError {
	return New(ErrNotFound, http.StatusNotFound, message)
}

// Validation reports bad input as 400. The message is returned to the caller.
func Validation(message string) *AppError {
	return New(ErrValidation, http.StatusBadRequest, message)
}

// WrapStore wraps a vector store failure with a consistent status code and message.
func WrapStore(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return New(err, http.StatusBadGateway, StoreErrorMessage)
}

// WrapModel wraps a language or embedding model failure.
func WrapModel(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return New(err, http.StatusBadGateway, ModelErrorMessage)
}

// StatusOf returns the HTTP status and safe message carried by err.
// Errors that are not AppErrors map to 500.
func StatusOf(err error) (int, string) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status, appErr.Message
	}
	return http.StatusInternalServerError, SystemErrorMessage
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}
