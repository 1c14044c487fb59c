// Package apperrors carries coded, human-readable errors across package
// boundaries so the HTTP layer and UI can present them unchanged.
package apperrors

import (
	"errors"
	"fmt"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidArg(msg string) error    { return New(CodeInvalidArgument, msg) }
func NotFound(msg string) error      { return New(CodeNotFound, msg) }
func AlreadyExists(msg string) error { return New(CodeAlreadyExists, msg) }
func Unauthorized(msg string) error  { return New(CodeUnauthenticated, msg) }
func Unavailable(msg string) error   { return New(CodeUnavailable, msg) }
func Internal(msg string) error      { return New(CodeInternal, msg) }

// CodeOf returns the code of the outermost AppError in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// Message returns the user-facing message of err, falling back to err.Error().
func Message(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
