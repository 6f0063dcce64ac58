package otp

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable OTP failure code. The HTTP layer maps
// these 1:1 to client-visible responses.
type ErrorCode string

const (
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrBlocked         ErrorCode = "BLOCKED"
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrExpired         ErrorCode = "EXPIRED"
	ErrMaxAttempts     ErrorCode = "MAX_ATTEMPTS"
	ErrAlreadyConsumed ErrorCode = "ALREADY_CONSUMED"
	ErrInvalidCode     ErrorCode = "INVALID_CODE"
)

// Error is a typed OTP failure carrying a code and a human message.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is an OTP error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var otpErr *Error
	return errors.As(err, &otpErr) && otpErr.Code == code
}
