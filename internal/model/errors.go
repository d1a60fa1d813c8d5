package model

import (
	"errors"
)

// Code is the variant tag of a domain error.
type Code string

const (
	CodeUnauthorized       Code = "unauthorized"
	CodeRecordNotFound     Code = "record_not_found"
	CodeNoActiveListing    Code = "no_active_listing"
	CodeNotStaked          Code = "not_staked"
	CodeInsufficientFunds  Code = "insufficient_funds"
	CodeInvalidTimestamp   Code = "invalid_timestamp"
	CodeArithmeticOverflow Code = "arithmetic_overflow"
	CodeInvalidRequest     Code = "invalid_request"
)

// Error is a domain failure tagged with its Code. Two errors match under
// errors.Is when their codes are equal, so a wrapped sentinel from one
// package still matches the same variant from another.
type Error struct {
	Code Code
	Msg  string
}

// NewError creates a tagged error.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func (e *Error) Error() string {
	return e.Msg
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the code from err, or "" when err is not a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ErrInvalidRequest marks malformed input that never reached an engine rule.
var ErrInvalidRequest = NewError(CodeInvalidRequest, "invalid request")
