// Package apperr defines the error taxonomy returned by every exchange
// operation. Expected failures (missing rows, bad input, shortfalls) are
// values of *Error carrying a Code; anything else is an Exception.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies a failure.
type Code int

const (
	OK Code = iota
	NotFound
	Invalid
	InsufficientFunds
	InsufficientHoldings
	Duplicate
	Conflict
	Exception
)

var codeNames = map[Code]string{
	OK:                   "ok",
	NotFound:             "not_found",
	Invalid:              "invalid",
	InsufficientFunds:    "insufficient_funds",
	InsufficientHoldings: "insufficient_holdings",
	Duplicate:            "duplicate",
	Conflict:             "conflict",
	Exception:            "exception",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrNotFound             = &Error{Code: NotFound}
	ErrInvalid              = &Error{Code: Invalid}
	ErrInsufficientFunds    = &Error{Code: InsufficientFunds}
	ErrInsufficientHoldings = &Error{Code: InsufficientHoldings}
	ErrDuplicate            = &Error{Code: Duplicate}
	ErrConflict             = &Error{Code: Conflict}
	ErrException            = &Error{Code: Exception}
)

// Error is a structured failure: a code plus a human-readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New returns an *Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf is New with fmt formatting.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap converts err into an *Error. Errors that already carry a code keep
// it; foreign errors become Exception with msg as context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Code: Exception, Message: msg, Err: err}
}

// CodeOf extracts the Code from err. nil is OK; foreign errors are Exception.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return Exception
}
