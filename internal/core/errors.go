// Package core holds the interfaces and contracts shared between the
// coordinator, its adapters, and the external collaborators (durable store,
// identity service).
package core

import (
	"errors"
	"fmt"
)

// Code is a stable, caller-facing failure code. The coordinator never lets
// anything else cross its public boundary.
type Code string

const (
	CodeInvalidInput        Code = "InvalidInput"
	CodeInvalidScheduleTime Code = "InvalidScheduleTime"
	CodeMeetingNotFound     Code = "MeetingNotFound"
	CodeMeetingLocked       Code = "MeetingLocked"
	CodePasswordRequired    Code = "PasswordRequired"
	CodeInvalidPassword     Code = "InvalidPassword"
	CodeAlreadyInMeeting    Code = "AlreadyInMeeting"
	CodeDeviceAlreadyInUse  Code = "DeviceAlreadyInMeeting"
	CodeMeetingFull         Code = "MeetingFull"
	CodeNotHostOrNotFound   Code = "NotHostOrNotFound"
	CodeNotAuthorized       Code = "NotAuthorized"
	CodeInternal            Code = "Internal"
)

// Error is the typed result every failed coordinator call returns.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithDetail attaches actionable context for the caller, e.g. the count and
// age of sessions blocking a duplicate join.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Ef(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the stable code from an error, or CodeInternal for
// anything untyped.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// AsError converts err to *Error when possible.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
