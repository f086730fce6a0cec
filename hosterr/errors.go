// Package hosterr defines the error taxonomy shared by every capability
// exposed across the host/guest boundary.
//
// Errors fall into four classes. Contract errors are raised by schema
// validation before the host is touched. Host errors mean the host attempted
// the operation and it failed. State errors come from control operations on
// tasks or resources in a state that forbids them. Fatal errors are not tied
// to a single call and only reach guests through global observers.
package hosterr

import (
	"errors"
	"fmt"
)

// Class groups errors by where in the boundary they originate.
type Class string

const (
	ClassContract Class = "contract"
	ClassHost     Class = "host"
	ClassState    Class = "state"
	ClassFatal    Class = "fatal"
)

// Code is a machine-readable failure code carried in fail responses.
type Code int

const (
	CodeUnknown                  Code = -1
	CodeContract                 Code = 1001
	CodeDuplicateCapability      Code = 1002
	CodeUnknownCapability        Code = 1003
	CodeUnsupportedOnHostVersion Code = 1004
	CodeInvalidState             Code = 1101
	CodeAlreadyTerminal          Code = 1102
	CodeNotFound                 Code = 1300
	CodeParentNotFound           Code = 1301
	CodeIsDirectory              Code = 1302
	CodeNotDirectory             Code = 1303
	CodeAlreadyExists            Code = 1304
	CodeDirectoryNotEmpty        Code = 1305
	CodePermissionDenied         Code = 1400
	CodeQuotaExceeded            Code = 1500
	CodeLimitExceeded            Code = 1501
	CodeAborted                  Code = 1600
	CodeNetwork                  Code = 1700
	CodeTimeout                  Code = 1701
	CodeWorkerActive             Code = 1800
	CodeInternal                 Code = 1900
)

// Sentinel errors for errors.Is checks. *Error values match the sentinel
// that corresponds to their Code, and every *Error matches the sentinel of
// its Class.
var (
	ErrContract = errors.New("contract violation")
	ErrHost     = errors.New("host failure")
	ErrState    = errors.New("invalid state")
	ErrFatal    = errors.New("fatal host condition")

	ErrDuplicateCapability      = errors.New("duplicate capability")
	ErrUnknownCapability        = errors.New("unknown capability")
	ErrUnsupportedOnHostVersion = errors.New("unsupported on host version")
	ErrInvalidState             = ErrState
	ErrAlreadyTerminal          = errors.New("already terminal")
	ErrNotFound                 = errors.New("not found")
	ErrParentNotFound           = errors.New("parent directory not found")
	ErrIsDirectory              = errors.New("path is a directory")
	ErrNotDirectory             = errors.New("path is not a directory")
	ErrAlreadyExists            = errors.New("already exists")
	ErrDirectoryNotEmpty        = errors.New("directory not empty")
	ErrPermissionDenied         = errors.New("permission denied")
	ErrQuotaExceeded            = errors.New("quota exceeded")
	ErrLimitExceeded            = errors.New("limit exceeded")
	ErrAborted                  = errors.New("aborted")
	ErrNetwork                  = errors.New("network failure")
	ErrTimeout                  = errors.New("timeout")
	ErrWorkerActive             = errors.New("worker already active")
)

var codeSentinels = map[Code]error{
	CodeDuplicateCapability:      ErrDuplicateCapability,
	CodeUnknownCapability:        ErrUnknownCapability,
	CodeUnsupportedOnHostVersion: ErrUnsupportedOnHostVersion,
	CodeAlreadyTerminal:          ErrAlreadyTerminal,
	CodeNotFound:                 ErrNotFound,
	CodeParentNotFound:           ErrParentNotFound,
	CodeIsDirectory:              ErrIsDirectory,
	CodeNotDirectory:             ErrNotDirectory,
	CodeAlreadyExists:            ErrAlreadyExists,
	CodeDirectoryNotEmpty:        ErrDirectoryNotEmpty,
	CodePermissionDenied:         ErrPermissionDenied,
	CodeQuotaExceeded:            ErrQuotaExceeded,
	CodeLimitExceeded:            ErrLimitExceeded,
	CodeAborted:                  ErrAborted,
	CodeNetwork:                  ErrNetwork,
	CodeTimeout:                  ErrTimeout,
	CodeWorkerActive:             ErrWorkerActive,
}

var classSentinels = map[Class]error{
	ClassContract: ErrContract,
	ClassHost:     ErrHost,
	ClassState:    ErrState,
	ClassFatal:    ErrFatal,
}

// Error is the concrete error type returned across the boundary.
type Error struct {
	Cause   error
	Class   Class
	Message string
	// Field is the dotted path of the offending parameter for contract errors.
	Field string
	Code  Code
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is() checks.
// This allows: errors.Is(err, hosterr.ErrNotFound) and errors.Is(err, hosterr.ErrContract).
func (e *Error) Is(target error) bool {
	if s, ok := codeSentinels[e.Code]; ok && s == target {
		return true
	}
	if s, ok := classSentinels[e.Class]; ok && s == target {
		return true
	}
	return false
}

// New returns an error with an explicit class and code.
func New(class Class, code Code, format string, args ...any) *Error {
	return &Error{
		Class:   class,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Contract returns a contract error for a parameter field.
func Contract(field, format string, args ...any) *Error {
	return &Error{
		Class:   ClassContract,
		Code:    CodeContract,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// Host returns a host-reported failure.
func Host(code Code, format string, args ...any) *Error {
	return &Error{
		Class:   ClassHost,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap returns a host-reported failure that keeps cause in its chain.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	e := Host(code, format, args...)
	e.Cause = cause
	return e
}

// State returns a state error.
func State(format string, args ...any) *Error {
	return &Error{
		Class:   ClassState,
		Code:    CodeInvalidState,
		Message: fmt.Sprintf(format, args...),
	}
}

// Terminal returns the state error raised by control calls on a finished task.
func Terminal(taskKind, state string) *Error {
	return &Error{
		Class:   ClassState,
		Code:    CodeAlreadyTerminal,
		Message: fmt.Sprintf("%s is already terminal (%s)", taskKind, state),
	}
}

// Fatal returns a process-level error delivered through global observers.
func Fatal(format string, args ...any) *Error {
	return &Error{
		Class:   ClassFatal,
		Code:    CodeInternal,
		Message: fmt.Sprintf(format, args...),
	}
}

// As extracts an *Error from err. Errors that are not *Error are reported as
// Host-class failures with CodeUnknown so the boundary stays total.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var he *Error
	if errors.As(err, &he) {
		return he
	}
	return &Error{
		Class:   ClassHost,
		Code:    CodeUnknown,
		Message: err.Error(),
		Cause:   err,
	}
}

// ClassOf returns the class of err.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	return As(err).Class
}
