// Copyright 2024 Canonical.

// Package errors contains types to help handle errors in the system.
package errors

import (
	"fmt"

	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"
)

// An Error is an error in the keyturn system.
type Error struct {
	// Op is the operation that errored.
	Op Op

	// Code is a code attached to the error.
	Code Code

	// Message is a human-readable error description.
	Message string

	// Err contains the underlying error, if there is one.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return string(e.Code)
	}
	return "unknown error"
}

// Unwrap implements the Unwrap method used by errors.Unwrap.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode returns the value of this error's Code.
func (e *Error) ErrorCode() string {
	return string(e.Code)
}

// E constructs errors for use throughout the keyturn application. An
// error is constructed by processing the given arguments. The meaning of
// the arguments is as follows:
//
//	errors.Op   - string representation of the operation being
//	              performed.
//	errors.Code - string code classifying the error.
//	error       - underlying error that caused the new error.
//	string      - A human readable message describing the error.
//
// E will panic if no arguments are provided.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("call to errors.E with no arguments")
	}
	var setCode bool
	var e Error
	for _, arg := range args {
		switch v := arg.(type) {
		case Op:
			e.Op = v
		case Code:
			setCode = true
			e.Code = v
		case error:
			e.Err = v
		case string:
			e.Message = v
		default:
			zapctx.Default.DPanic("unknown type passed to errors.E", zap.String("type", fmt.Sprintf("%T", arg)), zap.Any("value", arg))
			return fmt.Errorf("unknown type (%T) passed to errors.E", arg)
		}
	}
	if setCode {
		return &e
	}
	// The caller didn't explicitly set the code for this error, attempt
	// to copy the code from the wrapped error.
	if ec, ok := e.Err.(interface{ ErrorCode() string }); ok {
		e.Code = Code(ec.ErrorCode())
	}
	return &e
}

// An Op describes the operation being performed that caused the error.
type Op string

// A Code is a code which describes the class of error.
type Code string

const (
	// CodeAlreadyExists indicates a creation attempt for a resource
	// that is already present, for example origin metadata for a KID
	// that was already recorded.
	CodeAlreadyExists Code = "already exists"

	// CodeBadRequest indicates a malformed argument: an invalid
	// domain, a non-object payload, a non-positive TTL or a missing
	// callback.
	CodeBadRequest Code = "bad request"

	// CodeConflict indicates a benign serialization failure such as a
	// rotation lease held by another process.
	CodeConflict Code = "conflict"

	// CodeCryptoFailure indicates an unrecoverable failure in a
	// cryptographic primitive, such as a private key that cannot be
	// imported or a signature that cannot be produced.
	CodeCryptoFailure Code = "crypto failure"

	// CodeIntegrityViolation indicates a broken system invariant, for
	// example a domain with no active KID after a rollback. These
	// errors must propagate.
	CodeIntegrityViolation Code = "integrity violation"

	// CodeNoActiveKey indicates a signing attempt against a domain
	// that has no active key.
	CodeNoActiveKey Code = "no active key"

	// CodeNotFound indicates a missing KID, key file, metadata record
	// or rotation policy.
	CodeNotFound Code = "not found"

	// CodePayloadTooLarge indicates a signing payload exceeding the
	// configured maximum after canonical serialization.
	CodePayloadTooLarge Code = "payload too large"

	// CodeServerConfiguration indicates invalid service configuration.
	CodeServerConfiguration Code = "server configuration"

	// CodeUnavailable indicates a transient failure, typically I/O,
	// that the caller may retry.
	CodeUnavailable Code = "unavailable"
)

// ErrorCode returns the error code from the given error.
func ErrorCode(err error) Code {
	e, ok := err.(*Error)
	if !ok {
		return ""
	}
	return e.Code
}
