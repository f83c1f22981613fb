// Package errors provides error handling for the readonly query core.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrInvalidConstraint) {
//	    // handle construction-time rejection
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors for the query core.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrInvalidConstraint indicates a leaf query was built from a malformed
	// or contradictory constraint specification. Rejected before any store
	// access happens.
	ErrInvalidConstraint = New("invalid constraint")

	// ErrInvariantViolated indicates a query combination that the
	// canonicalization step is supposed to make impossible, such as
	// injecting a cross-cutting filter into a node already carrying the
	// same filter family. Seeing this error means a bug upstream.
	ErrInvariantViolated = New("query invariant violated")

	// ErrUnknownSource indicates a source name that is not part of the
	// readonly schema's source registry.
	ErrUnknownSource = New("unknown source")

	// ErrUnknownType indicates a statement type name with no assigned
	// type number in the readonly schema.
	ErrUnknownType = New("unknown statement type")
)

// IsInvalidConstraint checks if an error is or wraps ErrInvalidConstraint.
func IsInvalidConstraint(err error) bool {
	return err != nil && Is(err, ErrInvalidConstraint)
}

// IsInvariantViolated checks if an error is or wraps ErrInvariantViolated.
func IsInvariantViolated(err error) bool {
	return err != nil && Is(err, ErrInvariantViolated)
}

// NewInvalidConstraintError creates an invalid-constraint error with a
// formatted message.
func NewInvalidConstraintError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidConstraint, Newf(format, args...).Error())
}
