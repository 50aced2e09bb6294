// Package domain defines core types, interfaces, and errors for geospatial table management.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// SchemaNotFoundError indicates the physical relation backing a table does not exist.
type SchemaNotFoundError struct {
	Schema string
	Table  string
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("relation %s.%s does not exist", e.Schema, e.Table)
}

// InvalidAttributesError is returned when a write names columns the table does not have.
type InvalidAttributesError struct {
	Keys []string
}

func (e *InvalidAttributesError) Error() string {
	return fmt.Sprintf("invalid attributes: %s", strings.Join(e.Keys, ", "))
}

// InvalidColumnNameError indicates a reserved or illegal column identifier.
type InvalidColumnNameError struct {
	Name   string
	Reason string
}

func (e *InvalidColumnNameError) Error() string {
	return fmt.Sprintf("invalid column name %q: %s", e.Name, e.Reason)
}

// InvalidTableNameError indicates an illegal or colliding table identifier.
type InvalidTableNameError struct {
	Name   string
	Reason string
}

func (e *InvalidTableNameError) Error() string {
	return fmt.Sprintf("invalid table name %q: %s", e.Name, e.Reason)
}

// UnsupportedGeometryKindError is returned for geometry kinds outside the canonical set.
type UnsupportedGeometryKindError struct {
	Kind string
}

func (e *UnsupportedGeometryKindError) Error() string {
	return fmt.Sprintf("unsupported geometry kind %q", e.Kind)
}

// InvalidGeometryFormatError is returned for malformed geometry payloads.
type InvalidGeometryFormatError struct {
	Err error
}

func (e *InvalidGeometryFormatError) Error() string {
	return fmt.Sprintf("invalid geometry format: %v", e.Err)
}

func (e *InvalidGeometryFormatError) Unwrap() error { return e.Err }

// NoWideningAvailableError terminates the widening retry loop. Cause is the
// store error that triggered the widening attempt.
type NoWideningAvailableError struct {
	Column string // empty when the offending column could not be identified
	Reason string
	Cause  error
}

func (e *NoWideningAvailableError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("no widening available: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("no widening available for column %q: %s: %v", e.Column, e.Reason, e.Cause)
}

func (e *NoWideningAvailableError) Unwrap() error { return e.Cause }

// WideningExhaustedError is returned when a write keeps failing after the
// maximum number of column widenings.
type WideningExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *WideningExhaustedError) Error() string {
	return fmt.Sprintf("write still failing after %d column widenings: %v", e.Attempts, e.Cause)
}

func (e *WideningExhaustedError) Unwrap() error { return e.Cause }

// QuotaExceededError blocks table creation for owners over their table quota.
type QuotaExceededError struct {
	OwnerID string
	Quota   int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("owner %s has reached the table quota of %d", e.OwnerID, e.Quota)
}

// PermissionPropagationError wraps a failed grant or revoke.
type PermissionPropagationError struct {
	Table  string
	Action string
	Err    error
}

func (e *PermissionPropagationError) Error() string {
	return fmt.Sprintf("propagate %s on %s: %v", e.Action, e.Table, e.Err)
}

func (e *PermissionPropagationError) Unwrap() error { return e.Err }

// PropagationIncompleteError reports a rename or destroy that left
// dependents inconsistent. Report lists every step and its outcome.
type PropagationIncompleteError struct {
	Report *ProtocolReport
}

func (e *PropagationIncompleteError) Error() string {
	var failed []string
	for _, s := range e.Report.Steps {
		if s.Status == StepFailed {
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name, s.Err))
		}
	}
	return fmt.Sprintf("%s of table %s incomplete: %s", e.Report.Operation, e.Report.TableID, strings.Join(failed, "; "))
}

// IsUserError reports whether err is a correctable input or quota error, as
// opposed to an internal or storage failure.
func IsUserError(err error) bool {
	var (
		nf  *NotFoundError
		ve  *ValidationError
		ce  *ConflictError
		ia  *InvalidAttributesError
		icn *InvalidColumnNameError
		itn *InvalidTableNameError
		ugk *UnsupportedGeometryKindError
		igf *InvalidGeometryFormatError
		qe  *QuotaExceededError
	)
	return errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &ce) ||
		errors.As(err, &ia) || errors.As(err, &icn) || errors.As(err, &itn) ||
		errors.As(err, &ugk) || errors.As(err, &igf) || errors.As(err, &qe)
}
