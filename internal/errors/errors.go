// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials       = errors.New("invalid username or password")
	ErrUnknownSubscriptionToken = errors.New("subscription token is not associated with any subscriber")
	ErrIssueNotFound            = errors.New("newsletter issue not found")
	ErrIdempotencyWaitTimeout   = errors.New("timed out waiting for in-flight request with the same idempotency key")
)

// ValidationError is a malformed client payload. Nothing has been written
// when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError reports that another request owns the same idempotency key.
type ConflictError struct {
	OwnerID string
	Key     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q for owner %s is already in use", e.Key, e.OwnerID)
}

func NewConflict(ownerID, key string) error {
	return &ConflictError{OwnerID: ownerID, Key: key}
}

// TransactionError wraps a database failure that aborted a whole command.
// Retrying the command is safe.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func NewTransaction(op string, err error) error {
	return &TransactionError{Op: op, Err: err}
}

// TransientDeliveryError is an email transport failure worth retrying
// (5xx, throttling, timeouts, connection errors).
type TransientDeliveryError struct {
	StatusCode int
	Err        error
}

func (e *TransientDeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient delivery failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

func NewTransientDelivery(statusCode int, err error) error {
	return &TransientDeliveryError{StatusCode: statusCode, Err: err}
}

// FatalDeliveryError is an email transport failure that will not succeed on
// retry (rejected recipient, malformed request).
type FatalDeliveryError struct {
	StatusCode int
	Err        error
}

func (e *FatalDeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fatal delivery failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fatal delivery failure: %v", e.Err)
}

func (e *FatalDeliveryError) Unwrap() error { return e.Err }

func NewFatalDelivery(statusCode int, err error) error {
	return &FatalDeliveryError{StatusCode: statusCode, Err: err}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsTransaction(err error) bool {
	var target *TransactionError
	return errors.As(err, &target)
}

// IsFatal reports whether a delivery error must not be retried. Any error
// that is not explicitly fatal is treated as transient by the worker.
func IsFatal(err error) bool {
	var target *FatalDeliveryError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	return err != nil && !IsFatal(err)
}
