package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeNotFound represents lookups of URIs absent from the store
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeDuplicate represents create collisions on an existing URI
	ErrorTypeDuplicate ErrorType = "duplicate_uri"
	// ErrorTypeConflict represents move collisions on an already-taken URI
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeValidation represents malformed input (bad URI, weight out of range)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeStore represents storage-layer failures
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeRemote represents remote workspace fetch failures
	ErrorTypeRemote ErrorType = "remote"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// ErrNodeNotFound is returned when an operation references a URI absent from the store
type ErrNodeNotFound struct {
	*BaseError
	URI string
}

func NewNodeNotFound(uri string) *ErrNodeNotFound {
	return &ErrNodeNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("node not found: %s", uri), nil),
		URI:       uri,
	}
}

// Unwrap exposes the embedded base so type checks via errors.As reach it
func (e *ErrNodeNotFound) Unwrap() error { return e.BaseError }

// ErrDuplicateURI is returned when creating a node at a URI that already exists
type ErrDuplicateURI struct {
	*BaseError
	URI string
}

func NewDuplicateURI(uri string) *ErrDuplicateURI {
	return &ErrDuplicateURI{
		BaseError: NewBaseError(ErrorTypeDuplicate, fmt.Sprintf("uri already exists: %s", uri), nil),
		URI:       uri,
	}
}

func (e *ErrDuplicateURI) Unwrap() error { return e.BaseError }

// ErrMoveConflict is returned when moving a node onto a URI that is already taken
type ErrMoveConflict struct {
	*BaseError
	OldURI string
	NewURI string
}

func NewMoveConflict(oldURI, newURI string) *ErrMoveConflict {
	return &ErrMoveConflict{
		BaseError: NewBaseError(ErrorTypeConflict, fmt.Sprintf("cannot move %s: %s already exists", oldURI, newURI), nil),
		OldURI:    oldURI,
		NewURI:    newURI,
	}
}

func (e *ErrMoveConflict) Unwrap() error { return e.BaseError }

// ErrInvalidURI is returned when a URI does not parse as <scheme>://<workspace>/<path>
type ErrInvalidURI struct {
	*BaseError
	URI string
}

func NewInvalidURI(uri, reason string) *ErrInvalidURI {
	return &ErrInvalidURI{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("invalid uri %q: %s", uri, reason), nil),
		URI:       uri,
	}
}

func (e *ErrInvalidURI) Unwrap() error { return e.BaseError }

// ErrInvalidWeight is returned when a relation weight falls outside [0, 1]
type ErrInvalidWeight struct {
	*BaseError
	Weight float64
}

func NewInvalidWeight(weight float64) *ErrInvalidWeight {
	return &ErrInvalidWeight{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("relation weight %v outside [0, 1]", weight), nil),
		Weight:    weight,
	}
}

func (e *ErrInvalidWeight) Unwrap() error { return e.BaseError }

// ErrRemoteUnavailable is returned when a remote workspace fetch times out or fails
type ErrRemoteUnavailable struct {
	*BaseError
	Workspace string
}

func NewRemoteUnavailable(workspace string, err error) *ErrRemoteUnavailable {
	return &ErrRemoteUnavailable{
		BaseError: NewBaseError(ErrorTypeRemote, fmt.Sprintf("workspace unavailable: %s", workspace), err),
		Workspace: workspace,
	}
}

func (e *ErrRemoteUnavailable) Unwrap() error { return e.BaseError }

// ErrWorkspaceNotRegistered is returned when a URI names a workspace with no registry entry
type ErrWorkspaceNotRegistered struct {
	*BaseError
	Workspace string
}

func NewWorkspaceNotRegistered(workspace string) *ErrWorkspaceNotRegistered {
	return &ErrWorkspaceNotRegistered{
		BaseError: NewBaseError(ErrorTypeRemote, fmt.Sprintf("workspace not registered: %s", workspace), nil),
		Workspace: workspace,
	}
}

func (e *ErrWorkspaceNotRegistered) Unwrap() error { return e.BaseError }

// NewStoreError wraps a storage-layer failure
func NewStoreError(message string, err error) *BaseError {
	return NewBaseError(ErrorTypeStore, message, err)
}

// NewConfigError wraps a configuration failure
func NewConfigError(message string, err error) *BaseError {
	return NewBaseError(ErrorTypeConfig, message, err)
}

// IsNotFound reports whether err is a node-not-found error
func IsNotFound(err error) bool {
	var e *ErrNodeNotFound
	return errors.As(err, &e)
}

// IsDuplicate reports whether err is a duplicate-URI error
func IsDuplicate(err error) bool {
	var e *ErrDuplicateURI
	return errors.As(err, &e)
}

// IsConflict reports whether err is a move-conflict error
func IsConflict(err error) bool {
	var e *ErrMoveConflict
	return errors.As(err, &e)
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	var base *BaseError
	if errors.As(err, &base) {
		return base.Type == ErrorTypeValidation
	}
	return false
}

// IsRemote reports whether err is a remote workspace failure
func IsRemote(err error) bool {
	var base *BaseError
	if errors.As(err, &base) {
		return base.Type == ErrorTypeRemote
	}
	return false
}
