package domain

import (
	"errors"
	"fmt"
)

// Common errors used throughout the application.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrBusy                = errors.New("resource busy")
	ErrCredentialRetrieval = errors.New("credential retrieval failed")
	ErrInterpolation       = errors.New("interpolation failed")
	ErrRemoteAgent         = errors.New("remote agent error")
	ErrResultPersistence   = errors.New("result persistence failed")
	ErrUpdateFinalized     = errors.New("update already finalized")
)

// BusyError is returned when an operation is already running against a resource.
type BusyError struct {
	ResourceID string
	Operation  string
}

// Error implements the error interface.
func (e *BusyError) Error() string {
	return fmt.Sprintf("resource %s is busy: %s in progress", e.ResourceID, e.Operation)
}

// Is reports whether target is ErrBusy.
func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

// APIError represents an error response from the API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	// UpdateID names the Update that recorded a failed execution, if any.
	UpdateID string `json:"update_id,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}
