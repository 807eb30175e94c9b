package domain

import "fmt"

// Error types for consistent error handling across the controller.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrBridgeUnavailable indicates the native host bridge could not be reached.
// Device-identifier-dependent features degrade instead of failing the flow.
type ErrBridgeUnavailable struct {
	Call string
	Err  error
}

func (e *ErrBridgeUnavailable) Error() string {
	return fmt.Sprintf("bridge unavailable [%s]: %v", e.Call, e.Err)
}

func (e *ErrBridgeUnavailable) Unwrap() error {
	return e.Err
}

// ErrInvalidState indicates a workflow event arrived in a state that does
// not accept it (including re-entrant triggers while an async step is
// pending). The event is rejected, never queued.
type ErrInvalidState struct {
	Event string
	State WorkflowState
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("event %q not allowed in state %q", e.Event, e.State)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
