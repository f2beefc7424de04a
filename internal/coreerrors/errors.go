// Package coreerrors defines the error taxonomy shared across the ingest
// core. Each kind is a distinct type so callers can discriminate with
// errors.As instead of string matching, and constructors that accept a
// cause wrap it so errors.Is/Unwrap chains stay intact.
package coreerrors

import (
	"errors"
	"fmt"
)

// ServiceError is the base shape for ML service lifecycle failures.
type ServiceError struct {
	Message     string
	ServiceName string
	Details     map[string]any
	Cause       error
}

func (e *ServiceError) Error() string {
	if e.ServiceName != "" {
		return fmt.Sprintf("%s: %s", e.ServiceName, e.Message)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// ServiceInitializationError wraps a failure during Service.Initialize.
type ServiceInitializationError struct {
	*ServiceError
}

func NewServiceInitializationError(serviceName, message string) *ServiceInitializationError {
	return &ServiceInitializationError{&ServiceError{Message: message, ServiceName: serviceName}}
}

// NewServiceError builds a plain ServiceError, used for cleanup and other
// lifecycle failures that aren't a load/init/process/resource error.
func NewServiceError(serviceName, message string, cause error) *ServiceError {
	return &ServiceError{Message: message, ServiceName: serviceName, Cause: cause}
}

// ModelLoadError wraps a failure to load a model.
type ModelLoadError struct {
	*ServiceError
}

func NewModelLoadError(serviceName, message string, cause error) *ModelLoadError {
	return &ModelLoadError{&ServiceError{Message: message, ServiceName: serviceName, Cause: cause}}
}

// InvalidParametersError signals malformed processor parameters.
type InvalidParametersError struct {
	*ServiceError
}

func NewInvalidParametersError(serviceName, message string) *InvalidParametersError {
	return &InvalidParametersError{&ServiceError{Message: message, ServiceName: serviceName}}
}

// ProcessingError wraps a failure while running a processor over input.
type ProcessingError struct {
	*ServiceError
	InputDetails map[string]any
}

func NewProcessingError(serviceName, message string, inputDetails map[string]any, cause error) *ProcessingError {
	return &ProcessingError{
		ServiceError: &ServiceError{Message: message, ServiceName: serviceName, Cause: cause},
		InputDetails: inputDetails,
	}
}

// ResourceExhaustedError signals a resource ceiling was hit.
type ResourceExhaustedError struct {
	*ServiceError
	ResourceLimits map[string]any
	CurrentUsage   map[string]any
}

func NewResourceExhaustedError(serviceName, message string, limits, usage map[string]any) *ResourceExhaustedError {
	return &ResourceExhaustedError{
		ServiceError:   &ServiceError{Message: message, ServiceName: serviceName},
		ResourceLimits: limits,
		CurrentUsage:   usage,
	}
}

// ResourceError wraps an arbitrary failure that occurred while executing
// work under resource guard (Resource Manager's executeWithResources).
type ResourceError struct {
	Message string
	Cause   error
}

func (e *ResourceError) Error() string { return fmt.Sprintf("resource error: %s", e.Message) }
func (e *ResourceError) Unwrap() error { return e.Cause }

func NewResourceError(message string, cause error) *ResourceError {
	return &ResourceError{Message: message, Cause: cause}
}

// ValidationError carries the list of failed validation rules.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %v", e.Violations)
}

func NewValidationError(violations []string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// BrokerError wraps a transport-level failure from the broker connection core.
type BrokerError struct {
	Message string
	Cause   error
}

func (e *BrokerError) Error() string { return fmt.Sprintf("broker error: %s", e.Message) }
func (e *BrokerError) Unwrap() error { return e.Cause }

func NewBrokerError(message string, cause error) *BrokerError {
	return &BrokerError{Message: message, Cause: cause}
}

// VectorStoreError wraps a failure from a VectorStore adapter.
type VectorStoreError struct {
	Operation string
	Cause     error
}

func (e *VectorStoreError) Error() string {
	return fmt.Sprintf("vector store %s failed: %v", e.Operation, e.Cause)
}
func (e *VectorStoreError) Unwrap() error { return e.Cause }

func NewVectorStoreError(operation string, cause error) *VectorStoreError {
	return &VectorStoreError{Operation: operation, Cause: cause}
}

// NotFoundAfterWriteError signals spec's "not-found post-write" edge case:
// a batch write reported success but a follow-up read could not find the
// object.
type NotFoundAfterWriteError struct {
	ID string
}

func (e *NotFoundAfterWriteError) Error() string {
	return fmt.Sprintf("object %s not found after write", e.ID)
}

func NewNotFoundAfterWriteError(id string) *NotFoundAfterWriteError {
	return &NotFoundAfterWriteError{ID: id}
}

// As is a small convenience wrapper so callers do not need to import
// "errors" purely to discriminate a coreerrors type.
func As(err error, target any) bool { return errors.As(err, target) }

// Is re-exports errors.Is for the same reason.
func Is(err, target error) bool { return errors.Is(err, target) }
