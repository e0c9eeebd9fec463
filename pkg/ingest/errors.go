package ingest

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an ingest error so callers can map it to a user-visible result.
type ErrorClass string

const (
	// ErrorClassValidation indicates malformed or missing input, such as an empty key,
	// an empty event type or an unsupported packaging profile.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassDuplicateKey indicates an insert on a key that is already present.
	ErrorClassDuplicateKey ErrorClass = "duplicate_key"

	// ErrorClassNotFound indicates an update, removal or lookup on an absent key or deposit.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassPackage indicates that a deposited package could not be accepted,
	// typically because extraction failed.
	ErrorClassPackage ErrorClass = "package"

	// ErrorClassPhaseExecution indicates that a phase service failed.
	// The failure is recorded as an ingest.fail event; an operator must fix the
	// cause and resume the deposit.
	ErrorClassPhaseExecution ErrorClass = "phase_execution"

	// ErrorClassInternal indicates a failure in an internal collaborator (id allocation,
	// archive, report generation).
	ErrorClassInternal ErrorClass = "internal"
)

// IngestError is a classified error with deposit context.
// nolint:revive // IngestError is intentionally named to distinguish from standard errors
type IngestError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// DepositID is the deposit the error relates to, if any.
	DepositID string `json:"deposit_id,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *IngestError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.DepositID != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (deposit=%s, operation=%s)", msg, e.DepositID, e.Operation)
	} else if e.DepositID != "" {
		msg = fmt.Sprintf("%s (deposit=%s)", msg, e.DepositID)
	} else if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *IngestError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an IngestError with the same class and code.
func (e *IngestError) Is(target error) bool {
	t, ok := target.(*IngestError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// ErrorClass returns the class as a plain string for metric labels.
func (e *IngestError) ErrorClass() string { return string(e.Class) }

// ErrorCode returns the error code.
func (e *IngestError) ErrorCode() string { return e.Code }

func newError(class ErrorClass, code, message string, err error) *IngestError {
	return &IngestError{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *IngestError {
	return newError(ErrorClassValidation, ErrCodeValidation, message, nil)
}

// NewDuplicateKeyError creates a duplicate key error for the given key.
func NewDuplicateKeyError(key string) *IngestError {
	return newError(ErrorClassDuplicateKey, ErrCodeAlreadyExists,
		fmt.Sprintf("key %q already exists", key), nil).WithDetail("key", key)
}

// NewNotFoundError creates a not found error for the given key.
func NewNotFoundError(key string) *IngestError {
	return newError(ErrorClassNotFound, ErrCodeNotFound,
		fmt.Sprintf("key %q not found", key), nil).WithDetail("key", key)
}

// NewPackageError creates a package error for the given deposit.
func NewPackageError(depositID, message string, err error) *IngestError {
	return newError(ErrorClassPackage, ErrCodeUnpackFailed, message, err).WithDeposit(depositID)
}

// NewPhaseFailure creates a phase execution failure.
func NewPhaseFailure(depositID string, phase int, serviceID string, err error) *IngestError {
	return newError(ErrorClassPhaseExecution, ErrCodeServiceFailed,
		fmt.Sprintf("phase %d service %s failed", phase, serviceID), err).
		WithDeposit(depositID).
		WithDetail("phase", phase).
		WithDetail("service", serviceID)
}

// NewInternalError creates an internal error.
func NewInternalError(message string, err error) *IngestError {
	return newError(ErrorClassInternal, ErrCodeInternal, message, err)
}

// WithDeposit adds deposit context to an error.
func (e *IngestError) WithDeposit(depositID string) *IngestError {
	e.DepositID = depositID
	return e
}

// WithOperation adds operation context to an error.
func (e *IngestError) WithOperation(operation string) *IngestError {
	e.Operation = operation
	return e
}

// WithCode overrides the error code.
func (e *IngestError) WithCode(code string) *IngestError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *IngestError) WithDetail(key string, value interface{}) *IngestError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *IngestError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// ClassOf returns the class of err, or ErrorClassInternal for unclassified errors.
func ClassOf(err error) ErrorClass {
	var e *IngestError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassInternal
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool { return hasClass(err, ErrorClassValidation) }

// IsDuplicateKey returns true if the error is classified as a duplicate key error.
func IsDuplicateKey(err error) bool { return hasClass(err, ErrorClassDuplicateKey) }

// IsNotFound returns true if the error is classified as a not found error.
func IsNotFound(err error) bool { return hasClass(err, ErrorClassNotFound) }

// IsPackage returns true if the error is classified as a package error.
func IsPackage(err error) bool { return hasClass(err, ErrorClassPackage) }

// IsPhaseFailure returns true if the error is classified as a phase execution failure.
func IsPhaseFailure(err error) bool { return hasClass(err, ErrorClassPhaseExecution) }

// Common error codes.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeAlreadyExists      = "ALREADY_EXISTS"
	ErrCodeUnsupportedPackage = "UNSUPPORTED_PACKAGING"
	ErrCodeUnpackFailed       = "UNPACK_FAILED"
	ErrCodeServiceFailed      = "SERVICE_FAILED"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)
