package vela

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("vela: record not found")

	// ErrInvalidModel is matched by every model build failure.
	ErrInvalidModel = errors.New("vela: invalid model")

	// ErrReadOnly is returned when a read-only session is asked to mutate.
	ErrReadOnly = errors.New("vela: session is read-only")

	// ErrSaveInProgress is returned when SaveChanges is re-entered on a
	// session that is already saving.
	ErrSaveInProgress = errors.New("vela: save already in progress")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("vela: session closed")

	// ErrConflict is matched by every ConflictError.
	ErrConflict = errors.New("vela: concurrent update conflict")

	// ErrDeleteBlocked is matched by every DeleteBlockedError.
	ErrDeleteBlocked = errors.New("vela: delete blocked by references")

	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("vela: validation failed")
)

// NotFoundError represents an error when a record is not found.
type NotFoundError struct {
	entity string
	key    any
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.key != nil {
		return fmt.Sprintf("vela: %s not found (key=%v)", e.entity, e.key)
	}
	return fmt.Sprintf("vela: %s not found", e.entity)
}

// Is reports whether the target error matches NotFoundError.
func (e *NotFoundError) Is(err error) bool { return err == ErrNotFound }

// Entity returns the entity name.
func (e *NotFoundError) Entity() string { return e.entity }

// Key returns the primary key that was searched for, if available.
func (e *NotFoundError) Key() any { return e.key }

// NewNotFoundError returns a new NotFoundError.
func NewNotFoundError(entity string, key any) *NotFoundError {
	return &NotFoundError{entity: entity, key: key}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// LogLevel grades a model build log entry.
type LogLevel uint8

// Log levels.
const (
	LevelInfo LogLevel = iota
	LevelWarning
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	default:
		return "error"
	}
}

// LogEntry is a model build log message.
type LogEntry struct {
	Level   LogLevel
	Message string
}

func (e LogEntry) String() string { return e.Level.String() + ": " + e.Message }

// ModelError aggregates the error entries of a failed model build.
type ModelError struct {
	Entries []LogEntry
}

// Error returns the error string.
func (e *ModelError) Error() string {
	switch len(e.Entries) {
	case 0:
		return "vela: invalid model"
	case 1:
		return "vela: invalid model: " + e.Entries[0].Message
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "vela: invalid model (%d errors):", len(e.Entries))
	for i, entry := range e.Entries {
		fmt.Fprintf(&sb, "\n  [%d] %s", i+1, entry.Message)
	}
	return sb.String()
}

// Is reports whether the target error matches ErrInvalidModel.
func (e *ModelError) Is(err error) bool { return err == ErrInvalidModel }

// IsModelError returns true if the error is a ModelError.
func IsModelError(err error) bool {
	if err == nil {
		return false
	}
	var e *ModelError
	return errors.As(err, &e)
}

// FaultCode classifies a validation fault.
type FaultCode string

// Fault codes.
const (
	FaultValueMissing FaultCode = "ValueMissing"
	FaultValueTooLong FaultCode = "ValueTooLong"
	FaultCustom       FaultCode = "Custom"
)

// Fault is one validation failure of one record member.
type Fault struct {
	Entity  string
	Key     string
	Member  string
	Code    FaultCode
	Message string
}

func (f Fault) String() string {
	if f.Member == "" {
		return fmt.Sprintf("%s(%s): %s", f.Entity, f.Key, f.Message)
	}
	return fmt.Sprintf("%s(%s).%s: %s", f.Entity, f.Key, f.Member, f.Message)
}

// ValidationError carries every fault found across all changed records.
type ValidationError struct {
	Faults []Fault
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	if len(e.Faults) == 1 {
		return "vela: validation failed: " + e.Faults[0].String()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "vela: validation failed (%d faults):", len(e.Faults))
	for _, f := range e.Faults {
		sb.WriteString("\n  ")
		sb.WriteString(f.String())
	}
	return sb.String()
}

// Is reports whether the target error matches ErrValidation.
func (e *ValidationError) Is(err error) bool { return err == ErrValidation }

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// CommandError annotates a storage failure with the failing command.
type CommandError struct {
	SQL  string
	Args []any
	Err  error
}

// Error returns the error string.
func (e *CommandError) Error() string {
	return fmt.Sprintf("vela: executing %q (args=%v): %v", e.SQL, e.Args, e.Err)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error { return e.Err }

// IsCommandError returns true if the error is a CommandError.
func IsCommandError(err error) bool {
	if err == nil {
		return false
	}
	var e *CommandError
	return errors.As(err, &e)
}

// ConflictError reports an update or delete that matched no row, which
// means the row version or the row itself changed since it was read.
type ConflictError struct {
	Entity string
	Key    any
	Op     string
}

// Error returns the error string.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("vela: %s %s (key=%v) matched no rows", e.Op, e.Entity, e.Key)
}

// Is reports whether the target error matches ErrConflict.
func (e *ConflictError) Is(err error) bool { return err == ErrConflict }

// IsConflict returns true if the error is a ConflictError.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var e *ConflictError
	return errors.As(err, &e)
}

// DeleteBlockedError reports the entities whose rows still reference a
// record that was asked to be deleted.
type DeleteBlockedError struct {
	Entity   string
	Key      any
	Blocking []string
}

// Error returns the error string.
func (e *DeleteBlockedError) Error() string {
	return fmt.Sprintf("vela: cannot delete %s (key=%v): referenced by %s",
		e.Entity, e.Key, strings.Join(e.Blocking, ", "))
}

// Is reports whether the target error matches ErrDeleteBlocked.
func (e *DeleteBlockedError) Is(err error) bool { return err == ErrDeleteBlocked }

// IsDeleteBlocked returns true if the error is a DeleteBlockedError.
func IsDeleteBlocked(err error) bool {
	if err == nil {
		return false
	}
	var e *DeleteBlockedError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("vela: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error { return e.wrap }

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("vela: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error { return e.Err }

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "vela: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("vela: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error { return e.Errors }

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}
