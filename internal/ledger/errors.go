package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a get or update targets an id that does not
// exist in the store.
var ErrNotFound = errors.New("record not found")

// ValidationError reports a record rejected before any mutation took place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ConstraintViolationError reports a foreign-key or uniqueness rule rejected
// by the store. The enclosing transaction has been rolled back in full.
type ConstraintViolationError struct {
	Op  string
	Err error
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation in %s: %v", e.Op, e.Err)
}

func (e *ConstraintViolationError) Unwrap() error { return e.Err }

// wrapDBErr maps driver errors onto the store's error taxonomy.
func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "constraint") || strings.Contains(msg, "unique") || strings.Contains(msg, "foreign key") {
		return &ConstraintViolationError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
