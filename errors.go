package baggage

import (
	"fmt"
)

/*
	Error Types
*/

// ErrReadOnly is implemented by the panic value raised when a caller
// attempts to mutate a read-only map view or one of its collections.
type ErrReadOnly interface {
	ReadOnly()
	error
}

type readOnlyError string

func newErrReadOnly(msg string) ErrReadOnly {
	return readOnlyError(msg)
}

func (e readOnlyError) ReadOnly() {
}

func (e readOnlyError) Error() string {
	return string(e)
}

// errReadOnlyView is the panic value for every mutating operation on a view.
var errReadOnlyView = newErrReadOnly("unsupported operation: view is read-only")

// ErrTooManyFilteredKeys is implemented by the panic value raised when
// FilterKeys is called with more keys than the redaction bitset can mark.
type ErrTooManyFilteredKeys interface {
	MaxFilteredKeys() int
	error
}

type tooManyFilteredKeysError struct {
	max int
}

func newErrTooManyFilteredKeys(max int) ErrTooManyFilteredKeys {
	return &tooManyFilteredKeysError{max: max}
}

func (e *tooManyFilteredKeysError) MaxFilteredKeys() int {
	return e.max
}

func (e *tooManyFilteredKeysError) Error() string {
	return fmt.Sprintf("cannot filter more than %d keys", e.max)
}
