package funk

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid is returned for bad arguments: nil or foreign handles,
	// transactions that are not in preparation, bad geometry.
	ErrInvalid = errors.New("funk: invalid argument")

	// ErrXID is returned for a bad transaction id, or for an attempt to
	// revert a canonical record.
	ErrXID = errors.New("funk: bad xid")

	// ErrKey is returned for a record that is not live, or a key that is
	// already present.
	ErrKey = errors.New("funk: bad key")

	// ErrFrozen is returned when mutating a frozen transaction or a frozen
	// canonical state.
	ErrFrozen = errors.New("funk: frozen")

	// ErrTxnFull is returned by Prepare when the transaction map is full.
	ErrTxnFull = errors.New("funk: transaction map full")

	// ErrRecFull is returned by Insert when the record map is full.
	ErrRecFull = errors.New("funk: record map full")

	// ErrBadMagic is returned when attaching to memory that does not hold a store.
	ErrBadMagic = errors.New("funk: bad magic")

	// ErrCorrupt is wrapped by every error Verify returns.
	ErrCorrupt = errors.New("funk: corrupt")
)

// CapacityError reports a capacity parameter outside the supported range.
//
// The underlying sentinel can be accessed via errors.Unwrap.
type CapacityError struct {
	Field string
	Value int
	Limit int
	cause error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("funk: %s %d out of range [0, %d]", e.Field, e.Value, e.Limit)
}

func (e *CapacityError) Unwrap() error { return e.cause }

// CorruptionError is the panic value raised when an operation finds the
// store in an impossible state. It wraps ErrCorrupt.
type CorruptionError struct {
	Op     string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("funk: memory corruption detected in %s: %s", e.Op, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrCorrupt }

// corrupt logs the violation and panics. Continuing would spread the damage
// to every process attached to the workspace.
func (s *Store) corrupt(op, format string, args ...any) {
	err := &CorruptionError{Op: op, Reason: fmt.Sprintf(format, args...)}
	s.logger.LogCorruption(s.gaddr, err)
	panic(err)
}
