package protect

import (
	"errors"
	"fmt"
)

// ValidationError reports a structural invariant violated by a mutation. The
// mutation was rolled back; committed state is untouched.
type ValidationError struct {
	Invariant string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed [%s]: %v", e.Invariant, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SequenceGapError reports inconsistent internal sequence bookkeeping.
// Defensive: unreachable under correct use.
type SequenceGapError struct {
	ConversationID string
	Expected       int
	Got            int
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap in conversation %s: expected %d, got %d",
		e.ConversationID, e.Expected, e.Got)
}

// BackupFailure means the pre-mutation snapshot could not be taken. The
// operation fails closed: no mutation was applied.
type BackupFailure struct {
	Err error
}

func (e *BackupFailure) Error() string {
	return fmt.Sprintf("backup failed, mutation not applied: %v", e.Err)
}

func (e *BackupFailure) Unwrap() error { return e.Err }

// RollbackFailure is fatal: the store is in an unknown state and requires
// manual intervention. The guard halts all further writes until cleared.
type RollbackFailure struct {
	Store string
	Err   error
}

func (e *RollbackFailure) Error() string {
	return fmt.Sprintf("FATAL: rollback of %s store failed, state unknown, writes halted: %v",
		e.Store, e.Err)
}

func (e *RollbackFailure) Unwrap() error { return e.Err }

// ErrWritesHalted is returned for every mutation attempted after a rollback
// failure, until an operator clears the halt.
var ErrWritesHalted = errors.New("writes halted pending manual intervention after rollback failure")
