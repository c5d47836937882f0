// ABOUTME: Error taxonomy of the generation pipeline
// ABOUTME: Sentinels for busy, lost locks, empty history and filtered output plus the lock failure type

package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when another generation holds the conversation lock.
	ErrBusy = errors.New("conversation is busy")

	// ErrNoHistory is returned by retry when there is no user turn to roll back to.
	ErrNoHistory = errors.New("no user turn in history")

	// ErrContentFilter is returned when the completion service filtered the answer.
	ErrContentFilter = errors.New("response blocked by content filter")

	// ErrIncomplete is returned when a stream ends without a finish reason.
	ErrIncomplete = errors.New("completion ended without a finish reason")

	// ErrTooManyRounds is returned when tool or continuation rounds exceed the limit.
	ErrTooManyRounds = errors.New("too many completion rounds")

	// ErrLockLost is returned when the conversation lock expired or was taken
	// over while a generation was still running.
	ErrLockLost = errors.New("conversation lock lost")
)

// LockUnavailableError reports that the shared store could not be reached
// while taking or dropping a conversation lock.
type LockUnavailableError struct {
	Conversation string
	Op           string
	Err          error
}

func (e *LockUnavailableError) Error() string {
	return fmt.Sprintf("lock %s %s: %v", e.Op, e.Conversation, e.Err)
}

func (e *LockUnavailableError) Unwrap() error {
	return e.Err
}
