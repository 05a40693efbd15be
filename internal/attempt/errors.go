package attempt

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadySubmitted is returned by a second Submit on the same session, and
	// when starting over an attempt that was already submitted.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	// ErrUnknownQuestion is returned when a response targets a question outside the attempt.
	ErrUnknownQuestion = errors.New("question is not part of this attempt")
	// ErrNoQuestions is returned when a session would start with nothing to answer.
	ErrNoQuestions = errors.New("attempt has no valid questions")
	// ErrTimerSpent is returned when starting a timer that already ran.
	ErrTimerSpent = errors.New("countdown timer cannot be restarted")
)

// PersistError collects the record writes that failed while finalizing an attempt.
// It is informational: the attempt is COMPLETED in memory regardless.
type PersistError struct {
	Failures []FailedWrite
}

func (e *PersistError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s: %s", f.Kind, f.RecordID(), f.Reason))
	}
	return fmt.Sprintf("persist attempt: %d write(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}
