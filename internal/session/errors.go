package session

import "errors"

// Session lifecycle error types.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionTerminated  = errors.New("session already terminated")
	ErrSessionStopped     = errors.New("session actor stopped")
	ErrAttemptInProgress  = errors.New("attempt already in progress")
	ErrAttemptSubmitted   = errors.New("attempt already submitted")
	ErrExamEnded          = errors.New("exam has ended")
	ErrStudentMismatch    = errors.New("session belongs to a different student")
	ErrActorAlreadyExists = errors.New("actor already registered for session")
)
