package interfaces

import "errors"

// Common interface errors used across components.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrExamNotFound        = errors.New("exam not found")
	ErrDetectorUnavailable = errors.New("frame detector unavailable")
)
