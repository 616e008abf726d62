package types

import "errors"

// Validation errors shared by every component that accepts external input.
var (
	ErrInvalidSessionID    = errors.New("session ID must be 1-64 characters, alphanumeric + underscore/hyphen")
	ErrInvalidExamID       = errors.New("exam ID must be 1-64 characters, alphanumeric + underscore/hyphen")
	ErrInvalidStudentID    = errors.New("student ID must be 1-64 characters, alphanumeric + underscore/hyphen")
	ErrInvalidCeiling      = errors.New("violation and tab-switch ceilings must be positive")
	ErrInvalidEndTime      = errors.New("session end time must be after start time")
	ErrInvalidActivityType = errors.New("activity type must be 1-50 characters")
	ErrInvalidSeverity     = errors.New("severity must be low, medium or high")
	ErrDescriptionTooLong  = errors.New("activity description exceeds 500 characters")
)
