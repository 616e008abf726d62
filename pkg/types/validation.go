package types

import (
	"regexp"
)

// Compiled once at package initialization; IDs are validated on every
// inbound request and WebSocket upgrade.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidID checks identifier format for exam, student and session IDs.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidSeverity checks an activity record severity tag.
func IsValidSeverity(severity string) bool {
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	default:
		return false
	}
}

// IsValidControlType checks a client control message type.
func IsValidControlType(msgType string) bool {
	switch msgType {
	case MessageTypeStartCalibration,
		MessageTypeTabSwitch,
		MessageTypeFullscreenExit,
		MessageTypeHeartbeat,
		MessageTypeManualSubmit,
		MessageTypeActivity:
		return true
	default:
		return false
	}
}

// Validate ensures a session is structurally sound before persistence.
func (s *Session) Validate() error {
	if !IsValidID(s.ID) {
		return ErrInvalidSessionID
	}
	if !IsValidID(s.ExamID) {
		return ErrInvalidExamID
	}
	if !IsValidID(s.StudentID) {
		return ErrInvalidStudentID
	}
	if s.MaxTabSwitches <= 0 {
		return ErrInvalidCeiling
	}
	if s.MaxViolations <= 0 {
		return ErrInvalidCeiling
	}
	if !s.EndsAt.After(s.StartedAt) {
		return ErrInvalidEndTime
	}
	return nil
}

// Validate ensures an activity record is acceptable for the audit log.
func (a *ActivityRecord) Validate() error {
	if !IsValidID(a.SessionID) {
		return ErrInvalidSessionID
	}
	if a.Type == "" || len(a.Type) > 50 {
		return ErrInvalidActivityType
	}
	if !IsValidSeverity(a.Severity) {
		return ErrInvalidSeverity
	}
	if len(a.Description) > 500 {
		return ErrDescriptionTooLong
	}
	return nil
}
