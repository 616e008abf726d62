package types

import (
	"strings"
	"testing"
	"time"
)

func validSession() *Session {
	s := NewSession()
	s.ID = "0f1e2d3c-aaaa-bbbb-cccc-000011112222"
	s.ExamID = "exam_42"
	s.StudentID = "student-7"
	s.MaxTabSwitches = 3
	s.MaxViolations = 6
	s.StartedAt = time.Now()
	s.EndsAt = time.Now().Add(time.Hour)
	return s
}

func TestIsValidID(t *testing.T) {
	valid := []string{"a", "exam-1", "student_42", "ABC123", strings.Repeat("x", 64)}
	for _, id := range valid {
		if !IsValidID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}

	invalid := []string{"", "has space", "semi;colon", "sql'inject", strings.Repeat("x", 65), "slash/id"}
	for _, id := range invalid {
		if IsValidID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestSessionValidate(t *testing.T) {
	if err := validSession().Validate(); err != nil {
		t.Errorf("valid session rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Session)
		wantErr error
	}{
		{"bad session id", func(s *Session) { s.ID = "nope nope" }, ErrInvalidSessionID},
		{"bad exam id", func(s *Session) { s.ExamID = "" }, ErrInvalidExamID},
		{"bad student id", func(s *Session) { s.StudentID = "x y" }, ErrInvalidStudentID},
		{"zero tab ceiling", func(s *Session) { s.MaxTabSwitches = 0 }, ErrInvalidCeiling},
		{"negative violation ceiling", func(s *Session) { s.MaxViolations = -1 }, ErrInvalidCeiling},
		{"end before start", func(s *Session) { s.EndsAt = s.StartedAt.Add(-time.Minute) }, ErrInvalidEndTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSession()
			tt.mutate(s)
			if err := s.Validate(); err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTotalViolationsSumsAllKinds(t *testing.T) {
	s := validSession()
	s.Violations[ViolationNoFace] = 2
	s.Violations[ViolationMultipleFaces] = 1
	s.Violations[ViolationLookingAway] = 3

	if total := s.TotalViolations(); total != 6 {
		t.Errorf("expected 6, got %d", total)
	}
}

func TestRemainingSecondsNeverNegative(t *testing.T) {
	s := validSession()
	now := s.StartedAt

	if got := s.RemainingSeconds(now); got != 3600 {
		t.Errorf("expected 3600, got %d", got)
	}
	if got := s.RemainingSeconds(s.EndsAt.Add(time.Minute)); got != 0 {
		t.Errorf("expected 0 past the end, got %d", got)
	}
}

func TestIsTerminal(t *testing.T) {
	s := validSession()
	for state, want := range map[SessionState]bool{
		StateAwaitingCalibration: false,
		StateCalibrating:         false,
		StateMonitoring:          false,
		StateTerminating:         true,
		StateTerminated:          true,
	} {
		s.State = state
		if s.IsTerminal() != want {
			t.Errorf("state %s: IsTerminal = %t, want %t", state, s.IsTerminal(), want)
		}
	}
}

func TestActivityRecordValidate(t *testing.T) {
	record := &ActivityRecord{
		SessionID:   "sess-1",
		Type:        "copy_attempt",
		Severity:    SeverityLow,
		Description: "ctrl+c pressed",
	}
	if err := record.Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}

	bad := *record
	bad.Severity = "critical"
	if err := bad.Validate(); err != ErrInvalidSeverity {
		t.Errorf("expected ErrInvalidSeverity, got %v", err)
	}

	long := *record
	long.Description = strings.Repeat("x", 501)
	if err := long.Validate(); err != ErrDescriptionTooLong {
		t.Errorf("expected ErrDescriptionTooLong, got %v", err)
	}
}
