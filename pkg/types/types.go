package types

import (
	"time"
)

// SessionState tracks the lifecycle of a proctored attempt. Transitions are
// forward-only except Calibrating -> AwaitingCalibration on a failed
// calibration burst.
type SessionState string

const (
	StateAwaitingCalibration SessionState = "awaiting_calibration"
	StateCalibrating         SessionState = "calibrating"
	StateMonitoring          SessionState = "monitoring"
	StateTerminating         SessionState = "terminating"
	StateTerminated          SessionState = "terminated"
)

// ViolationKind identifies a frame-level violation classification.
type ViolationKind string

const (
	ViolationNoFace        ViolationKind = "no_face"
	ViolationMultipleFaces ViolationKind = "multiple_faces"
	ViolationLookingAway   ViolationKind = "looking_away"
)

// ViolationKinds lists all counted kinds in a stable order.
var ViolationKinds = []ViolationKind{
	ViolationNoFace,
	ViolationMultipleFaces,
	ViolationLookingAway,
}

// TerminationReason records why an attempt was finalized. It is set exactly
// once, by the first trigger processed in the session's serial event order.
type TerminationReason string

const (
	ReasonTimeExpired        TerminationReason = "time_expired"
	ReasonViolationThreshold TerminationReason = "violation_threshold"
	ReasonTabSwitchLimit     TerminationReason = "tab_switch_limit"
	ReasonFullscreenExit     TerminationReason = "fullscreen_exit"
	ReasonFacultyForced      TerminationReason = "faculty_forced"
	ReasonManual             TerminationReason = "manual"
)

// Session is the per-attempt monitoring state. It is owned by exactly one
// session actor; nothing else mutates it after creation.
type Session struct {
	ID        string `json:"id"`
	ExamID    string `json:"exam_id"`
	StudentID string `json:"student_id"`

	State    SessionState `json:"state"`
	Baseline *float64     `json:"baseline,omitempty"`

	Violations      map[ViolationKind]int       `json:"violations"`
	LastViolationAt map[ViolationKind]time.Time `json:"-"`

	TabSwitchCount  int       `json:"tab_switch_count"`
	LastTabSwitchAt time.Time `json:"-"`

	// Ceilings fixed at session creation from the exam row.
	MaxTabSwitches int `json:"max_tab_switches"`
	MaxViolations  int `json:"max_violations"`

	// Proctored disables frame evaluation entirely when false; time,
	// tab-switch and faculty triggers still apply.
	Proctored bool `json:"proctored"`

	StartedAt time.Time `json:"started_at"`
	// EndsAt is the authoritative end time. Remaining time is always derived
	// from it, never from a client-decremented counter.
	EndsAt time.Time `json:"ends_at"`

	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
	TerminatedAt      *time.Time        `json:"terminated_at,omitempty"`
	Submitted         bool              `json:"submitted"`
}

// NewSession creates a session in its initial state with counter maps
// initialized. Callers fill identity, ceilings and timing.
func NewSession() *Session {
	return &Session{
		State:           StateAwaitingCalibration,
		Violations:      make(map[ViolationKind]int),
		LastViolationAt: make(map[ViolationKind]time.Time),
	}
}

// TotalViolations sums the per-kind counters. This is the only total used in
// termination decisions; client-reported totals are advisory.
func (s *Session) TotalViolations() int {
	total := 0
	for _, kind := range ViolationKinds {
		total += s.Violations[kind]
	}
	return total
}

// RemainingSeconds derives remaining time from the authoritative end time.
func (s *Session) RemainingSeconds(now time.Time) int {
	remaining := s.EndsAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return int(remaining / time.Second)
}

// IsTerminal reports whether the session has begun or finished termination.
func (s *Session) IsTerminal() bool {
	return s.State == StateTerminating || s.State == StateTerminated
}

// Exam carries the per-exam configuration and faculty control flags that
// sessions read at creation and poll while running.
type Exam struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	DurationMinutes  int        `json:"duration_minutes"`
	MaxTabSwitches   int        `json:"max_tab_switches"`
	MaxViolations    int        `json:"max_violations"`
	EnableProctoring bool       `json:"enable_proctoring"`
	EndsAt           *time.Time `json:"ends_at,omitempty"`
	ForceEnded       bool       `json:"force_ended"`
	ForceEndedAt     *time.Time `json:"force_ended_at,omitempty"`
}

// FrameResult is the outcome of one vision evaluation. Deviation is the
// head-pose deviation magnitude in degrees and is meaningful only when
// FaceCount == 1.
type FrameResult struct {
	FaceCount int     `json:"face_count"`
	Deviation float64 `json:"deviation"`
}

// StatusReport is one observation of faculty-side session control.
type StatusReport struct {
	FacultyForcedEnd bool       `json:"faculty_forced_end"`
	UpdatedEndTime   *time.Time `json:"updated_end_time,omitempty"`
}

// ViolationRecord is the audit row persisted for every counted violation.
type ViolationRecord struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Kind      ViolationKind `json:"kind"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}

// ActivityRecord captures a behavior event (tab switch, clipboard attempt,
// devtools shortcut). Activity logging is best-effort and never feeds
// termination decisions.
type ActivityRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Activity severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Answer is one persisted answer for an in-progress attempt. Submission
// finalizes with whatever answers have been saved so far.
type Answer struct {
	SessionID  string    `json:"session_id"`
	QuestionID string    `json:"question_id"`
	Value      string    `json:"value"`
	UpdatedAt  time.Time `json:"updated_at"`
}
