package types

import "time"

// Client-to-server control message types carried as JSON text frames.
const (
	MessageTypeStartCalibration = "start_calibration"
	MessageTypeTabSwitch        = "tab_switch"
	MessageTypeFullscreenExit   = "fullscreen_exit"
	MessageTypeHeartbeat        = "heartbeat"
	MessageTypeManualSubmit     = "manual_submit"
	MessageTypeActivity         = "activity"
)

// Server-to-client notice types.
const (
	NoticeTypeCalibrationResult = "calibration_result"
	NoticeTypeViolation         = "violation_notice"
	NoticeTypeTermination       = "termination_notice"
	NoticeTypeStatus            = "status_notice"
)

// Binary frame kind prefix. Webcam frames travel as binary WebSocket
// messages: one kind byte followed by the encoded image payload.
const (
	FrameKindCalibration byte = 0x01
	FrameKindMonitoring  byte = 0x02
)

// ControlMessage is the envelope for all client-to-server JSON messages.
// Count fields reported by the client are advisory only; the session actor
// keeps its own authoritative counters.
type ControlMessage struct {
	Type string `json:"type"`

	// Advisory client-side tab switch count, recorded for audit.
	ClientTabCount int `json:"tab_switch_count,omitempty"`

	// Activity fields (Type == MessageTypeActivity).
	ActivityType string `json:"activity_type,omitempty"`
	Severity     string `json:"severity,omitempty"`
	Description  string `json:"description,omitempty"`
}

// CalibrationResult tells the client whether the baseline was established.
type CalibrationResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// ViolationNotice is a throttled user-visible warning. Count and Total
// reflect the authoritative server-side counters at emission time.
type ViolationNotice struct {
	Type      string        `json:"type"`
	Kind      ViolationKind `json:"kind"`
	Count     int           `json:"count"`
	Total     int           `json:"total"`
	Threshold int           `json:"threshold"`
	Message   string        `json:"message,omitempty"`
}

// TerminationNotice is the final, non-dismissable message sent before the
// submission side-effect completes.
type TerminationNotice struct {
	Type   string            `json:"type"`
	Reason TerminationReason `json:"reason"`
}

// StatusNotice answers a heartbeat with the authoritative session view.
type StatusNotice struct {
	Type             string       `json:"type"`
	State            SessionState `json:"state"`
	RemainingSeconds int          `json:"remaining_seconds"`
	TabSwitchCount   int          `json:"tab_switch_count"`
	TotalViolations  int          `json:"total_violations"`
	Timestamp        time.Time    `json:"timestamp"`
}
