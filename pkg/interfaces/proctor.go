package interfaces

import (
	"context"

	"proctord/pkg/types"
)

// FrameDetector is the opaque vision capability. Implementations must bound
// the call with the caller's context; a timeout or transport failure is
// reported as ErrDetectorUnavailable and is never counted as a violation.
type FrameDetector interface {
	EvaluateFrame(ctx context.Context, frame []byte) (*types.FrameResult, error)
}

// AttemptSubmitter finalizes an attempt with whatever answers have been
// persisted so far. It must be safe to call while answers are still being
// saved; the termination coordinator guarantees it is called at most once
// per session.
type AttemptSubmitter interface {
	SubmitAttempt(ctx context.Context, sessionID string, reason types.TerminationReason) error
}

// ActivityLogger records behavior events. Delivery is best-effort: callers
// log failures and move on, the state machine never blocks on it.
type ActivityLogger interface {
	LogActivity(ctx context.Context, record *types.ActivityRecord) error
}

// StatusSource reports faculty-side control decisions for a session. Actors
// poll it at a fixed interval so an externally triggered termination is
// observed within one polling interval.
type StatusSource interface {
	PollStatus(ctx context.Context, sessionID string) (*types.StatusReport, error)
}
