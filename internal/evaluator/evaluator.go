package evaluator

import (
	"time"

	"proctord/pkg/types"
)

// Classification is the outcome category for one monitoring frame.
type Classification string

const (
	ClassOK            Classification = "ok"
	ClassNoFace        Classification = "no_face"
	ClassMultipleFaces Classification = "multiple_faces"
	ClassLookingAway   Classification = "looking_away"
	ClassInconclusive  Classification = "inconclusive"
)

// Config holds the threshold and throttling policy for frame evaluation.
type Config struct {
	// Deviation thresholds in degrees relative to the session baseline.
	SoftDeviation float64
	HardDeviation float64

	// Minimum time before a sustained deviation is counted again.
	DeviationCooldown time.Duration

	// Warning frequency divisors per kind: a user-visible warning fires on
	// every k-th occurrence, every occurrence counts toward the threshold.
	WarnEveryNoFace        int
	WarnEveryMultipleFaces int
	WarnEveryLookingAway   int
}

// Outcome reports what one evaluation did to the session.
type Outcome struct {
	Classification Classification

	// Counted is true when a violation counter was incremented.
	Counted bool
	Kind    types.ViolationKind
	Count   int // per-kind count after increment
	Total   int // combined total after increment

	// Warn is true when a user-visible notice should fire.
	Warn bool

	// Verdict is set when the combined total reached the ceiling.
	Verdict *types.TerminationReason
}

// Evaluator classifies one frame at a time for a single session. It is
// never invoked concurrently with itself; the owning actor serializes
// evaluations and drops frames that arrive while one is in flight.
type Evaluator struct {
	config Config

	// Sustained-deviation tracking: once a hard deviation is counted, the
	// same episode is not counted again until the cooldown elapses or the
	// subject returns below the soft threshold and deviates again.
	deviationActive bool
}

// New creates a per-session evaluator.
func New(config Config) *Evaluator {
	return &Evaluator{config: config}
}

// Evaluate applies one frame result to the session counters. A detector
// error means the frame is inconclusive: no counter changes, never treated
// as no_face. The session is owned by the calling actor, so mutation here
// is race-free.
func (e *Evaluator) Evaluate(session *types.Session, result *types.FrameResult, err error, now time.Time) Outcome {
	if err != nil || result == nil {
		return Outcome{Classification: ClassInconclusive}
	}

	switch {
	case result.FaceCount == 0:
		return e.count(session, types.ViolationNoFace, ClassNoFace, e.config.WarnEveryNoFace, now)

	case result.FaceCount > 1:
		return e.count(session, types.ViolationMultipleFaces, ClassMultipleFaces, e.config.WarnEveryMultipleFaces, now)

	default:
		return e.evaluatePose(session, result, now)
	}
}

// evaluatePose handles the single-face path against the calibrated baseline.
func (e *Evaluator) evaluatePose(session *types.Session, result *types.FrameResult, now time.Time) Outcome {
	baseline := 0.0
	if session.Baseline != nil {
		baseline = *session.Baseline
	}
	deviation := result.Deviation - baseline
	if deviation < 0 {
		deviation = -deviation
	}

	if deviation <= e.config.SoftDeviation {
		// Back to normal: the current deviation episode is over.
		e.deviationActive = false
		return Outcome{Classification: ClassOK}
	}

	if deviation <= e.config.HardDeviation {
		// Soft zone sustains an active episode but never starts a count.
		return Outcome{Classification: ClassOK}
	}

	// Hard deviation. Count only if this is a fresh episode or the cooldown
	// has elapsed since the last counted occurrence.
	lastCounted := session.LastViolationAt[types.ViolationLookingAway]
	if e.deviationActive && now.Sub(lastCounted) < e.config.DeviationCooldown {
		return Outcome{Classification: ClassLookingAway}
	}

	e.deviationActive = true
	return e.count(session, types.ViolationLookingAway, ClassLookingAway, e.config.WarnEveryLookingAway, now)
}

// count increments a violation counter, decides warning throttling and
// checks the combined ceiling.
func (e *Evaluator) count(session *types.Session, kind types.ViolationKind, class Classification, warnEvery int, now time.Time) Outcome {
	session.Violations[kind]++
	session.LastViolationAt[kind] = now

	count := session.Violations[kind]
	total := session.TotalViolations()

	outcome := Outcome{
		Classification: class,
		Counted:        true,
		Kind:           kind,
		Count:          count,
		Total:          total,
	}

	if warnEvery > 0 && count%warnEvery == 0 {
		outcome.Warn = true
	}

	if total >= session.MaxViolations {
		reason := types.ReasonViolationThreshold
		outcome.Verdict = &reason
	}

	return outcome
}
