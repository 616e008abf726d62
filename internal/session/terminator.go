package session

import (
	"context"
	"log"
	"sync"
	"time"

	"proctord/pkg/interfaces"
	"proctord/pkg/types"
)

// Terminator is the idempotent finalizer for one session. Only the first
// call performs the side-effect: record the reason, notify the client,
// submit the attempt with whatever answers are persisted, and signal the
// owner to stop. Every later call is a no-op that returns the recorded
// reason. This at-most-once guarantee is the load-bearing property of the
// whole subsystem.
type Terminator struct {
	submitter interfaces.AttemptSubmitter
	notifier  Notifier

	// onDone runs exactly once after the side-effect, used by the actor to
	// stop its loops and deregister.
	onDone func(reason types.TerminationReason)

	once   sync.Once
	reason types.TerminationReason
}

// NewTerminator creates a terminator for a single session.
func NewTerminator(submitter interfaces.AttemptSubmitter, notifier Notifier, onDone func(types.TerminationReason)) *Terminator {
	return &Terminator{
		submitter: submitter,
		notifier:  notifier,
		onDone:    onDone,
	}
}

// Terminate finalizes the session. Safe to invoke multiple times; callers
// racing each other all receive the reason recorded by whichever call ran
// first. Must be invoked from the owning actor goroutine: it mutates the
// session.
func (t *Terminator) Terminate(ctx context.Context, session *types.Session, reason types.TerminationReason) types.TerminationReason {
	t.once.Do(func() {
		t.reason = reason

		session.State = types.StateTerminating
		session.TerminationReason = reason
		now := time.Now()
		session.TerminatedAt = &now

		log.Printf("Terminating session %s: reason=%s violations=%d tab_switches=%d",
			session.ID, reason, session.TotalViolations(), session.TabSwitchCount)

		// Final notice goes out before the submission side-effect completes.
		if t.notifier != nil {
			t.notifier.NotifyTermination(session.ID, &types.TerminationNotice{
				Type:   types.NoticeTypeTermination,
				Reason: reason,
			})
		}

		if err := t.submitter.SubmitAttempt(ctx, session.ID, reason); err != nil {
			// The attempt row still carries the reason; submission failures
			// are surfaced for operators, not retried into a double-submit.
			log.Printf("Attempt submission failed for session %s: %v", session.ID, err)
		}

		session.Submitted = true
		session.State = types.StateTerminated

		if t.onDone != nil {
			t.onDone(reason)
		}
	})

	return t.reason
}

// Reason returns the recorded termination reason, empty until the first
// Terminate call completes its side-effect.
func (t *Terminator) Reason() types.TerminationReason {
	return t.reason
}
