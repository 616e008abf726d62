package session

import (
	"context"
	"sync"
	"testing"

	"proctord/pkg/types"
)

func TestTerminateRunsSideEffectOnce(t *testing.T) {
	store := newMockStore()
	notifier := newMockNotifier()

	var doneReasons []types.TerminationReason
	term := NewTerminator(store, notifier, func(reason types.TerminationReason) {
		doneReasons = append(doneReasons, reason)
	})

	session := monitoringSession()

	first := term.Terminate(context.Background(), session, types.ReasonTimeExpired)
	second := term.Terminate(context.Background(), session, types.ReasonManual)

	if first != types.ReasonTimeExpired || second != types.ReasonTimeExpired {
		t.Errorf("expected both calls to report time_expired, got %s then %s", first, second)
	}
	if n := store.submissionCount(); n != 1 {
		t.Errorf("expected 1 submission, got %d", n)
	}
	if len(doneReasons) != 1 {
		t.Errorf("onDone ran %d times", len(doneReasons))
	}
	if session.State != types.StateTerminated || !session.Submitted {
		t.Errorf("session not finalized: state=%s submitted=%t", session.State, session.Submitted)
	}
	if session.TerminationReason != types.ReasonTimeExpired {
		t.Errorf("wrong recorded reason %s", session.TerminationReason)
	}
	if session.TerminatedAt == nil {
		t.Error("terminated_at not set")
	}
}

func TestTerminateConcurrentCallersAgreeOnReason(t *testing.T) {
	store := newMockStore()
	term := NewTerminator(store, newMockNotifier(), nil)
	session := monitoringSession()

	reasons := []types.TerminationReason{
		types.ReasonTimeExpired,
		types.ReasonViolationThreshold,
		types.ReasonTabSwitchLimit,
		types.ReasonFullscreenExit,
		types.ReasonManual,
	}

	results := make([]types.TerminationReason, len(reasons))
	var wg sync.WaitGroup
	for i, reason := range reasons {
		wg.Add(1)
		go func(i int, reason types.TerminationReason) {
			defer wg.Done()
			results[i] = term.Terminate(context.Background(), session, reason)
		}(i, reason)
	}
	wg.Wait()

	winner := results[0]
	for i, got := range results {
		if got != winner {
			t.Errorf("caller %d saw %s, winner was %s", i, got, winner)
		}
	}
	if n := store.submissionCount(); n != 1 {
		t.Errorf("expected 1 submission under contention, got %d", n)
	}
	if session.TerminationReason != winner {
		t.Errorf("recorded %s, callers saw %s", session.TerminationReason, winner)
	}
}
