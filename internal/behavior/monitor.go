package behavior

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"proctord/pkg/interfaces"
	"proctord/pkg/types"
)

// Monitor applies debounce policy to discrete browser-behavior events and
// records them to the activity log. It holds no state of its own; debounce
// timestamps live on the session, which the owning actor serializes.
type Monitor struct {
	debounce time.Duration
	logger   interfaces.ActivityLogger
}

// TabSwitchResult reports the effect of one tab-switch event.
type TabSwitchResult struct {
	// Counted is false when the event fell inside the debounce window.
	Counted bool
	Count   int
	Verdict *types.TerminationReason
}

// NewMonitor creates a behavior monitor with the given debounce window.
func NewMonitor(debounce time.Duration, logger interfaces.ActivityLogger) *Monitor {
	return &Monitor{
		debounce: debounce,
		logger:   logger,
	}
}

// TabSwitch processes a tab-switch / visibility-loss event. Events within
// the debounce window of the previous counted switch are discarded, not
// queued. Reaching the ceiling returns a tab_switch_limit verdict.
// clientCount is the advisory client-side counter, recorded for audit only.
func (m *Monitor) TabSwitch(session *types.Session, now time.Time, clientCount int) TabSwitchResult {
	if !session.LastTabSwitchAt.IsZero() && now.Sub(session.LastTabSwitchAt) < m.debounce {
		return TabSwitchResult{Counted: false, Count: session.TabSwitchCount}
	}

	session.TabSwitchCount++
	session.LastTabSwitchAt = now

	m.Record(session.ID, "tab_switch", types.SeverityMedium, tabSwitchDescription(session.TabSwitchCount, clientCount))

	result := TabSwitchResult{
		Counted: true,
		Count:   session.TabSwitchCount,
	}
	if session.TabSwitchCount >= session.MaxTabSwitches {
		reason := types.ReasonTabSwitchLimit
		result.Verdict = &reason
	}
	return result
}

// FullscreenExit is strict: any exit while monitoring is an immediate,
// non-retryable termination trigger. No debounce.
func (m *Monitor) FullscreenExit(session *types.Session) *types.TerminationReason {
	if session.State != types.StateMonitoring {
		return nil
	}
	m.Record(session.ID, "fullscreen_exit", types.SeverityHigh, "left fullscreen during monitoring")
	reason := types.ReasonFullscreenExit
	return &reason
}

// Record writes an activity row without blocking the caller. Copy, paste,
// context-menu and devtools attempts arrive here; they never increment
// violation counters or trigger termination.
func (m *Monitor) Record(sessionID, activityType, severity, description string) {
	record := &types.ActivityRecord{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Type:        activityType,
		Severity:    severity,
		Description: description,
		CreatedAt:   time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.logger.LogActivity(ctx, record); err != nil {
			log.Printf("Activity log delivery failed for session %s: %v", sessionID, err)
		}
	}()
}

func tabSwitchDescription(serverCount, clientCount int) string {
	if clientCount > 0 && clientCount != serverCount {
		// Advisory mismatch is audit-worthy but never feeds decisions.
		return "tab switch counted (client reported different total)"
	}
	return "tab switch counted"
}
