package session

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"proctord/internal/behavior"
	"proctord/internal/calibration"
	"proctord/internal/config"
	"proctord/internal/evaluator"
	"proctord/pkg/interfaces"
	"proctord/pkg/types"
)

// Notifier delivers notices to the session's client. Implemented by the
// WebSocket registry; delivery is best-effort and must never block the
// state machine for long.
type Notifier interface {
	NotifyCalibration(sessionID string, result *types.CalibrationResult)
	NotifyViolation(sessionID string, notice *types.ViolationNotice)
	NotifyTermination(sessionID string, notice *types.TerminationNotice)
	NotifyStatus(sessionID string, notice *types.StatusNotice)
	CloseSession(sessionID string)
}

// Deps are the collaborators a session actor needs. The concrete database
// manager satisfies the four persistence-side interfaces at once.
type Deps struct {
	Store     interfaces.SessionStore
	Detector  interfaces.FrameDetector
	Submitter interfaces.AttemptSubmitter
	Status    interfaces.StatusSource
	Logger    interfaces.ActivityLogger
	Notifier  Notifier
	Config    *config.ProctoringConfig
}

// Actor owns all mutable state for one proctored attempt. Every inbound
// event is delivered through a single channel and processed in arrival
// order by one goroutine, so no intra-session locking is needed and
// concurrent termination triggers resolve first-wins deterministically.
type Actor struct {
	session *types.Session
	deps    Deps

	calibrator *calibration.Coordinator
	evaluator  *evaluator.Evaluator
	monitor    *behavior.Monitor
	terminator *Terminator

	events chan event
	// frames is unbuffered: a non-blocking send drops any frame that
	// arrives while the previous evaluation is still in flight.
	frames chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// state mirrors session.State for cheap gating from transport
	// goroutines; the authoritative value lives on the session.
	state atomic.Value

	// Actor-goroutine-owned scratch state.
	burst           [][]byte
	burstInFlight   bool
	pollInFlight    bool
	lastHeartbeat   time.Time
	warnedHeartbeat bool

	onRemove func(sessionID string)
}

// Actor-internal events, processed strictly in arrival order.
type event interface{}

type evCalibrationStart struct{}
type evCalibrationFrame struct{ frame []byte }
type evCalibrationDone struct {
	baseline float64
	valid    int
	err      error
}
type evFrameEvaluated struct {
	result *types.FrameResult
	err    error
}
type evTabSwitch struct {
	at          time.Time
	clientCount int
}
type evFullscreenExit struct{}
type evHeartbeat struct{}
type evManualSubmit struct{}
type evActivity struct {
	activityType string
	severity     string
	description  string
}
type evTimeExpired struct{}
type evStatusReport struct {
	report *types.StatusReport
	err    error
}

// NewActor creates the actor for a session. onRemove is called once after
// termination so the registry can drop its handle.
func NewActor(session *types.Session, deps Deps, onRemove func(sessionID string)) *Actor {
	ctx, cancel := context.WithCancel(context.Background())

	a := &Actor{
		session: session,
		deps:    deps,
		events:  make(chan event, 256),
		frames:  make(chan []byte),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),

		calibrator: calibration.NewCoordinator(deps.Detector, deps.Config.MinValidFrames),
		evaluator: evaluator.New(evaluator.Config{
			SoftDeviation:          deps.Config.SoftDeviation,
			HardDeviation:          deps.Config.HardDeviation,
			DeviationCooldown:      deps.Config.DeviationCooldown,
			WarnEveryNoFace:        deps.Config.WarnEveryNoFace,
			WarnEveryMultipleFaces: deps.Config.WarnEveryMultipleFaces,
			WarnEveryLookingAway:   deps.Config.WarnEveryLookingAway,
		}),
		monitor:  behavior.NewMonitor(deps.Config.TabSwitchDebounce, deps.Logger),
		onRemove: onRemove,
	}
	a.terminator = NewTerminator(deps.Submitter, deps.Notifier, a.finishTermination)
	a.state.Store(session.State)
	return a
}

// Start launches the actor and its frame-evaluation worker.
func (a *Actor) Start() {
	a.lastHeartbeat = time.Now()
	go a.evalLoop()
	go a.run()
}

// Stop cancels the actor without terminating the attempt, used during
// process shutdown. The attempt resumes from the store on restart.
func (a *Actor) Stop() {
	a.cancel()
	<-a.done
}

// SessionID returns the session's identifier.
func (a *Actor) SessionID() string {
	return a.session.ID
}

// StudentID returns the owning student's identifier.
func (a *Actor) StudentID() string {
	return a.session.StudentID
}

// State returns a snapshot of the session state for gating decisions in
// transport goroutines.
func (a *Actor) State() types.SessionState {
	return a.state.Load().(types.SessionState)
}

// StartCalibration resets any partial burst so the client can begin a
// fresh calibration attempt.
func (a *Actor) StartCalibration() error {
	return a.post(evCalibrationStart{})
}

// CalibrationFrame delivers one frame of the calibration burst.
func (a *Actor) CalibrationFrame(frame []byte) error {
	return a.post(evCalibrationFrame{frame: frame})
}

// MonitoringFrame offers a frame for evaluation. Frames are dropped, not
// queued, while a previous evaluation is in flight or when the session is
// not monitoring; bounding latency matters more than evaluating every
// frame.
func (a *Actor) MonitoringFrame(frame []byte) {
	if a.State() != types.StateMonitoring || !a.session.Proctored {
		return
	}
	select {
	case a.frames <- frame:
	default:
		// Evaluation in flight; drop.
	}
}

// TabSwitch reports a visibility-loss event. clientCount is advisory.
func (a *Actor) TabSwitch(clientCount int) error {
	return a.post(evTabSwitch{at: time.Now(), clientCount: clientCount})
}

// FullscreenExit reports that the client left fullscreen.
func (a *Actor) FullscreenExit() error {
	return a.post(evFullscreenExit{})
}

// Heartbeat marks the transport alive and requests a status notice.
func (a *Actor) Heartbeat() error {
	return a.post(evHeartbeat{})
}

// ManualSubmit requests termination with reason manual.
func (a *Actor) ManualSubmit() error {
	return a.post(evManualSubmit{})
}

// Activity records a behavior event that never affects counters.
func (a *Actor) Activity(activityType, severity, description string) error {
	return a.post(evActivity{
		activityType: activityType,
		severity:     severity,
		description:  description,
	})
}

// post queues an event for serial processing. Events offered after the
// actor stopped are rejected; the session is already terminated and nothing
// remains to process them.
func (a *Actor) post(ev event) error {
	select {
	case a.events <- ev:
		return nil
	case <-a.ctx.Done():
		return ErrSessionStopped
	}
}

// run is the single goroutine that owns the session.
func (a *Actor) run() {
	defer close(a.done)

	timer := time.NewTimer(time.Until(a.session.EndsAt))
	defer timer.Stop()

	poll := time.NewTicker(a.deps.Config.StatusPollInterval)
	defer poll.Stop()

	for {
		select {
		case ev := <-a.events:
			a.handle(ev, timer)

		case <-timer.C:
			a.handle(evTimeExpired{}, timer)

		case <-poll.C:
			a.onPollTick()

		case <-a.ctx.Done():
			return
		}
	}
}

// evalLoop serializes vision calls for this session. The unbuffered frames
// channel guarantees at most one evaluation in flight.
func (a *Actor) evalLoop() {
	for {
		select {
		case frame := <-a.frames:
			result, err := a.deps.Detector.EvaluateFrame(a.ctx, frame)
			// Result is posted back into the serial event stream; a late
			// result for a terminated session is ignored there.
			_ = a.post(evFrameEvaluated{result: result, err: err})

		case <-a.ctx.Done():
			return
		}
	}
}

// handle applies one event. Terminated is absorbing: events still arrive
// but change nothing.
func (a *Actor) handle(ev event, timer *time.Timer) {
	if a.session.IsTerminal() {
		return
	}

	switch e := ev.(type) {
	case evCalibrationStart:
		a.onCalibrationStart()
	case evCalibrationFrame:
		a.onCalibrationFrame(e.frame)
	case evCalibrationDone:
		a.onCalibrationDone(e)
	case evFrameEvaluated:
		a.onFrameEvaluated(e)
	case evTabSwitch:
		a.onTabSwitch(e)
	case evFullscreenExit:
		a.onFullscreenExit()
	case evHeartbeat:
		a.onHeartbeat()
	case evManualSubmit:
		a.terminate(types.ReasonManual)
	case evActivity:
		a.monitor.Record(a.session.ID, e.activityType, e.severity, e.description)
	case evTimeExpired:
		a.onTimeExpired()
	case evStatusReport:
		a.onStatusReport(e, timer)
	default:
		log.Printf("Session %s: unknown event %T", a.session.ID, ev)
	}
}

func (a *Actor) onCalibrationStart() {
	if a.session.State != types.StateAwaitingCalibration && a.session.State != types.StateCalibrating {
		return
	}
	// A fresh burst always starts clean; nothing from a failed attempt
	// leaks into this one.
	a.burst = nil
	a.setState(types.StateAwaitingCalibration)
}

func (a *Actor) onCalibrationFrame(frame []byte) {
	if !a.session.Proctored {
		return
	}
	switch a.session.State {
	case types.StateAwaitingCalibration:
		a.setState(types.StateCalibrating)
	case types.StateCalibrating:
		// Burst continues.
	default:
		return
	}
	if a.burstInFlight {
		return
	}

	a.burst = append(a.burst, frame)
	if len(a.burst) < a.deps.Config.CalibrationFrameCount {
		return
	}

	frames := a.burst
	a.burst = nil
	a.burstInFlight = true

	go func() {
		result, err := a.calibrator.Calibrate(a.ctx, frames)
		done := evCalibrationDone{err: err}
		if err == nil {
			done.baseline = result.Baseline
			done.valid = result.ValidFrames
		}
		_ = a.post(done)
	}()
}

func (a *Actor) onCalibrationDone(e evCalibrationDone) {
	a.burstInFlight = false
	if a.session.State != types.StateCalibrating {
		return
	}

	if e.err != nil {
		log.Printf("Session %s: calibration failed: %v", a.session.ID, e.err)
		a.setState(types.StateAwaitingCalibration)
		a.deps.Notifier.NotifyCalibration(a.session.ID, &types.CalibrationResult{
			Type:    types.NoticeTypeCalibrationResult,
			Success: false,
			Reason:  e.err.Error(),
		})
		return
	}

	// Baseline is immutable for the session lifetime once set.
	baseline := e.baseline
	a.session.Baseline = &baseline
	a.setState(types.StateMonitoring)
	a.persist()

	log.Printf("Session %s: calibrated from %d frames, baseline %.2f",
		a.session.ID, e.valid, baseline)

	a.deps.Notifier.NotifyCalibration(a.session.ID, &types.CalibrationResult{
		Type:    types.NoticeTypeCalibrationResult,
		Success: true,
	})
}

func (a *Actor) onFrameEvaluated(e evFrameEvaluated) {
	if a.session.State != types.StateMonitoring {
		return
	}

	outcome := a.evaluator.Evaluate(a.session, e.result, e.err, time.Now())

	if outcome.Classification == evaluator.ClassInconclusive {
		log.Printf("Session %s: frame inconclusive: %v", a.session.ID, e.err)
		return
	}

	if !outcome.Counted {
		return
	}

	a.recordViolation(outcome.Kind)
	a.persist()

	if outcome.Warn {
		a.deps.Notifier.NotifyViolation(a.session.ID, &types.ViolationNotice{
			Type:      types.NoticeTypeViolation,
			Kind:      outcome.Kind,
			Count:     outcome.Count,
			Total:     outcome.Total,
			Threshold: a.session.MaxViolations,
			Message:   violationMessage(outcome.Kind),
		})
	}

	if outcome.Verdict != nil {
		a.terminate(*outcome.Verdict)
	}
}

func (a *Actor) onTabSwitch(e evTabSwitch) {
	if a.session.State != types.StateMonitoring &&
		a.session.State != types.StateCalibrating &&
		a.session.State != types.StateAwaitingCalibration {
		return
	}

	result := a.monitor.TabSwitch(a.session, e.at, e.clientCount)
	if !result.Counted {
		return
	}
	a.persist()

	a.deps.Notifier.NotifyViolation(a.session.ID, &types.ViolationNotice{
		Type:      types.NoticeTypeViolation,
		Kind:      "tab_switch",
		Count:     result.Count,
		Total:     result.Count,
		Threshold: a.session.MaxTabSwitches,
		Message:   fmt.Sprintf("Tab switch %d of %d", result.Count, a.session.MaxTabSwitches),
	})

	if result.Verdict != nil {
		a.terminate(*result.Verdict)
	}
}

func (a *Actor) onFullscreenExit() {
	if verdict := a.monitor.FullscreenExit(a.session); verdict != nil {
		a.terminate(*verdict)
	}
}

func (a *Actor) onHeartbeat() {
	a.lastHeartbeat = time.Now()
	a.warnedHeartbeat = false
	a.deps.Notifier.NotifyStatus(a.session.ID, &types.StatusNotice{
		Type:             types.NoticeTypeStatus,
		State:            a.session.State,
		RemainingSeconds: a.session.RemainingSeconds(time.Now()),
		TabSwitchCount:   a.session.TabSwitchCount,
		TotalViolations:  a.session.TotalViolations(),
		Timestamp:        time.Now(),
	})
}

func (a *Actor) onTimeExpired() {
	// The timer may fire early relative to an extended end time; re-check
	// against the authoritative value before terminating.
	if time.Now().Before(a.session.EndsAt) {
		return
	}
	a.terminate(types.ReasonTimeExpired)
}

// onPollTick runs on the poll interval: checks the transport deadline and
// kicks off a status poll without blocking the event loop.
func (a *Actor) onPollTick() {
	if a.session.IsTerminal() {
		return
	}

	silence := time.Since(a.lastHeartbeat)
	if silence > a.deps.Config.DisconnectGrace {
		log.Printf("Session %s: transport silent for %s, closing attempt", a.session.ID, silence.Round(time.Second))
		a.terminate(types.ReasonManual)
		return
	}
	if silence > a.deps.Config.HeartbeatInterval && !a.warnedHeartbeat {
		a.warnedHeartbeat = true
		log.Printf("Session %s: no heartbeat for %s", a.session.ID, silence.Round(time.Second))
	}

	if a.pollInFlight {
		return
	}
	a.pollInFlight = true

	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, a.deps.Config.StatusPollInterval)
		defer cancel()
		report, err := a.deps.Status.PollStatus(ctx, a.session.ID)
		_ = a.post(evStatusReport{report: report, err: err})
	}()
}

func (a *Actor) onStatusReport(e evStatusReport, timer *time.Timer) {
	a.pollInFlight = false

	if e.err != nil {
		log.Printf("Session %s: status poll failed: %v", a.session.ID, e.err)
		return
	}

	if e.report.FacultyForcedEnd {
		a.terminate(types.ReasonFacultyForced)
		return
	}

	// An updated end time later than the current one extends the session;
	// anything earlier than now, or not later than current, is ignored.
	if t := e.report.UpdatedEndTime; t != nil && t.After(a.session.EndsAt) && t.After(time.Now()) {
		a.session.EndsAt = *t
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(time.Until(a.session.EndsAt))
		a.persist()
		log.Printf("Session %s: end time extended to %s", a.session.ID, t.Format(time.RFC3339))
	}
}

// terminate routes every session-fatal condition through the single
// idempotent coordinator path.
func (a *Actor) terminate(reason types.TerminationReason) {
	a.state.Store(types.StateTerminating)
	recorded := a.terminator.Terminate(a.ctx, a.session, reason)
	if recorded != reason {
		log.Printf("Session %s: termination trigger %s lost to %s", a.session.ID, reason, recorded)
	}
}

// finishTermination runs exactly once, after the submission side-effect.
func (a *Actor) finishTermination(reason types.TerminationReason) {
	a.state.Store(types.StateTerminated)
	a.deps.Notifier.CloseSession(a.session.ID)
	if a.onRemove != nil {
		a.onRemove(a.session.ID)
	}
	// Stop loops; anything posted from here on is rejected.
	a.cancel()
}

func (a *Actor) setState(state types.SessionState) {
	a.session.State = state
	a.state.Store(state)
}

// persist writes the actor-owned counters back to the store. Failures are
// logged; the in-memory actor state remains authoritative while running.
func (a *Actor) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.deps.Store.UpdateSession(ctx, a.session); err != nil {
		log.Printf("Session %s: persist failed: %v", a.session.ID, err)
	}
}

func (a *Actor) recordViolation(kind types.ViolationKind) {
	record := &types.ViolationRecord{
		ID:        uuid.New().String(),
		SessionID: a.session.ID,
		Kind:      kind,
		Message:   violationMessage(kind),
		CreatedAt: time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.deps.Store.RecordViolation(ctx, record); err != nil {
		log.Printf("Session %s: violation audit write failed: %v", a.session.ID, err)
	}
}

func violationMessage(kind types.ViolationKind) string {
	switch kind {
	case types.ViolationNoFace:
		return "No face detected in frame"
	case types.ViolationMultipleFaces:
		return "Multiple faces detected in frame"
	case types.ViolationLookingAway:
		return "Sustained deviation from calibrated pose"
	default:
		return string(kind)
	}
}
