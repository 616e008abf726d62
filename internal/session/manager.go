package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"proctord/internal/config"
	"proctord/pkg/interfaces"
	"proctord/pkg/types"
)

// Manager starts attempts, rebuilds actors after a restart and hands out
// actor handles to the transports.
type Manager struct {
	store     interfaces.SessionStore
	submitter interfaces.AttemptSubmitter
	status    interfaces.StatusSource
	logger    interfaces.ActivityLogger
	detector  interfaces.FrameDetector
	notifier  Notifier
	config    *config.ProctoringConfig
	registry  *Registry
}

// NewManager creates the session manager. The store must also implement
// attempt submission, activity logging and status polling; the concrete
// database manager does.
func NewManager(store interfaces.SessionStore, detector interfaces.FrameDetector, notifier Notifier, cfg *config.ProctoringConfig) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if detector == nil {
		return nil, errors.New("detector cannot be nil")
	}
	if notifier == nil {
		return nil, errors.New("notifier cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	submitter, ok := store.(interfaces.AttemptSubmitter)
	if !ok {
		return nil, errors.New("store does not support attempt submission")
	}
	status, ok := store.(interfaces.StatusSource)
	if !ok {
		return nil, errors.New("store does not support status polling")
	}
	logger, ok := store.(interfaces.ActivityLogger)
	if !ok {
		return nil, errors.New("store does not support activity logging")
	}
	return &Manager{
		store:     store,
		submitter: submitter,
		status:    status,
		logger:    logger,
		detector:  detector,
		notifier:  notifier,
		config:    cfg,
		registry:  NewRegistry(),
	}, nil
}

// StartAttempt creates a session for a student on an exam and launches its
// actor. The exam's ceilings and proctoring flag are fixed onto the session
// at this moment; later exam edits do not change a running attempt except
// through the status poll (force-end and extensions).
func (m *Manager) StartAttempt(ctx context.Context, examID, studentID string) (*types.Session, error) {
	if !types.IsValidID(examID) {
		return nil, types.ErrInvalidExamID
	}
	if !types.IsValidID(studentID) {
		return nil, types.ErrInvalidStudentID
	}

	exam, err := m.store.GetExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}
	if exam.ForceEnded {
		return nil, ErrExamEnded
	}

	now := time.Now()
	endsAt := now.Add(time.Duration(exam.DurationMinutes) * time.Minute)
	if exam.EndsAt != nil && exam.EndsAt.Before(endsAt) {
		endsAt = *exam.EndsAt
	}
	if !endsAt.After(now) {
		return nil, ErrExamEnded
	}

	session := types.NewSession()
	session.ID = uuid.New().String()
	session.ExamID = examID
	session.StudentID = studentID
	session.MaxTabSwitches = m.ceiling(exam.MaxTabSwitches, m.config.DefaultMaxTabSwitches)
	session.MaxViolations = m.ceiling(exam.MaxViolations, m.config.DefaultMaxViolations)
	session.Proctored = exam.EnableProctoring
	session.StartedAt = now
	session.EndsAt = endsAt
	if !session.Proctored {
		// No calibration phase without frame evaluation.
		session.State = types.StateMonitoring
	}

	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session: %w", err)
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	if err := m.launch(session); err != nil {
		return nil, err
	}

	log.Printf("Started attempt %s: exam=%s student=%s proctored=%t ends=%s",
		session.ID, examID, studentID, session.Proctored, endsAt.Format(time.RFC3339))
	return session, nil
}

// ResumeSessions rebuilds actors for every non-terminated session in the
// store, called once at startup. Sessions whose end time already passed get
// an actor too; its timer fires immediately and finalizes them through the
// normal path.
func (m *Manager) ResumeSessions(ctx context.Context) error {
	sessions, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sessions: %w", err)
	}

	for _, session := range sessions {
		if err := m.launch(session); err != nil {
			log.Printf("Failed to resume session %s: %v", session.ID, err)
			continue
		}
	}

	if len(sessions) > 0 {
		log.Printf("Resumed %d active session(s)", len(sessions))
	}
	return nil
}

// GetActor returns the running actor for a session.
func (m *Manager) GetActor(sessionID string) (*Actor, error) {
	return m.registry.Get(sessionID)
}

// GetSession reads a session from the store, running or terminated.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return m.store.GetSession(ctx, sessionID)
}

// SaveAnswer persists one answer for a running attempt. Rejected once the
// session has begun terminating; submission snapshots what is saved by then.
func (m *Manager) SaveAnswer(ctx context.Context, sessionID, questionID, value string) error {
	actor, err := m.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if state := actor.State(); state == types.StateTerminating || state == types.StateTerminated {
		return ErrSessionTerminated
	}
	return m.store.SaveAnswer(ctx, &types.Answer{
		SessionID:  sessionID,
		QuestionID: questionID,
		Value:      value,
		UpdatedAt:  time.Now(),
	})
}

// ActiveCount returns the number of running actors.
func (m *Manager) ActiveCount() int {
	return m.registry.Count()
}

// Shutdown stops all actors without submitting their attempts.
func (m *Manager) Shutdown() {
	m.registry.Shutdown()
}

func (m *Manager) launch(session *types.Session) error {
	actor := NewActor(session, Deps{
		Store:     m.store,
		Detector:  m.detector,
		Submitter: m.submitter,
		Status:    m.status,
		Logger:    m.logger,
		Notifier:  m.notifier,
		Config:    m.config,
	}, m.registry.Remove)

	if err := m.registry.Add(actor); err != nil {
		return err
	}
	actor.Start()
	return nil
}

func (m *Manager) ceiling(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
