package interfaces

import (
	"context"
	"time"

	"proctord/pkg/types"
)

// SessionStore handles all persistence for sessions, exams and audit data.
// A single interface keeps transaction handling and connection management in
// one place and lets the session layer run against a mock in tests.
type SessionStore interface {
	// CreateSession persists a newly started attempt.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSession writes back actor-owned counters and state. Only the
	// owning actor calls this, so no optimistic locking is needed.
	UpdateSession(ctx context.Context, session *types.Session) error

	// ListActiveSessions returns sessions that have not terminated, used to
	// rebuild actors after a restart.
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// GetExam retrieves exam configuration and faculty control flags.
	GetExam(ctx context.Context, examID string) (*types.Exam, error)

	// ForceEndExam marks an exam force-ended by faculty. Running sessions
	// observe it through their status poll within one interval.
	ForceEndExam(ctx context.Context, examID string, at time.Time) error

	// ExtendExam moves an exam's end time. Sessions pick up extensions that
	// are later than their current end time; anything else is ignored.
	ExtendExam(ctx context.Context, examID string, endsAt time.Time) error

	// RecordViolation appends one violation audit row.
	RecordViolation(ctx context.Context, record *types.ViolationRecord) error

	// SaveAnswer upserts one answer for an in-progress attempt.
	SaveAnswer(ctx context.Context, answer *types.Answer) error

	// HealthCheck verifies connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying database resources.
	Close() error
}
