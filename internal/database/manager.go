package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "proctord/pkg/database"
	"proctord/pkg/interfaces"
	"proctord/pkg/types"
)

// Manager implements SessionStore plus the store-backed collaborator
// contracts: AttemptSubmitter, ActivityLogger and StatusSource. Reads run
// concurrently; all writes go through a single goroutine, which is how
// SQLite performs best under WAL.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation represents a queued database write.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// GetDB exposes the pool for migrations and schema validation.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// writeLoop processes all write operations in a single goroutine, retrying
// once after a short delay on failure.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// CreateSession persists a newly started attempt.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO sessions (
				id, exam_id, student_id, state, baseline,
				no_face_count, multi_face_count, looking_away_count,
				tab_switch_count, max_tab_switches, max_violations,
				proctored, started_at, ends_at,
				termination_reason, terminated_at, submitted
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			session.ID,
			session.ExamID,
			session.StudentID,
			string(session.State),
			session.Baseline,
			session.Violations[types.ViolationNoFace],
			session.Violations[types.ViolationMultipleFaces],
			session.Violations[types.ViolationLookingAway],
			session.TabSwitchCount,
			session.MaxTabSwitches,
			session.MaxViolations,
			session.Proctored,
			session.StartedAt,
			session.EndsAt,
			nullableReason(session.TerminationReason),
			session.TerminatedAt,
			session.Submitted,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	query := `
		SELECT id, exam_id, student_id, state, baseline,
		       no_face_count, multi_face_count, looking_away_count,
		       tab_switch_count, max_tab_switches, max_violations,
		       proctored, started_at, ends_at,
		       termination_reason, terminated_at, submitted
		FROM sessions
		WHERE id = ?
	`
	row := m.db.QueryRowContext(ctx, query, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// UpdateSession writes back actor-owned state and counters.
func (m *Manager) UpdateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			UPDATE sessions
			SET state = ?, baseline = ?,
			    no_face_count = ?, multi_face_count = ?, looking_away_count = ?,
			    tab_switch_count = ?, ends_at = ?,
			    termination_reason = ?, terminated_at = ?
			WHERE id = ?
		`
		_, err := db.ExecContext(ctx, query,
			string(session.State),
			session.Baseline,
			session.Violations[types.ViolationNoFace],
			session.Violations[types.ViolationMultipleFaces],
			session.Violations[types.ViolationLookingAway],
			session.TabSwitchCount,
			session.EndsAt,
			nullableReason(session.TerminationReason),
			session.TerminatedAt,
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
}

// ListActiveSessions returns sessions that have not terminated, newest
// first. Used to rebuild actors after a restart.
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	query := `
		SELECT id, exam_id, student_id, state, baseline,
		       no_face_count, multi_face_count, looking_away_count,
		       tab_switch_count, max_tab_switches, max_violations,
		       proctored, started_at, ends_at,
		       termination_reason, terminated_at, submitted
		FROM sessions
		WHERE state != 'terminated'
		ORDER BY started_at DESC
	`
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return sessions, nil
}

// GetExam retrieves exam configuration and faculty control flags.
func (m *Manager) GetExam(ctx context.Context, examID string) (*types.Exam, error) {
	query := `
		SELECT id, title, duration_minutes, max_tab_switches, max_violations,
		       enable_proctoring, ends_at, force_ended, force_ended_at
		FROM exams
		WHERE id = ?
	`
	row := m.db.QueryRowContext(ctx, query, examID)

	var exam types.Exam
	var endsAt, forceEndedAt sql.NullTime
	err := row.Scan(
		&exam.ID,
		&exam.Title,
		&exam.DurationMinutes,
		&exam.MaxTabSwitches,
		&exam.MaxViolations,
		&exam.EnableProctoring,
		&endsAt,
		&exam.ForceEnded,
		&forceEndedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to query exam: %w", err)
	}
	if endsAt.Valid {
		exam.EndsAt = &endsAt.Time
	}
	if forceEndedAt.Valid {
		exam.ForceEndedAt = &forceEndedAt.Time
	}
	return &exam, nil
}

// CreateExam persists an exam row. Used by the API surface and tests.
func (m *Manager) CreateExam(ctx context.Context, exam *types.Exam) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO exams (
				id, title, duration_minutes, max_tab_switches, max_violations,
				enable_proctoring, ends_at, force_ended, force_ended_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			exam.ID,
			exam.Title,
			exam.DurationMinutes,
			exam.MaxTabSwitches,
			exam.MaxViolations,
			exam.EnableProctoring,
			exam.EndsAt,
			exam.ForceEnded,
			exam.ForceEndedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert exam: %w", err)
		}
		return nil
	})
}

// ForceEndExam marks an exam force-ended by faculty.
func (m *Manager) ForceEndExam(ctx context.Context, examID string, at time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			"UPDATE exams SET force_ended = 1, force_ended_at = ? WHERE id = ?",
			at, examID,
		)
		if err != nil {
			return fmt.Errorf("failed to force-end exam: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check force-end result: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrExamNotFound
		}
		return nil
	})
}

// ExtendExam moves an exam's end time.
func (m *Manager) ExtendExam(ctx context.Context, examID string, endsAt time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			"UPDATE exams SET ends_at = ? WHERE id = ?",
			endsAt, examID,
		)
		if err != nil {
			return fmt.Errorf("failed to extend exam: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check extend result: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrExamNotFound
		}
		return nil
	})
}

// RecordViolation appends one violation audit row.
func (m *Manager) RecordViolation(ctx context.Context, record *types.ViolationRecord) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO violations (id, session_id, kind, message, created_at)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			record.ID,
			record.SessionID,
			string(record.Kind),
			record.Message,
			record.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert violation: %w", err)
		}
		return nil
	})
}

// LogActivity implements ActivityLogger. Best-effort: callers log failures
// and never block the state machine on them.
func (m *Manager) LogActivity(ctx context.Context, record *types.ActivityRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid activity record: %w", err)
	}

	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO activity_log (id, session_id, type, severity, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			record.ID,
			record.SessionID,
			record.Type,
			record.Severity,
			record.Description,
			record.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert activity record: %w", err)
		}
		return nil
	})
}

// SaveAnswer upserts one answer for an in-progress attempt.
func (m *Manager) SaveAnswer(ctx context.Context, answer *types.Answer) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO answers (session_id, question_id, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id, question_id)
			DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`
		_, err := db.ExecContext(ctx, query,
			answer.SessionID,
			answer.QuestionID,
			answer.Value,
			answer.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save answer: %w", err)
		}
		return nil
	})
}

// SubmitAttempt implements AttemptSubmitter: the final write that marks a
// session submitted with its termination reason. The submitted = 0 guard
// makes the write idempotent at the storage layer as well; the termination
// coordinator already guarantees a single call per session.
func (m *Manager) SubmitAttempt(ctx context.Context, sessionID string, reason types.TerminationReason) error {
	return m.executeWrite(func(db *sql.DB) error {
		now := time.Now()
		result, err := db.ExecContext(ctx, `
			UPDATE sessions
			SET state = ?, termination_reason = ?, terminated_at = ?, submitted = 1
			WHERE id = ? AND submitted = 0
		`,
			string(types.StateTerminated),
			string(reason),
			now,
			sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to submit attempt: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check submit result: %w", err)
		}
		if affected == 0 {
			// Already submitted or unknown session; either way the
			// side-effect must not repeat.
			log.Printf("Submit attempt no-op for session %s (already submitted)", sessionID)
		}
		return nil
	})
}

// PollStatus implements StatusSource by reading the exam row behind the
// session. Faculty force-end and end-time extensions land here.
func (m *Manager) PollStatus(ctx context.Context, sessionID string) (*types.StatusReport, error) {
	query := `
		SELECT e.force_ended, e.ends_at
		FROM sessions s
		JOIN exams e ON e.id = s.exam_id
		WHERE s.id = ?
	`
	row := m.db.QueryRowContext(ctx, query, sessionID)

	var report types.StatusReport
	var endsAt sql.NullTime
	if err := row.Scan(&report.FacultyForcedEnd, &endsAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to poll session status: %w", err)
	}
	if endsAt.Valid {
		report.UpdatedEndTime = &endsAt.Time
	}
	return &report, nil
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close stops the writer goroutine and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return m.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*types.Session, error) {
	session := types.NewSession()
	var baseline sql.NullFloat64
	var noFace, multiFace, lookingAway int
	var reason sql.NullString
	var terminatedAt sql.NullTime
	var state string

	err := row.Scan(
		&session.ID,
		&session.ExamID,
		&session.StudentID,
		&state,
		&baseline,
		&noFace,
		&multiFace,
		&lookingAway,
		&session.TabSwitchCount,
		&session.MaxTabSwitches,
		&session.MaxViolations,
		&session.Proctored,
		&session.StartedAt,
		&session.EndsAt,
		&reason,
		&terminatedAt,
		&session.Submitted,
	)
	if err != nil {
		return nil, err
	}

	session.State = types.SessionState(state)
	if baseline.Valid {
		session.Baseline = &baseline.Float64
	}
	session.Violations[types.ViolationNoFace] = noFace
	session.Violations[types.ViolationMultipleFaces] = multiFace
	session.Violations[types.ViolationLookingAway] = lookingAway
	if reason.Valid {
		session.TerminationReason = types.TerminationReason(reason.String)
	}
	if terminatedAt.Valid {
		session.TerminatedAt = &terminatedAt.Time
	}

	return session, nil
}

func nullableReason(reason types.TerminationReason) interface{} {
	if reason == "" {
		return nil
	}
	return string(reason)
}
