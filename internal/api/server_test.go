package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"proctord/internal/config"
	"proctord/internal/session"
	"proctord/pkg/interfaces"
	"proctord/pkg/types"
)

// stubStore backs the API tests with an in-memory store that satisfies all
// four persistence interfaces the session layer expects.
type stubStore struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	exams    map[string]*types.Exam
	answers  map[string]string
}

func newStubStore() *stubStore {
	return &stubStore{
		sessions: make(map[string]*types.Session),
		exams:    make(map[string]*types.Exam),
		answers:  make(map[string]string),
	}
}

func (s *stubStore) CreateSession(ctx context.Context, sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *stubStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return sess, nil
}

func (s *stubStore) UpdateSession(ctx context.Context, sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *stubStore) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return nil, nil
}

func (s *stubStore) GetExam(ctx context.Context, id string) (*types.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[id]
	if !ok {
		return nil, interfaces.ErrExamNotFound
	}
	return exam, nil
}

func (s *stubStore) ForceEndExam(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[id]
	if !ok {
		return interfaces.ErrExamNotFound
	}
	exam.ForceEnded = true
	exam.ForceEndedAt = &at
	return nil
}

func (s *stubStore) ExtendExam(ctx context.Context, id string, endsAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[id]
	if !ok {
		return interfaces.ErrExamNotFound
	}
	exam.EndsAt = &endsAt
	return nil
}

func (s *stubStore) RecordViolation(ctx context.Context, r *types.ViolationRecord) error { return nil }

func (s *stubStore) SaveAnswer(ctx context.Context, a *types.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[a.SessionID+"/"+a.QuestionID] = a.Value
	return nil
}

func (s *stubStore) HealthCheck(ctx context.Context) error { return nil }
func (s *stubStore) Close() error                          { return nil }

func (s *stubStore) SubmitAttempt(ctx context.Context, id string, reason types.TerminationReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok && !sess.Submitted {
		sess.Submitted = true
		sess.TerminationReason = reason
		sess.State = types.StateTerminated
	}
	return nil
}

func (s *stubStore) LogActivity(ctx context.Context, r *types.ActivityRecord) error { return nil }

func (s *stubStore) PollStatus(ctx context.Context, id string) (*types.StatusReport, error) {
	return &types.StatusReport{}, nil
}

type stubDetector struct{}

func (stubDetector) EvaluateFrame(ctx context.Context, frame []byte) (*types.FrameResult, error) {
	return &types.FrameResult{FaceCount: 1}, nil
}

type noopNotifier struct{}

func (noopNotifier) NotifyCalibration(string, *types.CalibrationResult) {}
func (noopNotifier) NotifyViolation(string, *types.ViolationNotice)    {}
func (noopNotifier) NotifyTermination(string, *types.TerminationNotice) {
}
func (noopNotifier) NotifyStatus(string, *types.StatusNotice) {}
func (noopNotifier) CloseSession(string)                      {}

type serverFixture struct {
	server  *Server
	store   *stubStore
	manager *session.Manager
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	store := newStubStore()
	store.exams["exam-1"] = &types.Exam{
		ID:               "exam-1",
		Title:            "Quiz",
		DurationMinutes:  30,
		MaxTabSwitches:   3,
		MaxViolations:    6,
		EnableProctoring: true,
	}

	cfg := config.DefaultConfig().Proctoring
	cfg.StatusPollInterval = time.Hour
	cfg.HeartbeatInterval = time.Hour
	cfg.DisconnectGrace = 2 * time.Hour

	manager, err := session.NewManager(store, stubDetector{}, noopNotifier{}, cfg)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	t.Cleanup(manager.Shutdown)

	return &serverFixture{
		server:  NewServer(manager, store, nil),
		store:   store,
		manager: manager,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) startAttempt(t *testing.T) *types.Session {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", map[string]string{
		"exam_id":    "exam-1",
		"student_id": "student-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start attempt: status %d body %s", rec.Code, rec.Body.String())
	}
	var sess types.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return &sess
}

func TestCreateSessionEndpoint(t *testing.T) {
	f := newServerFixture(t)

	sess := f.startAttempt(t)
	if sess.ExamID != "exam-1" || sess.StudentID != "student-1" {
		t.Errorf("unexpected session %+v", sess)
	}
	if sess.State != types.StateAwaitingCalibration {
		t.Errorf("expected awaiting_calibration, got %s", sess.State)
	}
}

func TestCreateSessionUnknownExam(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/sessions", map[string]string{
		"exam_id":    "missing",
		"student_id": "student-1",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestCreateSessionBadBody(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte("{broken")))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCreateSessionInvalidIDs(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/sessions", map[string]string{
		"exam_id":    "has spaces",
		"student_id": "student-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestGetSessionEndpoint(t *testing.T) {
	f := newServerFixture(t)
	sess := f.startAttempt(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/sessions/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newServerFixture(t)
	sess := f.startAttempt(t)

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%s/status", sess.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}

	var status types.StatusNotice
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.State != types.StateAwaitingCalibration {
		t.Errorf("unexpected state %s", status.State)
	}
	if status.RemainingSeconds <= 0 {
		t.Error("remaining seconds should be positive")
	}
}

func TestSaveAnswerEndpoint(t *testing.T) {
	f := newServerFixture(t)
	sess := f.startAttempt(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/sessions/%s/answers", sess.ID), map[string]string{
		"question_id": "q1",
		"value":       "blue",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}

	f.store.mu.Lock()
	value := f.store.answers[sess.ID+"/q1"]
	f.store.mu.Unlock()
	if value != "blue" {
		t.Errorf("answer not persisted, got %q", value)
	}
}

func TestSaveAnswerUnknownSession(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/sessions/ghost/answers", map[string]string{
		"question_id": "q1",
		"value":       "x",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestActivityEndpoint(t *testing.T) {
	f := newServerFixture(t)
	sess := f.startAttempt(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/sessions/%s/activity", sess.ID), map[string]string{
		"activity_type": "copy_attempt",
		"severity":      "low",
		"description":   "ctrl+c",
	})
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/sessions/%s/activity", sess.ID), map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing type, got %d", rec.Code)
	}
}

func TestSubmitEndpointIsIdempotent(t *testing.T) {
	f := newServerFixture(t)
	sess := f.startAttempt(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/sessions/%s/submit", sess.ID), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body %s", rec.Code, rec.Body.String())
	}

	// Wait until the actor has fully terminated and deregistered.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := f.manager.GetActor(sess.ID); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("actor never deregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/sessions/%s/submit", sess.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat submit, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "already_submitted" {
		t.Errorf("unexpected body %v", body)
	}
	if body["reason"] != string(types.ReasonManual) {
		t.Errorf("expected manual reason, got %v", body["reason"])
	}
}

func TestForceEndEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/exams/exam-1/force-end", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}

	f.store.mu.Lock()
	forced := f.store.exams["exam-1"].ForceEnded
	f.store.mu.Unlock()
	if !forced {
		t.Error("exam not marked force-ended")
	}

	rec = f.do(t, http.MethodPost, "/api/exams/missing/force-end", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestExtendEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/exams/exam-1/extend", map[string]string{
		"ends_at": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}

	// Past end times are rejected.
	rec = f.do(t, http.MethodPost, "/api/exams/exam-1/extend", map[string]string{
		"ends_at": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for past time, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("unexpected health body %v", body)
	}
}
