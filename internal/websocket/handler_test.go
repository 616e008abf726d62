package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	gorillaws "github.com/gorilla/websocket"

	"proctord/internal/config"
	"proctord/internal/session"
	"proctord/pkg/interfaces"
	"proctord/pkg/types"
)

// stubStore is the minimal in-memory store the session layer needs.
type stubStore struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	exams    map[string]*types.Exam
}

func newStubStore() *stubStore {
	return &stubStore{
		sessions: make(map[string]*types.Session),
		exams:    make(map[string]*types.Exam),
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

func (s *stubStore) UpdateSession(ctx context.Context, sess *types.Session) error { return nil }
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

func (s *stubStore) ForceEndExam(ctx context.Context, id string, at time.Time) error { return nil }
func (s *stubStore) ExtendExam(ctx context.Context, id string, t time.Time) error    { return nil }
func (s *stubStore) RecordViolation(ctx context.Context, r *types.ViolationRecord) error {
	return nil
}
func (s *stubStore) SaveAnswer(ctx context.Context, a *types.Answer) error { return nil }
func (s *stubStore) HealthCheck(ctx context.Context) error                 { return nil }
func (s *stubStore) Close() error                                          { return nil }
func (s *stubStore) SubmitAttempt(ctx context.Context, id string, reason types.TerminationReason) error {
	return nil
}
func (s *stubStore) LogActivity(ctx context.Context, r *types.ActivityRecord) error { return nil }
func (s *stubStore) PollStatus(ctx context.Context, id string) (*types.StatusReport, error) {
	return &types.StatusReport{}, nil
}

// stubDetector reports whatever frame result it is configured with.
type stubDetector struct {
	mu     sync.Mutex
	result types.FrameResult
}

func (d *stubDetector) EvaluateFrame(ctx context.Context, frame []byte) (*types.FrameResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := d.result
	return &result, nil
}

type wsFixture struct {
	server   *httptest.Server
	manager  *session.Manager
	registry *Registry
	detector *stubDetector
	store    *stubStore
}

func newWSFixture(t *testing.T) *wsFixture {
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
	detector := &stubDetector{result: types.FrameResult{FaceCount: 1, Deviation: 5.0}}

	cfg := config.DefaultConfig().Proctoring
	cfg.CalibrationFrameCount = 2
	cfg.StatusPollInterval = time.Hour
	cfg.HeartbeatInterval = time.Hour
	cfg.DisconnectGrace = 2 * time.Hour

	registry := NewRegistry()
	manager, err := session.NewManager(store, detector, registry, cfg)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	t.Cleanup(manager.Shutdown)

	handler := NewHandler(manager, registry, config.DefaultConfig().WebSocket)
	router := mux.NewRouter()
	router.Handle("/ws/sessions/{session_id}", handler).Methods(http.MethodGet)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(registry.Shutdown)

	return &wsFixture{
		server:   server,
		manager:  manager,
		registry: registry,
		detector: detector,
		store:    store,
	}
}

func (f *wsFixture) wsURL(sessionID, studentID string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/sessions/" + sessionID + "?student_id=" + studentID
}

func (f *wsFixture) dial(t *testing.T, sessionID, studentID string) *gorillaws.Conn {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(f.wsURL(sessionID, studentID), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNotice(t *testing.T, conn *gorillaws.Conn, wantType string) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var notice map[string]interface{}
		if err := json.Unmarshal(data, &notice); err != nil {
			t.Fatalf("decode notice: %v", err)
		}
		if notice["type"] == wantType {
			return notice
		}
	}
}

func TestUpgradeRejectsUnknownSession(t *testing.T) {
	f := newWSFixture(t)

	resp, err := http.Get(f.server.URL + "/ws/sessions/ghost?student_id=student-1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestUpgradeRejectsWrongStudent(t *testing.T) {
	f := newWSFixture(t)
	sess, err := f.manager.StartAttempt(context.Background(), "exam-1", "student-1")
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(f.server.URL + "/ws/sessions/" + sess.ID + "?student_id=intruder")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

func TestHeartbeatGetsStatusNotice(t *testing.T) {
	f := newWSFixture(t)
	sess, err := f.manager.StartAttempt(context.Background(), "exam-1", "student-1")
	if err != nil {
		t.Fatal(err)
	}

	conn := f.dial(t, sess.ID, "student-1")

	// Connecting already posts a heartbeat; a status notice follows.
	notice := readNotice(t, conn, types.NoticeTypeStatus)
	if notice["state"] != string(types.StateAwaitingCalibration) {
		t.Errorf("unexpected state %v", notice["state"])
	}
}

func TestCalibrationOverWebSocket(t *testing.T) {
	f := newWSFixture(t)
	sess, err := f.manager.StartAttempt(context.Background(), "exam-1", "student-1")
	if err != nil {
		t.Fatal(err)
	}
	conn := f.dial(t, sess.ID, "student-1")

	start, _ := json.Marshal(types.ControlMessage{Type: types.MessageTypeStartCalibration})
	if err := conn.WriteMessage(gorillaws.TextMessage, start); err != nil {
		t.Fatal(err)
	}

	frame := append([]byte{types.FrameKindCalibration}, 0xff, 0xd8)
	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(gorillaws.BinaryMessage, frame); err != nil {
			t.Fatal(err)
		}
	}

	notice := readNotice(t, conn, types.NoticeTypeCalibrationResult)
	if notice["success"] != true {
		t.Errorf("calibration failed: %v", notice)
	}

	actor, err := f.manager.GetActor(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for actor.State() != types.StateMonitoring {
		if time.Now().After(deadline) {
			t.Fatalf("never reached monitoring, state %s", actor.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTerminationNoticeAndSocketClose(t *testing.T) {
	f := newWSFixture(t)
	sess, err := f.manager.StartAttempt(context.Background(), "exam-1", "student-1")
	if err != nil {
		t.Fatal(err)
	}
	conn := f.dial(t, sess.ID, "student-1")

	submit, _ := json.Marshal(types.ControlMessage{Type: types.MessageTypeManualSubmit})
	if err := conn.WriteMessage(gorillaws.TextMessage, submit); err != nil {
		t.Fatal(err)
	}

	notice := readNotice(t, conn, types.NoticeTypeTermination)
	if notice["reason"] != string(types.ReasonManual) {
		t.Errorf("expected manual, got %v", notice["reason"])
	}

	// The server closes the socket after the final notice.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestReconnectReplacesConnection(t *testing.T) {
	f := newWSFixture(t)
	sess, err := f.manager.StartAttempt(context.Background(), "exam-1", "student-1")
	if err != nil {
		t.Fatal(err)
	}

	first := f.dial(t, sess.ID, "student-1")
	second := f.dial(t, sess.ID, "student-1")

	// The first connection is closed server-side.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// The replacement still receives notices.
	hb, _ := json.Marshal(types.ControlMessage{Type: types.MessageTypeHeartbeat})
	if err := second.WriteMessage(gorillaws.TextMessage, hb); err != nil {
		t.Fatal(err)
	}
	readNotice(t, second, types.NoticeTypeStatus)

	if f.registry.Count() != 1 {
		t.Errorf("expected 1 live connection, got %d", f.registry.Count())
	}
}
