package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"proctord/internal/session"
	"proctord/pkg/interfaces"
	"proctord/pkg/types"
)

// Server is the HTTP surface: attempt lifecycle, answer autosave, activity
// ingest and faculty controls. It holds no business logic; decisions belong
// to the session actors and the store.
type Server struct {
	manager *session.Manager
	store   interfaces.SessionStore
	router  *mux.Router
}

// NewServer builds the server and its routes. wsHandler, when non-nil, is
// mounted at the session WebSocket path so everything shares one listener.
func NewServer(manager *session.Manager, store interfaces.SessionStore, wsHandler http.Handler) *Server {
	s := &Server{
		manager: manager,
		store:   store,
		router:  mux.NewRouter(),
	}
	s.setupRoutes(wsHandler)
	return s
}

func (s *Server) setupRoutes(wsHandler http.Handler) {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.corsMiddleware, s.jsonMiddleware)

	api.HandleFunc("/sessions", s.createSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{session_id}", s.getSession).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions/{session_id}/status", s.getStatus).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions/{session_id}/answers", s.saveAnswer).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{session_id}/activity", s.recordActivity).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{session_id}/submit", s.submitAttempt).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/exams/{exam_id}/force-end", s.forceEndExam).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/exams/{exam_id}/extend", s.extendExam).Methods(http.MethodPost, http.MethodOptions)

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)

	if wsHandler != nil {
		s.router.Handle("/ws/sessions/{session_id}", wsHandler).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type createSessionRequest struct {
	ExamID    string `json:"exam_id"`
	StudentID string `json:"student_id"`
}

// createSession handles POST /api/sessions.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	sess, err := s.manager.StartAttempt(r.Context(), req.ExamID, req.StudentID)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrInvalidExamID), errors.Is(err, types.ErrInvalidStudentID):
			s.sendError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, interfaces.ErrExamNotFound):
			s.sendError(w, "exam not found", http.StatusNotFound)
		case errors.Is(err, session.ErrExamEnded):
			s.sendError(w, "exam has ended", http.StatusConflict)
		default:
			log.Printf("Failed to start attempt: %v", err)
			s.sendError(w, "failed to start attempt", http.StatusInternalServerError)
		}
		return
	}

	s.sendJSON(w, http.StatusCreated, sess)
}

// getSession handles GET /api/sessions/{session_id}. Reads the store, so it
// works for terminated sessions too.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if !types.IsValidID(sessionID) {
		s.sendError(w, "invalid session id", http.StatusBadRequest)
		return
	}

	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.sendError(w, "session not found", http.StatusNotFound)
			return
		}
		log.Printf("Failed to load session %s: %v", sessionID, err)
		s.sendError(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, sess)
}

// getStatus handles GET /api/sessions/{session_id}/status: the polling
// fallback for clients without a live WebSocket.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if !types.IsValidID(sessionID) {
		s.sendError(w, "invalid session id", http.StatusBadRequest)
		return
	}

	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.sendError(w, "session not found", http.StatusNotFound)
			return
		}
		log.Printf("Failed to load session %s: %v", sessionID, err)
		s.sendError(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	state := sess.State
	if actor, err := s.manager.GetActor(sessionID); err == nil {
		// The running actor's view is fresher than the store row.
		state = actor.State()
	}

	s.sendJSON(w, http.StatusOK, &types.StatusNotice{
		Type:             types.NoticeTypeStatus,
		State:            state,
		RemainingSeconds: sess.RemainingSeconds(time.Now()),
		TabSwitchCount:   sess.TabSwitchCount,
		TotalViolations:  sess.TotalViolations(),
		Timestamp:        time.Now(),
	})
}

type saveAnswerRequest struct {
	QuestionID string `json:"question_id"`
	Value      string `json:"value"`
}

// saveAnswer handles POST /api/sessions/{session_id}/answers: periodic
// autosave from the exam page.
func (s *Server) saveAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if !types.IsValidID(sessionID) {
		s.sendError(w, "invalid session id", http.StatusBadRequest)
		return
	}

	var req saveAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !types.IsValidID(req.QuestionID) {
		s.sendError(w, "invalid question id", http.StatusBadRequest)
		return
	}

	if err := s.manager.SaveAnswer(r.Context(), sessionID, req.QuestionID, req.Value); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			s.sendError(w, "session not found", http.StatusNotFound)
		case errors.Is(err, session.ErrSessionTerminated):
			s.sendError(w, "session already terminated", http.StatusConflict)
		default:
			log.Printf("Failed to save answer for session %s: %v", sessionID, err)
			s.sendError(w, "failed to save answer", http.StatusInternalServerError)
		}
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

type recordActivityRequest struct {
	ActivityType string `json:"activity_type"`
	Severity     string `json:"severity"`
	Description  string `json:"description"`
}

// recordActivity handles POST /api/sessions/{session_id}/activity: the HTTP
// fallback for behavior events when no WebSocket is connected.
func (s *Server) recordActivity(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if !types.IsValidID(sessionID) {
		s.sendError(w, "invalid session id", http.StatusBadRequest)
		return
	}

	var req recordActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.ActivityType == "" {
		s.sendError(w, "activity_type is required", http.StatusBadRequest)
		return
	}
	if !types.IsValidSeverity(req.Severity) {
		req.Severity = types.SeverityLow
	}

	actor, err := s.manager.GetActor(sessionID)
	if err != nil {
		s.sendError(w, "session not found", http.StatusNotFound)
		return
	}
	if err := actor.Activity(req.ActivityType, req.Severity, req.Description); err != nil {
		s.sendError(w, "session already terminated", http.StatusConflict)
		return
	}

	s.sendJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// submitAttempt handles POST /api/sessions/{session_id}/submit: the HTTP
// path for manual submission. Idempotent against the WebSocket path.
func (s *Server) submitAttempt(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if !types.IsValidID(sessionID) {
		s.sendError(w, "invalid session id", http.StatusBadRequest)
		return
	}

	actor, err := s.manager.GetActor(sessionID)
	if err != nil {
		// No running actor: already terminated, or unknown.
		sess, lookupErr := s.store.GetSession(r.Context(), sessionID)
		if lookupErr != nil {
			s.sendError(w, "session not found", http.StatusNotFound)
			return
		}
		s.sendJSON(w, http.StatusOK, map[string]interface{}{
			"status": "already_submitted",
			"reason": sess.TerminationReason,
		})
		return
	}

	if err := actor.ManualSubmit(); err != nil {
		s.sendError(w, "session already terminated", http.StatusConflict)
		return
	}

	s.sendJSON(w, http.StatusAccepted, map[string]string{"status": "submitting"})
}

// forceEndExam handles POST /api/exams/{exam_id}/force-end. Running
// sessions observe the flag within one status poll interval.
func (s *Server) forceEndExam(w http.ResponseWriter, r *http.Request) {
	examID := mux.Vars(r)["exam_id"]
	if !types.IsValidID(examID) {
		s.sendError(w, "invalid exam id", http.StatusBadRequest)
		return
	}

	if err := s.store.ForceEndExam(r.Context(), examID, time.Now()); err != nil {
		if errors.Is(err, interfaces.ErrExamNotFound) {
			s.sendError(w, "exam not found", http.StatusNotFound)
			return
		}
		log.Printf("Failed to force-end exam %s: %v", examID, err)
		s.sendError(w, "failed to force-end exam", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"status": "force_ended"})
}

type extendExamRequest struct {
	EndsAt time.Time `json:"ends_at"`
}

// extendExam handles POST /api/exams/{exam_id}/extend. Sessions pick up the
// new end time through their status poll; only extensions apply.
func (s *Server) extendExam(w http.ResponseWriter, r *http.Request) {
	examID := mux.Vars(r)["exam_id"]
	if !types.IsValidID(examID) {
		s.sendError(w, "invalid exam id", http.StatusBadRequest)
		return
	}

	var req extendExamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.EndsAt.IsZero() || !req.EndsAt.After(time.Now()) {
		s.sendError(w, "ends_at must be in the future", http.StatusBadRequest)
		return
	}

	if err := s.store.ExtendExam(r.Context(), examID, req.EndsAt); err != nil {
		if errors.Is(err, interfaces.ErrExamNotFound) {
			s.sendError(w, "exam not found", http.StatusNotFound)
			return
		}
		log.Printf("Failed to extend exam %s: %v", examID, err)
		s.sendError(w, "failed to extend exam", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"status": "extended"})
}

// healthCheck handles GET /health.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.store.HealthCheck(r.Context()); err != nil {
		log.Printf("Health check failed: %v", err)
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	s.sendJSON(w, code, map[string]interface{}{
		"status":          status,
		"active_sessions": s.manager.ActiveCount(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, map[string]string{"error": message})
}
