package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"proctord/internal/config"
	"proctord/internal/session"
	"proctord/pkg/types"
)

// Handler upgrades session WebSocket requests and pumps client traffic into
// the owning actor. Binary messages carry webcam frames (one kind byte plus
// image payload); text messages carry JSON control messages.
type Handler struct {
	manager  *session.Manager
	registry *Registry
	config   *config.WebSocketConfig
	upgrader websocket.Upgrader
}

// NewHandler creates the WebSocket handler.
func NewHandler(manager *session.Manager, registry *Registry, cfg *config.WebSocketConfig) *Handler {
	return &Handler{
		manager:  manager,
		registry: registry,
		config:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The exam page is served from a different origin in every
			// deployment seen so far; session identity is what gates access.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles GET /ws/sessions/{session_id}. Validation happens
// before the upgrade so rejections surface as plain HTTP status codes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	studentID := r.URL.Query().Get("student_id")

	if !types.IsValidID(sessionID) || !types.IsValidID(studentID) {
		http.Error(w, "invalid session or student id", http.StatusBadRequest)
		return
	}

	actor, err := h.manager.GetActor(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if actor.StudentID() != studentID {
		http.Error(w, "session belongs to a different student", http.StatusForbidden)
		return
	}
	if actor.State() == types.StateTerminated {
		http.Error(w, "session already terminated", http.StatusGone)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed for session %s: %v", sessionID, err)
		return
	}

	conn := NewConnection(ws, sessionID, studentID)
	h.registry.Register(conn)
	log.Printf("Session %s: client connected", sessionID)

	// The connection arriving counts as liveness.
	_ = actor.Heartbeat()

	go h.readLoop(conn, ws, actor)
}

// readLoop is the per-connection reader. Any inbound message resets the
// read deadline; the actor's own heartbeat tracking handles policy.
func (h *Handler) readLoop(conn *Connection, ws *websocket.Conn, actor *session.Actor) {
	defer func() {
		h.registry.Unregister(conn)
		conn.Close()
		log.Printf("Session %s: client disconnected", conn.SessionID())
	}()

	ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		return nil
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))

		switch messageType {
		case websocket.BinaryMessage:
			if err := h.handleFrame(actor, data); err != nil {
				log.Printf("Session %s: bad frame: %v", conn.SessionID(), err)
			}

		case websocket.TextMessage:
			if err := h.handleControl(actor, data); err != nil {
				log.Printf("Session %s: bad control message: %v", conn.SessionID(), err)
			}
		}
	}
}

func (h *Handler) handleFrame(actor *session.Actor, data []byte) error {
	if len(data) < 2 {
		return ErrEmptyFrame
	}

	kind, payload := data[0], data[1:]
	switch kind {
	case types.FrameKindCalibration:
		return actor.CalibrationFrame(payload)
	case types.FrameKindMonitoring:
		// Dropped silently when an evaluation is already in flight.
		actor.MonitoringFrame(payload)
		return nil
	default:
		return ErrUnknownFrameKind
	}
}

func (h *Handler) handleControl(actor *session.Actor, data []byte) error {
	var msg types.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ErrInvalidJSON
	}

	switch msg.Type {
	case types.MessageTypeStartCalibration:
		return actor.StartCalibration()
	case types.MessageTypeTabSwitch:
		return actor.TabSwitch(msg.ClientTabCount)
	case types.MessageTypeFullscreenExit:
		return actor.FullscreenExit()
	case types.MessageTypeHeartbeat:
		return actor.Heartbeat()
	case types.MessageTypeManualSubmit:
		return actor.ManualSubmit()
	case types.MessageTypeActivity:
		if !types.IsValidSeverity(msg.Severity) {
			msg.Severity = types.SeverityLow
		}
		return actor.Activity(msg.ActivityType, msg.Severity, msg.Description)
	default:
		return ErrInvalidJSON
	}
}
