// Package wsctl implements the Trigger Ingress control plane
// described in spec.md §4.H: a bidirectional JSON message protocol
// over WebSocket at /ws/trigger that lets UI clients trigger
// workflows, subscribe to ADW ids, and exchange pings.
package wsctl

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kvnkishore11/agentickanban/internal/connmgr"
	"github.com/kvnkishore11/agentickanban/internal/launcher"
	"github.com/kvnkishore11/agentickanban/internal/logging"
	"github.com/kvnkishore11/agentickanban/pkg/events"
)

// inboundMessage is the envelope every client-to-server message takes:
// {type, data}.
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handler upgrades HTTP connections to the control WebSocket and
// dispatches inbound messages per spec.md §4.H.
type Handler struct {
	conns    *connmgr.Manager
	launcher *launcher.Launcher
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler bound to conns and launcher.
func NewHandler(conns *connmgr.Manager, l *launcher.Launcher) *Handler {
	return &Handler{
		conns:    conns,
		launcher: l,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// ServeHTTP upgrades the connection and runs its read loop until
// disconnect.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("wsctl: upgrade failed: %v", err)
		return
	}

	connectionID := h.conns.Connect(conn, map[string]string{
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.UserAgent(),
	})
	defer h.conns.Disconnect(connectionID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.conns.Touch(connectionID)
		h.dispatch(connectionID, raw)
	}
}

func (h *Handler) dispatch(connectionID string, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.conns.SendError(connectionID, "validation_error", "malformed message envelope", nil)
		return
	}

	switch msg.Type {
	case "trigger_workflow":
		h.handleTrigger(connectionID, msg.Data)
	case "ping":
		h.handlePing(connectionID, msg.Data)
	case "register_session":
		h.handleRegisterSession(connectionID, msg.Data)
	case "subscribe_adw":
		h.handleSubscription(connectionID, msg.Data, h.conns.SubscribeToADW)
	case "unsubscribe_adw":
		h.handleSubscription(connectionID, msg.Data, h.conns.UnsubscribeFromADW)
	case "ticket_notification":
		h.handleTicketNotification(connectionID, msg.Data)
	case "workflow_log":
		h.handleWorkflowLog(msg.Data)
	default:
		h.conns.SendError(connectionID, "validation_error", "unknown message type: "+msg.Type, nil)
	}
}

func (h *Handler) handleTrigger(connectionID string, data json.RawMessage) {
	if !h.conns.CheckRateLimit(connectionID) {
		h.conns.SendError(connectionID, "rate_limit_error", "trigger rate limit exceeded (30/60s)", nil)
		return
	}

	var req launcher.TriggerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.conns.SendError(connectionID, "validation_error", "malformed trigger_workflow body", nil)
		return
	}

	result, err := h.launcher.Launch(req)
	if err != nil {
		h.conns.SendError(connectionID, "validation_error", err.Error(), nil)
		return
	}

	h.conns.SendTo(connectionID, events.New("trigger_response", result))
}

func (h *Handler) handlePing(connectionID string, data json.RawMessage) {
	var body struct {
		Timestamp string `json:"timestamp"`
	}
	_ = json.Unmarshal(data, &body)

	h.conns.SendTo(connectionID, events.New(events.TypePong, events.PongPayload{
		ConnectionID:    connectionID,
		ClientTimestamp: body.Timestamp,
	}))
}

func (h *Handler) handleRegisterSession(connectionID string, data json.RawMessage) {
	var body struct {
		SessionID  string      `json:"session_id"`
		ClientInfo interface{} `json:"client_info"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.SessionID == "" {
		h.conns.SendError(connectionID, "validation_error", "session_id is required for session registration", nil)
		return
	}

	h.conns.RegisterSession(connectionID, body.SessionID, body.ClientInfo)
	h.conns.SendTo(connectionID, events.New(events.TypeSessionRegistered, events.SessionRegisteredPayload{
		ConnectionID:    connectionID,
		ClientSessionID: body.SessionID,
	}))
}

// handleSubscription implements subscribe_adw / unsubscribe_adw by
// delegating to apply, shared with connmgr.SubscribeToADW and
// connmgr.UnsubscribeFromADW.
func (h *Handler) handleSubscription(connectionID string, data json.RawMessage, apply func(connectionID, adwID string)) {
	var body struct {
		ADWID string `json:"adw_id"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.ADWID == "" {
		h.conns.SendError(connectionID, "validation_error", "adw_id is required", nil)
		return
	}
	apply(connectionID, body.ADWID)
}

// ticketNotificationAck is the synchronous acknowledgement for an
// opaque ticket_notification message, a hook for out-of-band
// integrations per spec.md §4.H.
type ticketNotificationAck struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

func (h *Handler) handleTicketNotification(connectionID string, data json.RawMessage) {
	var body struct {
		ID       string `json:"id"`
		TicketID string `json:"ticket_id"`
	}
	_ = json.Unmarshal(data, &body)

	id := body.ID
	if id == "" {
		id = body.TicketID
	}
	h.conns.SendTo(connectionID, events.New("ticket_notification_ack", ticketNotificationAck{
		Status: "acknowledged",
		ID:     id,
	}))
}

func (h *Handler) handleWorkflowLog(data json.RawMessage) {
	var payload events.WorkflowLogPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	h.conns.Broadcast(events.New(events.TypeWorkflowLog, payload), true)
}
