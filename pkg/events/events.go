// Package events defines the closed set of tagged-variant events
// exchanged on the orchestrator's broadcast bus, per spec.md §4.A.
// Every event serializes on the wire as {type, data, timestamp};
// unknown incoming types are logged and dropped, and unknown fields
// within a known type are ignored, keeping the wire format
// forward-compatible.
package events

import (
	"encoding/json"
	"time"
)

// Type is one tag from the closed event taxonomy.
type Type string

const (
	// Control
	TypeConnectionAck     Type = "connection_ack"
	TypePing              Type = "ping"
	TypePong              Type = "pong"
	TypeHeartbeat         Type = "heartbeat"
	TypeSessionRegistered Type = "session_registered"
	TypeError             Type = "error"

	// Workflow lifecycle
	TypeStatusUpdate           Type = "status_update"
	TypeWorkflowLog            Type = "workflow_log"
	TypeWorkflowPhaseTransition Type = "workflow_phase_transition"
	TypeStageStarted           Type = "stage_started"
	TypeStageCompleted         Type = "stage_completed"
	TypeStageFailed            Type = "stage_failed"
	TypeStageSkipped           Type = "stage_skipped"
	TypeWorkflowStarted        Type = "workflow_started"
	TypeWorkflowCompleted      Type = "workflow_completed"
	TypeWorkflowFailed         Type = "workflow_failed"
	TypeAgentUpdated           Type = "agent_updated"
	TypeAgentSummaryUpdate     Type = "agent_summary_update"

	// Agent output
	TypeThinkingBlock   Type = "thinking_block"
	TypeTextBlock       Type = "text_block"
	TypeToolUsePre      Type = "tool_use_pre"
	TypeToolUsePost     Type = "tool_use_post"
	TypeFileChanged     Type = "file_changed"
	TypeSummaryUpdate   Type = "summary_update"
	TypeAgentLog        Type = "agent_log"
	TypeAgentOutputChunk Type = "agent_output_chunk"
	TypeChatStream      Type = "chat_stream"

	// Artifact availability
	TypeScreenshotAvailable Type = "screenshot_available"
	TypeSpecCreated         Type = "spec_created"
)

// StatusUpdateState enumerates the states carried in a status_update
// event's data.status field.
type StatusUpdateState string

const (
	StatusStateStarted     StatusUpdateState = "started"
	StatusStateInProgress  StatusUpdateState = "in_progress"
	StatusStateCompleted   StatusUpdateState = "completed"
	StatusStateFailed      StatusUpdateState = "failed"
)

// LogLevel classifies a log line or agent_log event.
type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
	LevelSuccess LogLevel = "SUCCESS"
)

// Event is the wire envelope every message on the bus takes:
// {type, data, timestamp}. Data is left as json.RawMessage so the
// taxonomy's many payload shapes never need a discriminated-union
// decode at this layer; producers build Data from a typed payload via
// New, consumers decode it into the shape they expect for Type.
type Event struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an Event from a typed payload, marshaling it into Data.
// If payload cannot marshal, Data is set to an empty object ({}); New
// never panics.
func New(t Type, payload interface{}) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = json.RawMessage(`{}`)
	}
	return Event{Type: t, Data: data, Timestamp: time.Now().UTC()}
}

// ErrorPayload is the body of a "error" event, per spec.md §4.H.
type ErrorPayload struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

const (
	ErrorTypeValidation Type = "validation_error"
	ErrorTypeRateLimit  Type = "rate_limit_error"
	ErrorTypeSystem     Type = "system_error"
)

// ConnectionAckPayload acknowledges a new control connection.
type ConnectionAckPayload struct {
	ConnectionID string `json:"connection_id"`
}

// PongPayload echoes a client ping for latency measurement.
type PongPayload struct {
	ConnectionID    string `json:"connection_id"`
	ClientTimestamp string `json:"client_timestamp,omitempty"`
}

// SessionRegisteredPayload acknowledges register_session.
type SessionRegisteredPayload struct {
	ConnectionID    string `json:"connection_id"`
	ClientSessionID string `json:"session_id"`
}

// HeartbeatPayload carries the server's live connection count.
type HeartbeatPayload struct {
	ActiveConnections int `json:"active_connections"`
}

// StatusUpdatePayload is the body of a status_update event.
type StatusUpdatePayload struct {
	ADWID        string            `json:"adw_id"`
	WorkflowName string            `json:"workflow_name"`
	Status       StatusUpdateState `json:"status"`
	Message      string            `json:"message,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// WorkflowLogPayload is the body of a workflow_log event.
type WorkflowLogPayload struct {
	ADWID     string    `json:"adw_id"`
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StageEventPayload carries stage lifecycle transitions posted via
// POST /api/stage-event, per spec.md §4.D.
type StageEventPayload struct {
	ADWID           string          `json:"adw_id"`
	EventType       Type            `json:"event_type"`
	StageName       string          `json:"stage_name"`
	PreviousStage   string          `json:"previous_stage,omitempty"`
	NextStage       string          `json:"next_stage,omitempty"`
	Message         string          `json:"message"`
	DurationMs      *int64          `json:"duration_ms,omitempty"`
	Error           string          `json:"error,omitempty"`
	SkipReason      string          `json:"skip_reason,omitempty"`
	StageIndex      *int            `json:"stage_index,omitempty"`
	TotalStages     *int            `json:"total_stages,omitempty"`
	CompletedStages []string        `json:"completed_stages,omitempty"`
	PendingStages   []string        `json:"pending_stages,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	ProgressPercent float64         `json:"progress_percent"`
}

// WorkflowPhaseTransitionPayload is the body of a
// workflow_phase_transition event.
type WorkflowPhaseTransitionPayload struct {
	ADWID        string          `json:"adw_id"`
	PhaseFrom    string          `json:"phase_from,omitempty"`
	PhaseTo      string          `json:"phase_to"`
	WorkflowName string          `json:"workflow_name,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// AgentUpdatedPayload carries a workflow state snapshot and the set
// of top-level keys that changed since the last observed snapshot.
type AgentUpdatedPayload struct {
	ADWID         string          `json:"adw_id"`
	State         json.RawMessage `json:"state"`
	ChangedFields []string        `json:"changed_fields"`
}

// ThinkingBlockPayload is an agent reasoning chunk.
type ThinkingBlockPayload struct {
	ADWID         string `json:"adw_id"`
	Content       string `json:"content"`
	ReasoningType string `json:"reasoning_type,omitempty"`
	DurationMs    *int64 `json:"duration_ms,omitempty"`
	Sequence      *int   `json:"sequence,omitempty"`
}

// TextBlockPayload is a plain agent text chunk.
type TextBlockPayload struct {
	ADWID    string `json:"adw_id"`
	Content  string `json:"content"`
	Sequence *int   `json:"sequence,omitempty"`
}

// ToolUsePrePayload announces a tool invocation about to run.
type ToolUsePrePayload struct {
	ADWID      string          `json:"adw_id"`
	ToolName   string          `json:"tool_name"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolUseID  string          `json:"tool_use_id,omitempty"`
}

// ToolUsePostPayload announces a tool invocation's result.
type ToolUsePostPayload struct {
	ADWID      string  `json:"adw_id"`
	ToolName   string  `json:"tool_name"`
	ToolOutput string  `json:"tool_output,omitempty"`
	Status     string  `json:"status"`
	Error      *string `json:"error"`
	ToolUseID  string  `json:"tool_use_id,omitempty"`
	DurationMs *int64  `json:"duration_ms,omitempty"`
}

// FileChangedPayload announces a file mutation an agent made. Diff
// carries the text as received; neither the JSONL parser nor the HTTP
// intake truncates it, whatever its length.
type FileChangedPayload struct {
	ADWID        string `json:"adw_id"`
	FilePath     string `json:"file_path"`
	Operation    string `json:"operation"`
	Diff         string `json:"diff,omitempty"`
	Summary      string `json:"summary,omitempty"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// AgentLogPayload is a free-form leveled log line emitted by an
// agent subdirectory's execution.log or inferred from system/init
// JSONL records.
type AgentLogPayload struct {
	ADWID     string   `json:"adw_id"`
	AgentRole string   `json:"agent_role,omitempty"`
	Message   string   `json:"message"`
	Level     LogLevel `json:"level"`
	Source    string   `json:"source"`
	SessionID string   `json:"session_id,omitempty"`
}

// AgentOutputChunkPayload carries a raw streaming chunk posted
// through the HTTP intake.
type AgentOutputChunkPayload struct {
	ADWID     string `json:"adw_id"`
	AgentRole string `json:"agent_role"`
	Content   string `json:"content"`
}

// ScreenshotAvailablePayload announces a new review screenshot under
// review_img/.
type ScreenshotAvailablePayload struct {
	ADWID          string `json:"adw_id"`
	ScreenshotPath string `json:"screenshot_path"`
	ScreenshotType string `json:"screenshot_type"`
	FileSize       int64  `json:"file_size"`
	CreatedAt      string `json:"created_at"`
	FileName       string `json:"file_name"`
}

// SpecCreatedPayload announces a new spec markdown file.
type SpecCreatedPayload struct {
	ADWID     string `json:"adw_id"`
	SpecPath  string `json:"spec_path"`
	SpecType  string `json:"spec_type"`
	FileSize  int64  `json:"file_size"`
	CreatedAt string `json:"created_at"`
	FileName  string `json:"file_name"`
}

// ADWScoped reports the adw_id a workflow-scoped event carries, used
// by the connection manager to route broadcast_for_adw without
// needing to know each payload's concrete shape. Returns "" and false
// when Data does not carry an adw_id field (control events).
func (e Event) ADWScoped() (string, bool) {
	var probe struct {
		ADWID string `json:"adw_id"`
	}
	if err := json.Unmarshal(e.Data, &probe); err != nil || probe.ADWID == "" {
		return "", false
	}
	return probe.ADWID, true
}
