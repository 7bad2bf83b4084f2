// Package ingress implements the HTTP intake surface described in
// spec.md §4.D: a set of POST endpoints agent worker processes call
// to report progress. Each handler validates its required fields,
// translates the body into a taxonomy event, and fans it out through
// the connection manager. POST /workflow-updates broadcasts to every
// connection with session dedup; the other endpoints are scoped to the
// reporting adw_id.
package ingress

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kvnkishore11/agentickanban/internal/connmgr"
	"github.com/kvnkishore11/agentickanban/internal/db/repositories"
	"github.com/kvnkishore11/agentickanban/pkg/events"
	"github.com/kvnkishore11/agentickanban/pkg/models"
)

func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Handlers binds the connection manager and state repositories the
// intake endpoints need.
type Handlers struct {
	conns *connmgr.Manager
	repos *repositories.Repositories
}

// New constructs Handlers.
func New(conns *connmgr.Manager, repos *repositories.Repositories) *Handlers {
	return &Handlers{conns: conns, repos: repos}
}

// RegisterRoutes mounts every intake endpoint under group.
func (h *Handlers) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/workflow-updates", h.workflowUpdates)
	group.POST("/stage-event", h.stageEvent)
	group.POST("/agent-state-update", h.agentStateUpdate)
	group.POST("/workflow-phase-transition", h.workflowPhaseTransition)
	group.POST("/agent-output-chunk", h.agentOutputChunk)
	group.POST("/screenshot-available", h.screenshotAvailable)
	group.POST("/spec-created", h.specCreated)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

// workflowUpdatesRequest is the body of POST /api/workflow-updates:
// type selects between a status_update announcement and a plain
// workflow_log line, per spec.md §4.D item 1 ("type ∈ {status_update,
// workflow_log}" with type-specific required fields).
type workflowUpdatesRequest struct {
	Type         string                   `json:"type"`
	ADWID        string                   `json:"adw_id" binding:"required"`
	WorkflowName string                   `json:"workflow_name"`
	Status       events.StatusUpdateState `json:"status"`
	Message      string                   `json:"message"`
	Level        events.LogLevel          `json:"level"`
	EventType    string                   `json:"event_type"`
	FieldChanged string                   `json:"field_changed"`
	OldValue     string                   `json:"old_value"`
	NewValue     string                   `json:"new_value"`
}

func (h *Handlers) workflowUpdates(c *gin.Context) {
	var req workflowUpdatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "adw_id is required: "+err.Error())
		return
	}

	updateType := req.Type
	if updateType == "" {
		updateType = "status_update"
	}

	var ev events.Event
	switch updateType {
	case "workflow_log":
		if req.Message == "" {
			badRequest(c, "message is required for workflow_log updates")
			return
		}
		ev = events.New(events.TypeWorkflowLog, events.WorkflowLogPayload{
			ADWID:   req.ADWID,
			Message: req.Message,
			Level:   req.Level,
		})

	case "status_update":
		if req.Status == "" {
			badRequest(c, "status is required for status_update updates")
			return
		}
		if req.EventType != "" {
			_ = h.repos.Workflows.AppendActivity(models.ActivityLogEntry{
				ADWID:        req.ADWID,
				EventType:    req.EventType,
				FieldChanged: req.FieldChanged,
				OldValue:     req.OldValue,
				NewValue:     req.NewValue,
			})
		}
		ev = events.New(events.TypeStatusUpdate, events.StatusUpdatePayload{
			ADWID:        req.ADWID,
			WorkflowName: req.WorkflowName,
			Status:       req.Status,
			Message:      req.Message,
		})

	default:
		badRequest(c, "type must be status_update or workflow_log")
		return
	}

	// Broadcast with session dedup, per spec.md §4.D item 1 / §8
	// property 7: multiple connections sharing one client_session_id
	// must receive exactly one frame.
	h.conns.Broadcast(ev, true)
	c.JSON(http.StatusOK, gin.H{"status": "broadcast"})
}

// stageEventRequest is the body of POST /api/stage-event, carrying a
// stage lifecycle transition. progress_percent is derived as
// (stage_index+1)/total_stages*100 when the caller omits it (0 when
// total_stages is 0), per spec.md §4.D item 2.
type stageEventRequest struct {
	ADWID           string   `json:"adw_id" binding:"required"`
	EventType       string   `json:"event_type" binding:"required"`
	StageName       string   `json:"stage_name" binding:"required"`
	PreviousStage   string   `json:"previous_stage"`
	NextStage       string   `json:"next_stage"`
	Message         string   `json:"message"`
	DurationMs      *int64   `json:"duration_ms"`
	Error           string   `json:"error"`
	SkipReason      string   `json:"skip_reason"`
	StageIndex      *int     `json:"stage_index"`
	TotalStages     *int     `json:"total_stages"`
	CompletedStages []string `json:"completed_stages"`
	PendingStages   []string `json:"pending_stages"`
	ProgressPercent *float64 `json:"progress_percent"`
}

func (h *Handlers) stageEvent(c *gin.Context) {
	var req stageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "adw_id, event_type, and stage_name are required: "+err.Error())
		return
	}

	progress := 0.0
	switch {
	case req.ProgressPercent != nil:
		progress = *req.ProgressPercent
	case req.StageIndex != nil && req.TotalStages != nil && *req.TotalStages > 0:
		progress = 100 * float64(*req.StageIndex+1) / float64(*req.TotalStages)
	}

	h.conns.BroadcastForADW(req.ADWID, events.New(events.Type(req.EventType), events.StageEventPayload{
		ADWID:           req.ADWID,
		EventType:       events.Type(req.EventType),
		StageName:       req.StageName,
		PreviousStage:   req.PreviousStage,
		NextStage:       req.NextStage,
		Message:         req.Message,
		DurationMs:      req.DurationMs,
		Error:           req.Error,
		SkipReason:      req.SkipReason,
		StageIndex:      req.StageIndex,
		TotalStages:     req.TotalStages,
		CompletedStages: req.CompletedStages,
		PendingStages:   req.PendingStages,
		ProgressPercent: progress,
	}))
	c.JSON(http.StatusOK, gin.H{"status": "broadcast"})
}

// agentStateUpdateRequest is the body of POST /api/agent-state-update,
// allowing an agent to push a field-level workflow change directly
// without going through the filesystem monitor.
type agentStateUpdateRequest struct {
	ADWID        string                 `json:"adw_id" binding:"required"`
	ChangedFields []string              `json:"changed_fields"`
	State        map[string]interface{} `json:"state" binding:"required"`
}

func (h *Handlers) agentStateUpdate(c *gin.Context) {
	var req agentStateUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "adw_id and state are required: "+err.Error())
		return
	}

	stateRaw, err := marshalJSON(req.State)
	if err != nil {
		badRequest(c, "state must be a JSON object")
		return
	}

	update := models.WorkflowUpdate{OrchestratorState: stateRaw}
	if _, err := h.repos.Workflows.UpdateWorkflow(req.ADWID, update); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	h.conns.BroadcastForADW(req.ADWID, events.New(events.TypeAgentUpdated, events.AgentUpdatedPayload{
		ADWID:         req.ADWID,
		State:         stateRaw,
		ChangedFields: req.ChangedFields,
	}))
	c.JSON(http.StatusOK, gin.H{"status": "broadcast"})
}

type workflowPhaseTransitionRequest struct {
	ADWID        string                 `json:"adw_id" binding:"required"`
	PhaseFrom    string                 `json:"phase_from"`
	PhaseTo      string                 `json:"phase_to" binding:"required"`
	WorkflowName string                 `json:"workflow_name"`
	Metadata     map[string]interface{} `json:"metadata"`
}

func (h *Handlers) workflowPhaseTransition(c *gin.Context) {
	var req workflowPhaseTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "adw_id and phase_to are required: "+err.Error())
		return
	}

	var metaRaw []byte
	if req.Metadata != nil {
		metaRaw, _ = marshalJSON(req.Metadata)
	}

	if stage := stageFromPhase(req.PhaseTo); stage != "" {
		s := stage
		_, _ = h.repos.Workflows.UpdateWorkflow(req.ADWID, models.WorkflowUpdate{CurrentStage: &s})
	}

	h.conns.BroadcastForADW(req.ADWID, events.New(events.TypeWorkflowPhaseTransition, events.WorkflowPhaseTransitionPayload{
		ADWID:        req.ADWID,
		PhaseFrom:    req.PhaseFrom,
		PhaseTo:      req.PhaseTo,
		WorkflowName: req.WorkflowName,
		Metadata:     metaRaw,
	}))
	c.JSON(http.StatusOK, gin.H{"status": "broadcast"})
}

func stageFromPhase(phase string) models.Stage {
	switch phase {
	case "plan", "build", "test", "review", "document":
		return models.Stage(phase)
	case "ready-to-merge", "completed", "errored":
		return models.Stage(phase)
	default:
		return ""
	}
}

type agentOutputChunkRequest struct {
	ADWID     string `json:"adw_id" binding:"required"`
	AgentRole string `json:"agent_role"`
	Content   string `json:"content" binding:"required"`
}

func (h *Handlers) agentOutputChunk(c *gin.Context) {
	var req agentOutputChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "adw_id and content are required: "+err.Error())
		return
	}
	h.conns.BroadcastForADW(req.ADWID, events.New(events.TypeAgentOutputChunk, events.AgentOutputChunkPayload{
		ADWID:     req.ADWID,
		AgentRole: req.AgentRole,
		Content:   req.Content,
	}))
	c.JSON(http.StatusOK, gin.H{"status": "broadcast"})
}

type screenshotAvailableRequest struct {
	ADWID          string `json:"adw_id" binding:"required"`
	ScreenshotPath string `json:"screenshot_path" binding:"required"`
	ScreenshotType string `json:"screenshot_type"`
	FileSize       int64  `json:"file_size"`
	FileName       string `json:"file_name"`
}

func (h *Handlers) screenshotAvailable(c *gin.Context) {
	var req screenshotAvailableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "adw_id and screenshot_path are required: "+err.Error())
		return
	}
	h.conns.BroadcastForADW(req.ADWID, events.New(events.TypeScreenshotAvailable, events.ScreenshotAvailablePayload{
		ADWID:          req.ADWID,
		ScreenshotPath: req.ScreenshotPath,
		ScreenshotType: req.ScreenshotType,
		FileSize:       req.FileSize,
		FileName:       req.FileName,
	}))
	c.JSON(http.StatusOK, gin.H{"status": "broadcast"})
}

type specCreatedRequest struct {
	ADWID    string `json:"adw_id" binding:"required"`
	SpecPath string `json:"spec_path" binding:"required"`
	SpecType string `json:"spec_type"`
	FileSize int64  `json:"file_size"`
	FileName string `json:"file_name"`
}

func (h *Handlers) specCreated(c *gin.Context) {
	var req specCreatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "adw_id and spec_path are required: "+err.Error())
		return
	}
	h.conns.BroadcastForADW(req.ADWID, events.New(events.TypeSpecCreated, events.SpecCreatedPayload{
		ADWID:    req.ADWID,
		SpecPath: req.SpecPath,
		SpecType: req.SpecType,
		FileSize: req.FileSize,
		FileName: req.FileName,
	}))
	c.JSON(http.StatusOK, gin.H{"status": "broadcast"})
}
