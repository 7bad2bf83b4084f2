// Package models defines the persisted shapes shared across the
// orchestrator: workflow records, their activity log, and the issue
// number tracker.
package models

import (
	"encoding/json"
	"time"
)

// Stage enumerates the pipeline steps a workflow progresses through.
type Stage string

const (
	StageBacklog        Stage = "backlog"
	StagePlan           Stage = "plan"
	StageBuild          Stage = "build"
	StageTest           Stage = "test"
	StageReview         Stage = "review"
	StageDocument       Stage = "document"
	StageReadyToMerge   Stage = "ready-to-merge"
	StageCompleted      Stage = "completed"
	StageErrored        Stage = "errored"
)

// Status enumerates the coarse workflow execution status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusErrored    Status = "errored"
	StatusStuck      Status = "stuck"
)

// IssueClass enumerates the kind of change an issue represents.
type IssueClass string

const (
	IssueClassFeature IssueClass = "feature"
	IssueClassBug     IssueClass = "bug"
	IssueClassChore   IssueClass = "chore"
	IssueClassPatch   IssueClass = "patch"
)

// ModelSet selects which LLM tier a workflow's agents should use.
type ModelSet string

const (
	ModelSetBase  ModelSet = "base"
	ModelSetHeavy ModelSet = "heavy"
)

// DataSource identifies where a workflow's issue context originated.
type DataSource string

const (
	DataSourceGitHub DataSource = "github"
	DataSourceKanban DataSource = "kanban"
)

// Workflow is the durable, per-execution record described in spec.md §3.
type Workflow struct {
	ID         int64  `json:"id"`
	ADWID      string `json:"adw_id"`
	IssueNumber *int64 `json:"issue_number,omitempty"`

	IssueTitle string     `json:"issue_title,omitempty"`
	IssueBody  string     `json:"issue_body,omitempty"`
	IssueClass IssueClass `json:"issue_class,omitempty"`
	BranchName string     `json:"branch_name,omitempty"`
	WorktreePath string   `json:"worktree_path,omitempty"`

	CurrentStage Stage  `json:"current_stage"`
	Status       Status `json:"status"`
	IsStuck      bool   `json:"is_stuck"`

	WorkflowName string     `json:"workflow_name,omitempty"`
	ModelSet     ModelSet   `json:"model_set"`
	DataSource   DataSource `json:"data_source,omitempty"`

	IssueJSON         json.RawMessage `json:"issue_json,omitempty"`
	OrchestratorState json.RawMessage `json:"orchestrator_state,omitempty"`

	PatchFile       string          `json:"patch_file,omitempty"`
	PatchHistory    json.RawMessage `json:"patch_history,omitempty"`
	PatchSourceMode string          `json:"patch_source_mode,omitempty"`

	BackendPort   *int `json:"backend_port,omitempty"`
	WebSocketPort *int `json:"websocket_port,omitempty"`
	FrontendPort  *int `json:"frontend_port,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DeletedAt   *time.Time `json:"-"`
}

// ActivityLogEntry is one append-only row recording a state change or
// event of interest for a workflow.
type ActivityLogEntry struct {
	ID           int64           `json:"id"`
	ADWID        string          `json:"adw_id"`
	EventType    string          `json:"event_type"`
	EventData    json.RawMessage `json:"event_data,omitempty"`
	FieldChanged string          `json:"field_changed,omitempty"`
	OldValue     string          `json:"old_value,omitempty"`
	NewValue     string          `json:"new_value,omitempty"`
	User         string          `json:"user,omitempty"`
	WorkflowStep string          `json:"workflow_step,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// IssueTrackerRow binds an allocated issue number to a title and,
// optionally, the workflow it belongs to.
type IssueTrackerRow struct {
	IssueNumber int64      `json:"issue_number"`
	IssueTitle  string     `json:"issue_title"`
	ProjectID   string     `json:"project_id"`
	ADWID       string     `json:"adw_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"-"`
}

// WorkflowFilter narrows a ListWorkflows query.
type WorkflowFilter struct {
	Status         string
	Stage          string
	IsStuck        *bool
	IncludeDeleted bool
}

// WorkflowUpdate carries the subset of Workflow columns an
// UpdateWorkflow call is permitted to change. Nil means "leave as is".
type WorkflowUpdate struct {
	IssueNumber       *int64          `json:"issue_number,omitempty"`
	IssueTitle        *string         `json:"issue_title,omitempty"`
	IssueBody         *string         `json:"issue_body,omitempty"`
	IssueClass        *IssueClass     `json:"issue_class,omitempty"`
	BranchName        *string         `json:"branch_name,omitempty"`
	WorktreePath      *string         `json:"worktree_path,omitempty"`
	CurrentStage      *Stage          `json:"current_stage,omitempty"`
	Status            *Status         `json:"status,omitempty"`
	IsStuck           *bool           `json:"is_stuck,omitempty"`
	WorkflowName      *string         `json:"workflow_name,omitempty"`
	ModelSet          *ModelSet       `json:"model_set,omitempty"`
	DataSource        *DataSource     `json:"data_source,omitempty"`
	IssueJSON         json.RawMessage `json:"issue_json,omitempty"`
	OrchestratorState json.RawMessage `json:"orchestrator_state,omitempty"`
	PatchFile         *string         `json:"patch_file,omitempty"`
	PatchHistory      json.RawMessage `json:"patch_history,omitempty"`
	PatchSourceMode   *string         `json:"patch_source_mode,omitempty"`
	BackendPort       *int            `json:"backend_port,omitempty"`
	WebSocketPort     *int            `json:"websocket_port,omitempty"`
	FrontendPort      *int            `json:"frontend_port,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	DeletedAt         *time.Time      `json:"deleted_at,omitempty"`
}

// DeduplicationResult summarizes one run of deduplicate_issue_numbers.
type DeduplicationResult struct {
	DuplicatesFound    int                  `json:"duplicates_found"`
	RecordsReassigned  int                  `json:"records_reassigned"`
	Reassignments      []IssueReassignment  `json:"reassignments"`
}

// IssueReassignment records one duplicate row moved to a new number.
type IssueReassignment struct {
	IssueTitle string `json:"issue_title"`
	ADWID      string `json:"adw_id,omitempty"`
	OldNumber  int64  `json:"old_number"`
	NewNumber  int64  `json:"new_number"`
}

// HealthReport is the store's self-reported health snapshot.
type HealthReport struct {
	Healthy  bool   `json:"healthy"`
	Path     string `json:"path"`
	RowCount int64  `json:"row_count"`
	Error    string `json:"error,omitempty"`
}
