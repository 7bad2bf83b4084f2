package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kvnkishore11/agentickanban/pkg/models"
)

// WorkflowRepo is the single source of truth for workflow records and
// their activity log, per spec.md §4.B. When dualWrite is enabled it
// additionally mirrors every mutation to agents/<adw_id>/adw_state.json
// for backwards compatibility with tooling that reads the file
// directly; the database remains authoritative for all reads.
type WorkflowRepo struct {
	db            *sql.DB
	dualWrite     bool
	stateFilePath func(adwID string) string
}

// NewWorkflowRepo constructs a WorkflowRepo. stateFilePath may be nil
// when dualWrite is false.
func NewWorkflowRepo(conn *sql.DB, dualWrite bool, stateFilePath func(adwID string) string) *WorkflowRepo {
	return &WorkflowRepo{db: conn, dualWrite: dualWrite, stateFilePath: stateFilePath}
}

const workflowColumns = `id, adw_id, issue_number, issue_title, issue_body, issue_class, branch_name,
	worktree_path, current_stage, status, is_stuck, workflow_name, model_set, data_source,
	issue_json, orchestrator_state, patch_file, patch_history, patch_source_mode,
	backend_port, websocket_port, frontend_port, created_at, updated_at, completed_at, deleted_at`

// CreateWorkflow inserts a new workflow record. It fails with
// *ConflictError if adw_id is already present, or if issue_number
// collides with a live row in either the workflows table or the issue
// tracker.
func (r *WorkflowRepo) CreateWorkflow(w *models.Workflow) (*models.Workflow, error) {
	if w.ADWID == "" {
		return nil, fmt.Errorf("adw_id is required")
	}

	existing, err := r.GetWorkflow(w.ADWID)
	if err == nil && existing != nil {
		return nil, &ConflictError{Resource: "workflow", Key: w.ADWID}
	}

	if w.IssueNumber != nil {
		var count int
		if err := r.db.QueryRow(`SELECT COUNT(*) FROM workflows WHERE issue_number = ? AND deleted_at IS NULL`, *w.IssueNumber).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to check issue_number uniqueness: %w", err)
		}
		if count > 0 {
			return nil, &ConflictError{Resource: "issue_number", Key: fmt.Sprintf("%d", *w.IssueNumber)}
		}
		if err := r.db.QueryRow(`SELECT COUNT(*) FROM issue_tracker WHERE issue_number = ? AND deleted_at IS NULL`, *w.IssueNumber).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to check issue_number against issue tracker: %w", err)
		}
		if count > 0 {
			return nil, &ConflictError{Resource: "issue_number", Key: fmt.Sprintf("%d", *w.IssueNumber)}
		}
	}

	if w.CurrentStage == "" {
		w.CurrentStage = models.StageBacklog
	}
	if w.Status == "" {
		w.Status = models.StatusPending
	}
	if w.ModelSet == "" {
		w.ModelSet = models.ModelSetBase
	}

	now := time.Now().UTC()
	res, err := r.db.Exec(`
		INSERT INTO workflows (adw_id, issue_number, issue_title, issue_body, issue_class, branch_name,
			worktree_path, current_stage, status, is_stuck, workflow_name, model_set, data_source,
			issue_json, orchestrator_state, patch_file, patch_history, patch_source_mode,
			backend_port, websocket_port, frontend_port, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ADWID, w.IssueNumber, w.IssueTitle, w.IssueBody, string(w.IssueClass), w.BranchName,
		w.WorktreePath, string(w.CurrentStage), string(w.Status), w.IsStuck, w.WorkflowName,
		string(w.ModelSet), string(w.DataSource), rawOrNull(w.IssueJSON), rawOrNull(w.OrchestratorState),
		w.PatchFile, rawOrNull(w.PatchHistory), w.PatchSourceMode,
		w.BackendPort, w.WebSocketPort, w.FrontendPort, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Resource: "workflow", Key: w.ADWID}
		}
		return nil, fmt.Errorf("failed to insert workflow: %w", err)
	}

	id, _ := res.LastInsertId()
	created, err := r.getByID(id)
	if err != nil {
		return nil, err
	}

	r.mirrorToFile(created)
	return created, nil
}

// GetWorkflow returns the live (non-soft-deleted) row for adwID.
func (r *WorkflowRepo) GetWorkflow(adwID string) (*models.Workflow, error) {
	row := r.db.QueryRow(`SELECT `+workflowColumns+` FROM workflows WHERE adw_id = ? AND deleted_at IS NULL`, adwID)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "workflow", Key: adwID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow %s: %w", adwID, err)
	}
	return w, nil
}

func (r *WorkflowRepo) getByID(id int64) (*models.Workflow, error) {
	row := r.db.QueryRow(`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row)
}

// ListWorkflows returns live rows matching filter, newest first.
func (r *WorkflowRepo) ListWorkflows(filter models.WorkflowFilter) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE 1=1`
	var args []interface{}

	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Stage != "" {
		query += ` AND current_stage = ?`
		args = append(args, filter.Stage)
	}
	if filter.IsStuck != nil {
		query += ` AND is_stuck = ?`
		args = append(args, *filter.IsStuck)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateWorkflow applies partial to the live row for adwID. Setting
// CompletedAt coerces Status to completed, per spec.md §4.B.
func (r *WorkflowRepo) UpdateWorkflow(adwID string, partial models.WorkflowUpdate) (*models.Workflow, error) {
	current, err := r.GetWorkflow(adwID)
	if err != nil {
		return nil, err
	}

	if partial.CompletedAt != nil {
		completed := models.StatusCompleted
		partial.Status = &completed
	}

	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	addString := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	if partial.IssueNumber != nil {
		sets = append(sets, "issue_number = ?")
		args = append(args, *partial.IssueNumber)
	}
	addString("issue_title", partial.IssueTitle)
	addString("issue_body", partial.IssueBody)
	if partial.IssueClass != nil {
		sets = append(sets, "issue_class = ?")
		args = append(args, string(*partial.IssueClass))
	}
	addString("branch_name", partial.BranchName)
	addString("worktree_path", partial.WorktreePath)
	if partial.CurrentStage != nil {
		sets = append(sets, "current_stage = ?")
		args = append(args, string(*partial.CurrentStage))
	}
	if partial.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*partial.Status))
	}
	if partial.IsStuck != nil {
		sets = append(sets, "is_stuck = ?")
		args = append(args, *partial.IsStuck)
	}
	addString("workflow_name", partial.WorkflowName)
	if partial.ModelSet != nil {
		sets = append(sets, "model_set = ?")
		args = append(args, string(*partial.ModelSet))
	}
	if partial.DataSource != nil {
		sets = append(sets, "data_source = ?")
		args = append(args, string(*partial.DataSource))
	}
	if partial.IssueJSON != nil {
		sets = append(sets, "issue_json = ?")
		args = append(args, string(partial.IssueJSON))
	}
	if partial.OrchestratorState != nil {
		sets = append(sets, "orchestrator_state = ?")
		args = append(args, string(partial.OrchestratorState))
	}
	addString("patch_file", partial.PatchFile)
	if partial.PatchHistory != nil {
		sets = append(sets, "patch_history = ?")
		args = append(args, string(partial.PatchHistory))
	}
	addString("patch_source_mode", partial.PatchSourceMode)
	if partial.BackendPort != nil {
		sets = append(sets, "backend_port = ?")
		args = append(args, *partial.BackendPort)
	}
	if partial.WebSocketPort != nil {
		sets = append(sets, "websocket_port = ?")
		args = append(args, *partial.WebSocketPort)
	}
	if partial.FrontendPort != nil {
		sets = append(sets, "frontend_port = ?")
		args = append(args, *partial.FrontendPort)
	}
	if partial.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *partial.CompletedAt)
	}
	if partial.DeletedAt != nil {
		sets = append(sets, "deleted_at = ?")
		args = append(args, *partial.DeletedAt)
	}

	query := fmt.Sprintf(`UPDATE workflows SET %s WHERE adw_id = ? AND deleted_at IS NULL`, joinComma(sets))
	args = append(args, adwID)

	if _, err := r.db.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("failed to update workflow %s: %w", adwID, err)
	}

	_ = current
	updated, err := r.GetWorkflow(adwID)
	if err != nil {
		return nil, err
	}

	r.mirrorToFile(updated)
	return updated, nil
}

// AppendActivity inserts one append-only activity log row. Rows are
// never updated or deleted.
func (r *WorkflowRepo) AppendActivity(entry models.ActivityLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := r.db.Exec(`
		INSERT INTO activity_log (adw_id, event_type, event_data, field_changed, old_value, new_value, user, workflow_step, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ADWID, entry.EventType, rawOrNull(entry.EventData), entry.FieldChanged,
		entry.OldValue, entry.NewValue, entry.User, entry.WorkflowStep, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append activity for %s: %w", entry.ADWID, err)
	}
	return nil
}

// ListActivity returns a page of activity log rows for adwID, newest
// first, along with the total row count.
func (r *WorkflowRepo) ListActivity(adwID string, page, pageSize int) ([]models.ActivityLogEntry, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	var total int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM activity_log WHERE adw_id = ?`, adwID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count activity for %s: %w", adwID, err)
	}

	offset := (page - 1) * pageSize
	rows, err := r.db.Query(`
		SELECT id, adw_id, event_type, event_data, field_changed, old_value, new_value, user, workflow_step, timestamp
		FROM activity_log WHERE adw_id = ? ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, adwID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list activity for %s: %w", adwID, err)
	}
	defer rows.Close()

	var out []models.ActivityLogEntry
	for rows.Next() {
		var e models.ActivityLogEntry
		var eventData sql.NullString
		if err := rows.Scan(&e.ID, &e.ADWID, &e.EventType, &eventData, &e.FieldChanged, &e.OldValue, &e.NewValue, &e.User, &e.WorkflowStep, &e.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("failed to scan activity row: %w", err)
		}
		if eventData.Valid {
			e.EventData = json.RawMessage(eventData.String)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// DetectStuck flags rows with status=in_progress whose updated_at is
// older than threshold, restricted to adwID when non-empty, by setting
// is_stuck and status=stuck. Idempotent: a flagged row no longer has
// status in_progress, so a repeated call does not match it again.
func (r *WorkflowRepo) DetectStuck(threshold time.Duration, adwID string) (int, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	query := `UPDATE workflows SET is_stuck = 1, status = 'stuck', updated_at = ? WHERE status = 'in_progress' AND updated_at < ? AND deleted_at IS NULL`
	args := []interface{}{time.Now().UTC(), cutoff}
	if adwID != "" {
		query += ` AND adw_id = ?`
		args = append(args, adwID)
	}

	res, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to detect stuck workflows: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Health reports the store's basic liveness: whether it can be
// queried, and how many live workflow rows it holds.
func (r *WorkflowRepo) Health(path string) models.HealthReport {
	var count int64
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM workflows WHERE deleted_at IS NULL`).Scan(&count); err != nil {
		return models.HealthReport{Healthy: false, Path: path, Error: err.Error()}
	}
	return models.HealthReport{Healthy: true, Path: path, RowCount: count}
}

// DeduplicateIssueNumbers finds issue_tracker rows sharing an
// issue_number, keeps the oldest (by created_at) untouched, and
// reassigns every later duplicate to the next free number, mirroring
// each reassignment into the corresponding workflow row (adw_states)
// when the tracker row carries an adw_id, all in one transaction. The
// issue_tracker table is ground truth for allocated numbers (spec.md
// §4.B step 4 and scenario S4); workflows.issue_number is a mirror.
func (r *WorkflowRepo) DeduplicateIssueNumbers() (*models.DeduplicationResult, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin dedup transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT issue_number FROM issue_tracker
		WHERE deleted_at IS NULL
		GROUP BY issue_number HAVING COUNT(*) > 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate issue numbers: %w", err)
	}
	var dupeNumbers []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, err
		}
		dupeNumbers = append(dupeNumbers, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &models.DeduplicationResult{DuplicatesFound: len(dupeNumbers)}

	var maxNumber int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(issue_number), 0) FROM issue_tracker`).Scan(&maxNumber); err != nil {
		return nil, fmt.Errorf("failed to read max issue number: %w", err)
	}
	if wfMax := int64(0); true {
		if err := tx.QueryRow(`SELECT COALESCE(MAX(issue_number), 0) FROM workflows WHERE deleted_at IS NULL`).Scan(&wfMax); err == nil && wfMax > maxNumber {
			maxNumber = wfMax
		}
	}

	for _, number := range dupeNumbers {
		type dupeRow struct {
			id    int64
			adwID string
			title string
		}
		drows, err := tx.Query(`SELECT id, adw_id, issue_title FROM issue_tracker WHERE issue_number = ? AND deleted_at IS NULL ORDER BY created_at ASC, id ASC`, number)
		if err != nil {
			return nil, fmt.Errorf("failed to load duplicate set for %d: %w", number, err)
		}
		var set []dupeRow
		for drows.Next() {
			var d dupeRow
			if err := drows.Scan(&d.id, &d.adwID, &d.title); err != nil {
				drows.Close()
				return nil, err
			}
			set = append(set, d)
		}
		drows.Close()
		if err := drows.Err(); err != nil {
			return nil, err
		}

		for i := 1; i < len(set); i++ {
			maxNumber++
			if _, err := tx.Exec(`UPDATE issue_tracker SET issue_number = ? WHERE id = ?`, maxNumber, set[i].id); err != nil {
				return nil, fmt.Errorf("failed to reassign tracker row %d: %w", set[i].id, err)
			}
			if set[i].adwID != "" {
				if _, err := tx.Exec(`UPDATE workflows SET issue_number = ?, updated_at = ? WHERE adw_id = ? AND deleted_at IS NULL`, maxNumber, time.Now().UTC(), set[i].adwID); err != nil {
					return nil, fmt.Errorf("failed to mirror reassignment into workflow %s: %w", set[i].adwID, err)
				}
			}
			result.RecordsReassigned++
			result.Reassignments = append(result.Reassignments, models.IssueReassignment{
				IssueTitle: set[i].title,
				ADWID:      set[i].adwID,
				OldNumber:  number,
				NewNumber:  maxNumber,
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dedup transaction: %w", err)
	}
	return result, nil
}

func (r *WorkflowRepo) mirrorToFile(w *models.Workflow) {
	if !r.dualWrite || r.stateFilePath == nil {
		return
	}
	path := r.stateFilePath(w.ADWID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, path)
}

func scanWorkflow(row interface{ Scan(...interface{}) error }) (*models.Workflow, error) {
	var w models.Workflow
	var issueNumber sql.NullInt64
	var issueClass, dataSource string
	var issueJSON, orchestratorState, patchHistory sql.NullString
	var backendPort, websocketPort, frontendPort sql.NullInt64
	var completedAt, deletedAt sql.NullTime

	err := row.Scan(
		&w.ID, &w.ADWID, &issueNumber, &w.IssueTitle, &w.IssueBody, &issueClass, &w.BranchName,
		&w.WorktreePath, &w.CurrentStage, &w.Status, &w.IsStuck, &w.WorkflowName, &w.ModelSet, &dataSource,
		&issueJSON, &orchestratorState, &w.PatchFile, &patchHistory, &w.PatchSourceMode,
		&backendPort, &websocketPort, &frontendPort, &w.CreatedAt, &w.UpdatedAt, &completedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	w.IssueClass = models.IssueClass(issueClass)
	w.DataSource = models.DataSource(dataSource)
	if issueNumber.Valid {
		v := issueNumber.Int64
		w.IssueNumber = &v
	}
	if issueJSON.Valid {
		w.IssueJSON = json.RawMessage(issueJSON.String)
	}
	if orchestratorState.Valid {
		w.OrchestratorState = json.RawMessage(orchestratorState.String)
	}
	if patchHistory.Valid {
		w.PatchHistory = json.RawMessage(patchHistory.String)
	}
	if backendPort.Valid {
		v := int(backendPort.Int64)
		w.BackendPort = &v
	}
	if websocketPort.Valid {
		v := int(websocketPort.Int64)
		w.WebSocketPort = &v
	}
	if frontendPort.Valid {
		v := int(frontendPort.Int64)
		w.FrontendPort = &v
	}
	if completedAt.Valid {
		w.CompletedAt = &completedAt.Time
	}
	if deletedAt.Valid {
		w.DeletedAt = &deletedAt.Time
	}

	return &w, nil
}

func rawOrNull(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
