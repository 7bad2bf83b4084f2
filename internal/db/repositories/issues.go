package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kvnkishore11/agentickanban/pkg/models"
)

// IssueRepo allocates unique, monotonically increasing issue numbers
// and tracks the title/project/workflow each number belongs to, per
// spec.md §4.I.
type IssueRepo struct {
	db *sql.DB
}

// NewIssueRepo constructs an IssueRepo.
func NewIssueRepo(conn *sql.DB) *IssueRepo {
	return &IssueRepo{db: conn}
}

const allocateRetries = 3

// Allocate reserves the next sequential issue number inside its own
// transaction, retrying up to allocateRetries times with a backoff
// that grows by 100ms per attempt (100ms, 200ms, 300ms) when it loses a race to another
// allocator against the unique index on issue_number. Per spec.md
// §4.I step 5, any other error aborts without retry.
func (r *IssueRepo) Allocate(title, projectID, adwID string) (int64, error) {
	if projectID == "" {
		projectID = "default"
	}

	for attempt := 0; attempt < allocateRetries+1; attempt++ {
		number, err := r.attemptAllocate(title, projectID, adwID)
		if err == nil {
			return number, nil
		}
		if !isUniqueViolation(err) {
			return 0, err
		}
		if attempt < allocateRetries {
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
	}
	return 0, &ContentionError{Attempts: allocateRetries + 1}
}

func (r *IssueRepo) attemptAllocate(title, projectID, adwID string) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin allocation transaction: %w", err)
	}
	defer tx.Rollback()

	var max int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(issue_number), 0) FROM issue_tracker`).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read max issue number: %w", err)
	}
	next := max + 1

	if _, err := tx.Exec(`INSERT INTO issue_tracker (issue_number, issue_title, project_id, adw_id)
		VALUES (?, ?, ?, ?)`, next, title, projectID, adwID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit allocation transaction: %w", err)
	}
	return next, nil
}

// Get returns the live row for issueNumber.
func (r *IssueRepo) Get(issueNumber int64) (*models.IssueTrackerRow, error) {
	row := r.db.QueryRow(`SELECT issue_number, issue_title, project_id, adw_id, created_at, deleted_at
		FROM issue_tracker WHERE issue_number = ? AND deleted_at IS NULL`, issueNumber)
	return scanIssueRow(row)
}

// List returns live (or all, if includeDeleted) rows, optionally
// filtered by projectID, newest issue number first.
func (r *IssueRepo) List(projectID string, includeDeleted bool) ([]*models.IssueTrackerRow, error) {
	query := `SELECT issue_number, issue_title, project_id, adw_id, created_at, deleted_at FROM issue_tracker WHERE 1=1`
	var args []interface{}
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY issue_number DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var out []*models.IssueTrackerRow
	for rows.Next() {
		row, err := scanIssueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Delete removes issueNumber, soft by default or hard when permanent
// is set.
func (r *IssueRepo) Delete(issueNumber int64, permanent bool) error {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM issue_tracker WHERE issue_number = ?`, issueNumber).Scan(&count); err != nil {
		return fmt.Errorf("failed to check issue %d: %w", issueNumber, err)
	}
	if count == 0 {
		return &NotFoundError{Resource: "issue", Key: fmt.Sprintf("%d", issueNumber)}
	}

	if permanent {
		_, err := r.db.Exec(`DELETE FROM issue_tracker WHERE issue_number = ?`, issueNumber)
		return err
	}
	_, err := r.db.Exec(`UPDATE issue_tracker SET deleted_at = ? WHERE issue_number = ?`, time.Now().UTC(), issueNumber)
	return err
}

func scanIssueRow(row interface{ Scan(...interface{}) error }) (*models.IssueTrackerRow, error) {
	var out models.IssueTrackerRow
	var adwID sql.NullString
	var deletedAt sql.NullTime

	if err := row.Scan(&out.IssueNumber, &out.IssueTitle, &out.ProjectID, &adwID, &out.CreatedAt, &deletedAt); err != nil {
		return nil, err
	}
	if adwID.Valid {
		out.ADWID = adwID.String
	}
	if deletedAt.Valid {
		out.DeletedAt = &deletedAt.Time
	}
	return &out, nil
}
