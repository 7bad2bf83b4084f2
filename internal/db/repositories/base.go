package repositories

import (
	"database/sql"

	"github.com/kvnkishore11/agentickanban/internal/db"
)

// Repositories aggregates every repository the orchestrator needs,
// wired against a single shared connection.
type Repositories struct {
	Workflows *WorkflowRepo
	Issues    *IssueRepo

	db db.Database
}

// New builds Repositories against database. dualWrite and
// stateFilePath configure the workflows repo's adw_state.json mirror
// (see internal/config.Config.DBOnly and Config.StateFilePath).
func New(database db.Database, dualWrite bool, stateFilePath func(adwID string) string) *Repositories {
	conn := database.Conn()
	return &Repositories{
		Workflows: NewWorkflowRepo(conn, dualWrite, stateFilePath),
		Issues:    NewIssueRepo(conn),
		db:        database,
	}
}

// BeginTx starts a database transaction.
func (r *Repositories) BeginTx() (*sql.Tx, error) {
	return r.db.Conn().Begin()
}
