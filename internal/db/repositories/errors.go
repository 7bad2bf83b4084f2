package repositories

import (
	"fmt"
	"strings"
)

// ConflictError indicates a unique-constraint collision at the API
// boundary: an adw_id or issue_number already in use.
type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.Key)
}

// NotFoundError indicates the requested row is absent or soft-deleted.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// ContentionError indicates the issue allocator exhausted its retry
// budget against a unique-constraint violation.
type ContentionError struct {
	Attempts int
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("issue number allocation failed after %d attempts due to contention", e.Attempts)
}

// isUniqueViolation recognizes modernc.org/sqlite's unique-constraint
// error text. The driver surfaces SQLite errors as plain strings
// rather than a typed sentinel, so we match on the message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
