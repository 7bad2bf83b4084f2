package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvnkishore11/agentickanban/internal/config"
	"github.com/kvnkishore11/agentickanban/internal/db"
	"github.com/kvnkishore11/agentickanban/internal/db/repositories"
)

func TestBoolToStatus(t *testing.T) {
	assert.Equal(t, "healthy", boolToStatus(true))
	assert.Equal(t, "unhealthy", boolToStatus(false))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tdb, err := db.NewTest(t)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tdb.Close() })

	cfg := config.Default()
	cfg.RepoRoot = t.TempDir()
	repos := repositories.New(tdb, false, nil)
	return New(cfg, repos)
}

func doJSON(s *Server, handler gin.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")
	handler(c)
	return w
}

func TestCreateWorkflow_DuplicateADWIDConflicts(t *testing.T) {
	s := newTestServer(t)

	body := `{"adw_id":"testadw1","issue_number":999,"issue_title":"T"}`
	w := doJSON(s, s.createWorkflow, http.MethodPost, "/api/adws", body)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(s, s.createWorkflow, http.MethodPost, "/api/adws", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

// TestAllocateIssue_BindsIssueTitleField follows spec.md §8 scenario
// S1 literally: POST {issue_title: "a"} must yield {issue_number: 1}.
func TestAllocateIssue_BindsIssueTitleField(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, s.allocateIssue, http.MethodPost, "/api/issues", `{"issue_title":"a"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"issue_number":1`)
}

func TestHealth_ReportsUptimeAndTriggerCount(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, s.health, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_workflows_triggered":0`)
	assert.Contains(t, w.Body.String(), `"uptime_seconds"`)
}
