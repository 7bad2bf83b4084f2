package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvnkishore11/agentickanban/internal/db"
	"github.com/kvnkishore11/agentickanban/internal/db/repositories"
)

func newTestLauncher(t *testing.T) (*Launcher, func()) {
	t.Helper()
	tdb, err := db.NewTest(t)
	require.NoError(t, err)
	repos := repositories.New(tdb, false, nil)
	l := New(repos, Options{RepoRoot: t.TempDir(), AgentsDir: "agents"})
	return l, func() { _ = tdb.Close() }
}

func TestValidate_UnknownWorkflowType(t *testing.T) {
	l, cleanup := newTestLauncher(t)
	defer cleanup()

	err := l.Validate(TriggerRequest{WorkflowType: "teleport"})
	require.Error(t, err)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestValidate_DependentWorkflowRequiresADWID(t *testing.T) {
	l, cleanup := newTestLauncher(t)
	defer cleanup()

	err := l.Validate(TriggerRequest{WorkflowType: "build"})
	require.Error(t, err)

	err = l.Validate(TriggerRequest{WorkflowType: "build", ADWID: "abc123"})
	assert.NoError(t, err)
}

func TestValidate_RequiresIssueContext(t *testing.T) {
	l, cleanup := newTestLauncher(t)
	defer cleanup()

	err := l.Validate(TriggerRequest{WorkflowType: "plan"})
	assert.Error(t, err)

	err = l.Validate(TriggerRequest{WorkflowType: "plan", IssueType: "/feature"})
	assert.NoError(t, err)
}

func TestGenerateADWID_Format(t *testing.T) {
	id := generateADWID()
	assert.Len(t, id, 8)
	for _, c := range id {
		assert.Contains(t, adwIDAlphabet, string(c))
	}
}

func TestSanitizedEnv_InheritsPathOnly(t *testing.T) {
	l, cleanup := newTestLauncher(t)
	defer cleanup()

	env := l.sanitizedEnv()
	require.NotEmpty(t, env)
	assert.Contains(t, env[0], "PATH=")
}

func TestLaunch_IncrementsTotalLaunched(t *testing.T) {
	tdb, err := db.NewTest(t)
	require.NoError(t, err)
	defer tdb.Close()
	repos := repositories.New(tdb, false, nil)

	l := New(repos, Options{RepoRoot: t.TempDir(), AgentsDir: "agents", RunnerScript: "true"})
	assert.EqualValues(t, 0, l.TotalLaunched())

	_, err = l.Launch(TriggerRequest{WorkflowType: "plan", IssueType: "/feature"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, l.TotalLaunched())

	_, err = l.Launch(TriggerRequest{WorkflowType: "plan", IssueType: "/bug"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, l.TotalLaunched())
}

func TestSanitizedEnv_InjectsGitHubPATAndDisableNotify(t *testing.T) {
	tdb, err := db.NewTest(t)
	require.NoError(t, err)
	defer tdb.Close()
	repos := repositories.New(tdb, false, nil)

	l := New(repos, Options{GitHubPAT: "secret-token", DisableNotify: true})
	env := l.sanitizedEnv()

	assert.Contains(t, env, "GH_TOKEN=secret-token")
	assert.Contains(t, env, "DISABLE_WEBSOCKET_NOTIFICATIONS=true")
}
