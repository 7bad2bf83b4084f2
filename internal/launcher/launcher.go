// Package launcher implements the Worker Launcher (spec.md §4.G): it
// validates a trigger request, upserts the workflow record, and
// detaches a worker subprocess with a sanitized environment.
package launcher

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/kvnkishore11/agentickanban/internal/db/repositories"
	"github.com/kvnkishore11/agentickanban/internal/logging"
	"github.com/kvnkishore11/agentickanban/pkg/models"
)

// dependentWorkflows is the set of workflow_types that require an
// existing worktree (and therefore an existing adw_id), per spec.md
// §4.G validation rule 2.
var dependentWorkflows = map[string]bool{
	"build":    true,
	"test":     true,
	"review":   true,
	"document": true,
	"ship":     true,
}

// knownWorkflows is the registry of workflow_type names the launcher
// accepts. Kept alongside dependentWorkflows so operators extending
// the pipeline touch one file.
var knownWorkflows = map[string]bool{
	"plan": true, "build": true, "test": true, "review": true,
	"document": true, "ship": true, "patch": true,
}

// TriggerRequest is the input contract described in spec.md §4.G.
type TriggerRequest struct {
	WorkflowType string                 `json:"workflow_type"`
	ADWID        string                 `json:"adw_id,omitempty"`
	IssueNumber  *int64                 `json:"issue_number,omitempty"`
	IssueType    string                 `json:"issue_type,omitempty"`
	IssueJSON    map[string]interface{} `json:"issue_json,omitempty"`
	ModelSet     string                 `json:"model_set,omitempty"`
}

// ValidationError reports the first validation rule a TriggerRequest
// failed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Result is returned synchronously to the caller; the server never
// waits for the worker itself.
type Result struct {
	Status       string `json:"status"`
	ADWID        string `json:"adw_id"`
	WorkflowName string `json:"workflow_name"`
	LogsPath     string `json:"logs_path"`
}

// Options configures how the launcher spawns worker processes.
type Options struct {
	RepoRoot           string
	AgentsDir          string
	EnvFile            string
	GitHubPAT          string
	RunnerScript       string // e.g. "adw_modules/run_tool.py"; invoked as `<RunnerScript> run-tool <workflow_type>.py <args...>`
	DisableNotify      bool
}

// Launcher wires trigger validation, state store upserts, and process
// spawning together.
type Launcher struct {
	repos *repositories.Repositories
	opts  Options

	mu      sync.Mutex
	total   int64
}

// New constructs a Launcher.
func New(repos *repositories.Repositories, opts Options) *Launcher {
	return &Launcher{repos: repos, opts: opts}
}

// TotalLaunched reports how many workflows this launcher has
// successfully accepted since process start, surfaced by GET /health.
func (l *Launcher) TotalLaunched() int64 {
	return atomic.LoadInt64(&l.total)
}

// Validate applies spec.md §4.G's three validation rules, rejecting
// on the first failure.
func (l *Launcher) Validate(req TriggerRequest) error {
	if !knownWorkflows[req.WorkflowType] {
		return &ValidationError{Reason: fmt.Sprintf("unknown workflow_type %q", req.WorkflowType)}
	}
	if dependentWorkflows[req.WorkflowType] && req.ADWID == "" {
		return &ValidationError{Reason: fmt.Sprintf("workflow_type %q requires an existing adw_id", req.WorkflowType)}
	}
	hasIssueContext := req.IssueNumber != nil || req.IssueType != "" || req.IssueJSON != nil || req.ADWID != ""
	if !hasIssueContext {
		return &ValidationError{Reason: "at least one of issue_number, issue_type, issue_json, or adw_id is required"}
	}
	return nil
}

// Launch validates req, upserts the workflow record, spawns the
// detached worker, and returns an accept-token without waiting for
// the worker to run, per spec.md §4.G.
func (l *Launcher) Launch(req TriggerRequest) (*Result, error) {
	if err := l.Validate(req); err != nil {
		return nil, err
	}

	adwID := req.ADWID
	if adwID == "" {
		adwID = generateADWID()
	}

	issueClass := models.IssueClass("")
	if req.IssueType != "" {
		issueClass = models.IssueClass(strings.TrimPrefix(req.IssueType, "/"))
	}

	dataSource := models.DataSourceGitHub
	var issueJSONRaw []byte
	if req.IssueJSON != nil {
		dataSource = models.DataSourceKanban
		if encoded, err := marshalJSON(req.IssueJSON); err == nil {
			issueJSONRaw = encoded
		}
	}

	modelSet := models.ModelSetBase
	if req.ModelSet != "" {
		modelSet = models.ModelSet(req.ModelSet)
	}

	if _, err := l.upsertWorkflow(adwID, req, issueClass, dataSource, issueJSONRaw, modelSet); err != nil {
		return nil, fmt.Errorf("failed to upsert workflow %s: %w", adwID, err)
	}

	logsPath := filepath.Join(l.opts.AgentsDir, adwID)
	if err := l.spawnWorker(adwID, req.WorkflowType); err != nil {
		return nil, fmt.Errorf("failed to spawn worker for %s: %w", adwID, err)
	}
	atomic.AddInt64(&l.total, 1)

	return &Result{
		Status:       "accepted",
		ADWID:        adwID,
		WorkflowName: req.WorkflowType,
		LogsPath:     logsPath,
	}, nil
}

func (l *Launcher) upsertWorkflow(adwID string, req TriggerRequest, issueClass models.IssueClass, dataSource models.DataSource, issueJSON []byte, modelSet models.ModelSet) (*models.Workflow, error) {
	existing, err := l.repos.Workflows.GetWorkflow(adwID)
	if err == nil && existing != nil {
		update := models.WorkflowUpdate{
			ModelSet:   &modelSet,
			DataSource: &dataSource,
		}
		if req.IssueNumber != nil {
			update.IssueNumber = req.IssueNumber
		}
		if issueClass != "" {
			update.IssueClass = &issueClass
		}
		if len(issueJSON) > 0 {
			update.IssueJSON = issueJSON
		}
		return l.repos.Workflows.UpdateWorkflow(adwID, update)
	}

	w := &models.Workflow{
		ADWID:        adwID,
		IssueNumber:  req.IssueNumber,
		IssueClass:   issueClass,
		WorkflowName: req.WorkflowType,
		ModelSet:     modelSet,
		DataSource:   dataSource,
		IssueJSON:    issueJSON,
	}
	return l.repos.Workflows.CreateWorkflow(w)
}

// spawnWorker builds a sanitized environment (inheriting only PATH
// plus the .env file's contents, with GITHUB_PAT forwarded as
// GH_TOKEN) and detaches a new OS process in its own session so the
// HTTP server does not own it, per spec.md §4.G step 3-4.
func (l *Launcher) spawnWorker(adwID, workflowType string) error {
	env := l.sanitizedEnv()

	args := []string{"run-tool", workflowType + ".py", "--adw-id", adwID}
	runner := l.opts.RunnerScript
	if runner == "" {
		runner = "uv"
	}

	cmd := exec.Command(runner, args...)
	cmd.Dir = l.opts.RepoRoot
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	// The server never joins the worker; release it to init so it
	// survives the server's own lifecycle, per spec.md §5.
	go func() {
		_ = cmd.Wait()
	}()

	logging.Info("launcher: spawned worker pid=%d adw_id=%s workflow=%s", cmd.Process.Pid, adwID, workflowType)
	return nil
}

// sanitizedEnv inherits only PATH plus whatever the configured .env
// file defines, injecting GH_TOKEN from the configured GitHub PAT.
func (l *Launcher) sanitizedEnv() []string {
	env := []string{"PATH=" + os.Getenv("PATH")}

	if l.opts.EnvFile != "" {
		if f, err := os.Open(l.opts.EnvFile); err == nil {
			defer f.Close()
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				if strings.Contains(line, "=") {
					env = append(env, line)
				}
			}
		}
	}

	if l.opts.GitHubPAT != "" {
		env = append(env, "GH_TOKEN="+l.opts.GitHubPAT)
	}
	if l.opts.DisableNotify {
		env = append(env, "DISABLE_WEBSOCKET_NOTIFICATIONS=true")
	}
	return env
}

const adwIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func generateADWID() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = adwIDAlphabet[rand.Intn(len(adwIDAlphabet))]
	}
	return string(b)
}

func marshalJSON(v map[string]interface{}) ([]byte, error) {
	return json.Marshal(v)
}
