package monitor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kvnkishore11/agentickanban/internal/logging"
	"github.com/kvnkishore11/agentickanban/pkg/events"
)

const (
	pollInterval      = 1 * time.Second
	pollBackoff       = 5 * time.Second
	stopJoinTimeout   = 5 * time.Second
	screenshotSubdir  = "review_img"
	stateFileName     = "adw_state.json"
	jsonlFileName     = "raw_output.jsonl"
	executionLogName  = "execution.log"
)

var screenshotExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
}

// Monitor watches one workflow's directory tree for new agent output
// and state changes and emits taxonomy events onto Events, per
// spec.md §4.E. Its filesystem bookkeeping (offsets, seen sets,
// previous state snapshot) is owned by exactly one Monitor and never
// shared, per spec.md §5.
type Monitor struct {
	adwID       string
	workflowDir string
	specsDir    string
	events      chan<- events.Event

	stopCh chan struct{}
	doneCh chan struct{}

	offsets         map[string]int64
	seenScreenshots map[string]bool
	seenSpecs       map[string]bool
	previousState   map[string]interface{}
	haveState       bool

	fsWatcher *fsnotify.Watcher

	mu      sync.Mutex
	started bool
}

// New constructs a Monitor for adwID. eventCh is the channel the
// monitor's background goroutine fire-and-forgets events onto; a
// single consumer on the async side drains it into the connection
// manager, implementing the thread->async bridge described in
// spec.md §4.E / Design Note "Thread -> async bridge".
func New(adwID, agentsBaseDir, specsDir string, eventCh chan<- events.Event) *Monitor {
	return &Monitor{
		adwID:           adwID,
		workflowDir:     filepath.Join(agentsBaseDir, adwID),
		specsDir:        specsDir,
		events:          eventCh,
		offsets:         make(map[string]int64),
		seenScreenshots: make(map[string]bool),
		seenSpecs:       make(map[string]bool),
	}
}

// Start begins monitoring. Idempotent: a second call on an already
// started Monitor is a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if err := os.MkdirAll(m.workflowDir, 0o755); err != nil {
		return fmt.Errorf("failed to create workflow directory %s: %w", m.workflowDir, err)
	}

	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(m.workflowDir); err == nil {
			m.fsWatcher = w
		} else {
			logging.Warn("monitor %s: fsnotify add failed, polling only: %v", m.adwID, err)
			w.Close()
		}
	} else {
		logging.Warn("monitor %s: fsnotify unavailable, polling only: %v", m.adwID, err)
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.pollLoop()
	if m.fsWatcher != nil {
		go m.watchLoop()
	}

	logging.Info("monitor %s: started watching %s", m.adwID, m.workflowDir)
	return nil
}

// Stop halts monitoring. Idempotent; joins the polling goroutine with
// a 5s timeout.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(stopJoinTimeout):
		logging.Warn("monitor %s: stop timed out waiting for poll loop", m.adwID)
	}

	if m.fsWatcher != nil {
		m.fsWatcher.Close()
	}
	logging.Info("monitor %s: stopped", m.adwID)
}

// watchLoop only exists to wake the poll cycle sooner than its 1s
// cadence on filesystem activity; the poller remains the source of
// truth for what actually gets tailed, per spec.md §4.E.
func (m *Monitor) watchLoop() {
	for {
		select {
		case <-m.stopCh:
			return
		case _, ok := <-m.fsWatcher.Events:
			if !ok {
				return
			}
			// No-op: the poll loop picks up the change on its next
			// tick. We only drain the channel so fsnotify doesn't
			// block internally.
		case err, ok := <-m.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("monitor %s: fsnotify error: %v", m.adwID, err)
		}
	}
}

func (m *Monitor) pollLoop() {
	defer close(m.doneCh)

	interval := pollInterval
	for {
		select {
		case <-m.stopCh:
			return
		case <-time.After(interval):
		}

		if err := m.pollOnce(); err != nil {
			logging.Error("monitor %s: poll cycle error: %v", m.adwID, err)
			interval = pollBackoff
		} else {
			interval = pollInterval
		}
	}
}

func (m *Monitor) pollOnce() error {
	m.checkState()
	m.tailJSONLFiles()
	m.tailExecutionLogs()
	m.checkScreenshots()
	m.checkSpecs()
	return nil
}

func (m *Monitor) emit(e events.Event) {
	select {
	case m.events <- e:
	default:
		logging.Warn("monitor %s: event channel full, dropping %s", m.adwID, e.Type)
	}
}

// checkState implements spec.md §4.E step 1: diff adw_state.json
// against the previously observed snapshot.
func (m *Monitor) checkState() {
	statePath := filepath.Join(m.workflowDir, stateFileName)
	data, err := os.ReadFile(statePath)
	if err != nil {
		return
	}

	var current map[string]interface{}
	if err := json.Unmarshal(data, &current); err != nil {
		logging.Error("monitor %s: invalid JSON in %s: %v", m.adwID, statePath, err)
		return
	}

	if !m.haveState {
		m.haveState = true
		m.previousState = current
		changed := make([]string, 0, len(current))
		for k := range current {
			changed = append(changed, k)
		}
		m.emit(events.New(events.TypeAgentUpdated, events.AgentUpdatedPayload{
			ADWID:         m.adwID,
			State:         data,
			ChangedFields: changed,
		}))
		return
	}

	changed := changedFields(m.previousState, current)
	if len(changed) == 0 {
		return
	}
	m.previousState = current
	m.emit(events.New(events.TypeAgentUpdated, events.AgentUpdatedPayload{
		ADWID:         m.adwID,
		State:         data,
		ChangedFields: changed,
	}))
}

func changedFields(oldState, newState map[string]interface{}) []string {
	seen := make(map[string]bool)
	for k := range oldState {
		seen[k] = true
	}
	for k := range newState {
		seen[k] = true
	}
	var out []string
	for k := range seen {
		if !reflect.DeepEqual(oldState[k], newState[k]) {
			out = append(out, k)
		}
	}
	return out
}

// tailJSONLFiles implements spec.md §4.E step 2: discover every
// subdirectory's raw_output.jsonl and read any bytes appended since
// the last offset.
func (m *Monitor) tailJSONLFiles() {
	subdirs, err := listSubdirs(m.workflowDir)
	if err != nil {
		return
	}

	for _, subdir := range subdirs {
		path := filepath.Join(m.workflowDir, subdir, jsonlFileName)
		m.tailFile(path, func(line string) {
			for _, e := range ParseLine(m.adwID, []byte(line)) {
				m.emit(e)
			}
		})
	}
}

// tailExecutionLogs implements spec.md §4.E step 3.
func (m *Monitor) tailExecutionLogs() {
	subdirs, err := listSubdirs(m.workflowDir)
	if err != nil {
		return
	}

	for _, subdir := range subdirs {
		path := filepath.Join(m.workflowDir, subdir, executionLogName)
		m.tailFile(path, func(line string) {
			m.emit(events.New(events.TypeAgentLog, events.AgentLogPayload{
				ADWID:     m.adwID,
				AgentRole: subdir,
				Message:   line,
				Level:     classifyLogLine(line),
				Source:    executionLogName,
			}))
		})
	}
}

func classifyLogLine(line string) events.LogLevel {
	switch {
	case strings.Contains(line, "ERROR") || strings.Contains(line, "FAILED"):
		return events.LevelError
	case strings.Contains(line, "WARNING") || strings.Contains(line, "WARN"):
		return events.LevelWarning
	case strings.Contains(line, "SUCCESS"):
		return events.LevelSuccess
	default:
		return events.LevelInfo
	}
}

// tailFile reads path from its last known byte offset to EOF,
// invoking onLine for each non-empty line, then persists the new
// offset. Missing files are silently skipped; this is called every
// poll cycle so a file created after the monitor started is picked up
// on the next tick.
func (m *Monitor) tailFile(path string, onLine func(line string)) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	offset := m.offsets[path]
	if _, err := f.Seek(offset, 0); err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		onLine(line)
	}

	// The scanner reads the entire remaining file into its buffer
	// before returning, so the underlying descriptor's position is
	// already at EOF; that's exactly the offset the next poll should
	// resume from.
	if pos, err := f.Seek(0, 1); err == nil {
		m.offsets[path] = pos
	}
}

// checkScreenshots implements spec.md §4.E step 4.
func (m *Monitor) checkScreenshots() {
	subdirs, err := listSubdirs(m.workflowDir)
	if err != nil {
		return
	}

	for _, subdir := range subdirs {
		dir := filepath.Join(m.workflowDir, subdir, screenshotSubdir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if !screenshotExts[ext] {
				continue
			}
			full := filepath.Join(dir, entry.Name())
			if m.seenScreenshots[full] {
				continue
			}
			m.seenScreenshots[full] = true

			info, err := entry.Info()
			var size int64
			var createdAt time.Time
			if err == nil {
				size = info.Size()
				createdAt = info.ModTime()
			}
			rel, err := filepath.Rel(m.workflowDir, full)
			if err != nil {
				rel = full
			}
			m.emit(events.New(events.TypeScreenshotAvailable, events.ScreenshotAvailablePayload{
				ADWID:          m.adwID,
				ScreenshotPath: rel,
				ScreenshotType: "review",
				FileSize:       size,
				CreatedAt:      createdAt.UTC().Format(time.RFC3339),
				FileName:       entry.Name(),
			}))
		}
	}
}

// checkSpecs implements spec.md §4.E step 5.
func (m *Monitor) checkSpecs() {
	entries, err := os.ReadDir(m.specsDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".md") || !strings.Contains(name, m.adwID) {
			continue
		}
		full := filepath.Join(m.specsDir, name)
		if m.seenSpecs[full] {
			continue
		}
		m.seenSpecs[full] = true

		info, err := entry.Info()
		var size int64
		var createdAt time.Time
		if err == nil {
			size = info.Size()
			createdAt = info.ModTime()
		}

		lower := strings.ToLower(name)
		specType := "plan"
		switch {
		case strings.Contains(lower, "patch"):
			specType = "patch"
		case strings.Contains(lower, "review"):
			specType = "review"
		}

		m.emit(events.New(events.TypeSpecCreated, events.SpecCreatedPayload{
			ADWID:     m.adwID,
			SpecPath:  full,
			SpecType:  specType,
			FileSize:  size,
			CreatedAt: createdAt.UTC().Format(time.RFC3339),
			FileName:  name,
		}))
	}
}

func listSubdirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
