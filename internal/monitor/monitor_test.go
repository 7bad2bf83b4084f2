package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvnkishore11/agentickanban/pkg/events"
)

func newTestMonitor(t *testing.T) (*Monitor, string, chan events.Event) {
	t.Helper()
	agentsDir := t.TempDir()
	specsDir := t.TempDir()
	ch := make(chan events.Event, 64)
	m := New("adw1", agentsDir, specsDir, ch)
	require.NoError(t, os.MkdirAll(m.workflowDir, 0o755))
	return m, agentsDir, ch
}

func drain(ch chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestMonitor_CheckStateEmitsOnFirstSightAndOnChange(t *testing.T) {
	m, _, ch := newTestMonitor(t)

	statePath := filepath.Join(m.workflowDir, stateFileName)
	require.NoError(t, os.WriteFile(statePath, []byte(`{"phase":"plan"}`), 0o644))

	m.checkState()
	out := drain(ch)
	require.Len(t, out, 1)
	assert.Equal(t, events.TypeAgentUpdated, out[0].Type)

	// No change on the next poll.
	m.checkState()
	assert.Len(t, drain(ch), 0)

	require.NoError(t, os.WriteFile(statePath, []byte(`{"phase":"build"}`), 0o644))
	m.checkState()
	out = drain(ch)
	require.Len(t, out, 1)

	var payload events.AgentUpdatedPayload
	require.NoError(t, json.Unmarshal(out[0].Data, &payload))
	assert.Contains(t, payload.ChangedFields, "phase")
}

func TestMonitor_TailFileResumesFromSeededOffset(t *testing.T) {
	agentsDir := t.TempDir()
	specsDir := t.TempDir()
	ch := make(chan events.Event, 64)

	subdir := filepath.Join(agentsDir, "adw1", "agent_a")
	require.NoError(t, os.MkdirAll(subdir, 0o755))
	path := filepath.Join(subdir, jsonlFileName)

	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"first"}]}}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line), 0o644))

	m1 := New("adw1", agentsDir, specsDir, ch)
	m1.tailJSONLFiles()
	out := drain(ch)
	require.Len(t, out, 1)

	offset := m1.offsets[path]
	assert.Greater(t, offset, int64(0))

	// A fresh Monitor starts with no offsets: they live in memory for one
	// Monitor's lifetime only. Seed the new instance by hand with the
	// first one's offset and check that tailing resumes from it.
	m2 := New("adw1", agentsDir, specsDir, ch)
	m2.offsets[path] = offset

	// No new bytes appended yet: nothing should re-emit.
	m2.tailJSONLFiles()
	assert.Len(t, drain(ch), 0)

	more := `{"type":"assistant","message":{"content":[{"type":"text","text":"second"}]}}` + "\n"
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(more)
	require.NoError(t, f.Close())
	require.NoError(t, err)

	m2.tailJSONLFiles()
	out = drain(ch)
	require.Len(t, out, 1)

	var payload events.TextBlockPayload
	require.NoError(t, json.Unmarshal(out[0].Data, &payload))
	assert.Equal(t, "second", payload.Content)
}

func TestMonitor_CheckScreenshotsDedupesSeen(t *testing.T) {
	m, agentsDir, ch := newTestMonitor(t)

	dir := filepath.Join(agentsDir, "adw1", "agent_a", screenshotSubdir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	shot := filepath.Join(dir, "before.png")
	require.NoError(t, os.WriteFile(shot, []byte("fake"), 0o644))

	m.checkScreenshots()
	require.Len(t, drain(ch), 1)

	// Second pass over the same file must not re-emit.
	m.checkScreenshots()
	assert.Len(t, drain(ch), 0)
}

func TestMonitor_CheckSpecsMatchesADWIDOnly(t *testing.T) {
	m, _, ch := newTestMonitor(t)

	require.NoError(t, os.WriteFile(filepath.Join(m.specsDir, "adw1_plan.md"), []byte("# plan"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.specsDir, "other_plan.md"), []byte("# plan"), 0o644))

	m.checkSpecs()
	out := drain(ch)
	require.Len(t, out, 1)
	assert.Equal(t, events.TypeSpecCreated, out[0].Type)
}

func TestChangedFields_DetectsAddedRemovedAndModified(t *testing.T) {
	old := map[string]interface{}{"a": 1.0, "b": "keep"}
	cur := map[string]interface{}{"a": 2.0, "b": "keep", "c": true}

	changed := changedFields(old, cur)
	assert.Contains(t, changed, "a")
	assert.NotContains(t, changed, "b")
	assert.Contains(t, changed, "c")
}
