package monitor

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvnkishore11/agentickanban/pkg/events"
)

func TestParseLine_InvalidJSONReturnsNil(t *testing.T) {
	out := ParseLine("adw1", []byte("{not json"))
	assert.Nil(t, out)
}

func TestParseLine_AssistantTextBlock(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"hello there"}]}}`
	out := ParseLine("adw1", []byte(line))
	require.Len(t, out, 1)
	assert.Equal(t, events.TypeTextBlock, out[0].Type)

	var payload events.TextBlockPayload
	require.NoError(t, json.Unmarshal(out[0].Data, &payload))
	assert.Equal(t, "hello there", payload.Content)
	assert.Equal(t, "adw1", payload.ADWID)
}

func TestParseLine_AssistantSkipsEmptyText(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":""}]}}`
	out := ParseLine("adw1", []byte(line))
	assert.Len(t, out, 0)
}

func TestParseLine_AssistantToolUse(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu_1","name":"Read","input":{"path":"a.go"}}]}}`
	out := ParseLine("adw1", []byte(line))
	require.Len(t, out, 1)
	assert.Equal(t, events.TypeToolUsePre, out[0].Type)

	var payload events.ToolUsePrePayload
	require.NoError(t, json.Unmarshal(out[0].Data, &payload))
	assert.Equal(t, "Read", payload.ToolName)
	assert.Equal(t, "tu_1", payload.ToolUseID)
}

func TestParseLine_UserToolResultStringifiesListContent(t *testing.T) {
	line := `{"type":"user","tool_use_result":{"type":"Read"},"message":{"content":[{"type":"tool_result","tool_use_id":"tu_1","content":[{"type":"text","text":"line one"}]}]}}`
	out := ParseLine("adw1", []byte(line))
	require.Len(t, out, 1)
	assert.Equal(t, events.TypeToolUsePost, out[0].Type)

	var payload events.ToolUsePostPayload
	require.NoError(t, json.Unmarshal(out[0].Data, &payload))
	assert.Equal(t, "Read", payload.ToolName)
	assert.Contains(t, payload.ToolOutput, "line one")
}

func TestParseLine_UserToolResultTruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("x", toolResultTruncateAt+500)
	line := `{"type":"user","message":{"content":[{"type":"tool_result","content":` + `"` + long + `"` + `}]}}`
	out := ParseLine("adw1", []byte(line))
	require.Len(t, out, 1)

	var payload events.ToolUsePostPayload
	require.NoError(t, json.Unmarshal(out[0].Data, &payload))
	assert.True(t, strings.HasSuffix(payload.ToolOutput, "... [truncated]"))
	assert.LessOrEqual(t, len(payload.ToolOutput), toolResultTruncateAt+len("... [truncated]"))
}

func TestParseLine_SystemInit(t *testing.T) {
	line := `{"type":"system","subtype":"init","model":"claude","tools":["a","b","c"]}`
	out := ParseLine("adw1", []byte(line))
	require.Len(t, out, 1)
	assert.Equal(t, events.TypeAgentLog, out[0].Type)

	var payload events.AgentLogPayload
	require.NoError(t, json.Unmarshal(out[0].Data, &payload))
	assert.Equal(t, events.LevelInfo, payload.Level)
	assert.Contains(t, payload.Message, "tools: 3")
}

func TestParseLine_SystemHookResponseError(t *testing.T) {
	line := `{"type":"system","subtype":"hook_response","hook_name":"pre-commit","exit_code":1,"stderr":"boom"}`
	out := ParseLine("adw1", []byte(line))
	require.Len(t, out, 1)

	var payload events.AgentLogPayload
	require.NoError(t, json.Unmarshal(out[0].Data, &payload))
	assert.Equal(t, events.LevelError, payload.Level)
	assert.Contains(t, payload.Message, "boom")
}

func TestParseLine_UnknownTypeIgnored(t *testing.T) {
	out := ParseLine("adw1", []byte(`{"type":"nonsense"}`))
	assert.Nil(t, out)
}

func TestParseLine_FlatFileChangedBackwardCompat(t *testing.T) {
	line := `{"type":"file_changed","file_path":"main.go","operation":"modify","lines_added":3,"lines_removed":1}`
	out := ParseLine("adw1", []byte(line))
	require.Len(t, out, 1)
	assert.Equal(t, events.TypeFileChanged, out[0].Type)
}
