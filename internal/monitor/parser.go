// Package monitor implements the per-workflow Agent Directory Monitor
// (spec.md §4.E) and the pure JSONL-to-event parser (§4.F) it tails
// raw_output.jsonl through.
package monitor

import (
	"encoding/json"
	"fmt"

	"github.com/kvnkishore11/agentickanban/internal/logging"
	"github.com/kvnkishore11/agentickanban/pkg/events"
)

const toolResultTruncateAt = 2000

// ParseLine decodes one raw_output.jsonl line for adwID into zero or
// more taxonomy events, per spec.md §4.F. Unknown shapes are logged
// and ignored; parsing never panics or propagates an error, since a
// single malformed agent record must never stop the tailer (spec.md
// §8 property 5).
func ParseLine(adwID string, line []byte) []events.Event {
	var raw map[string]interface{}
	if err := json.Unmarshal(line, &raw); err != nil {
		logging.Error("monitor: invalid JSONL line for %s: %v", adwID, err)
		return nil
	}
	return parseDecoded(adwID, raw)
}

func parseDecoded(adwID string, raw map[string]interface{}) []events.Event {
	typ, _ := raw["type"].(string)

	switch typ {
	case "assistant":
		return parseAssistantMessage(adwID, raw)
	case "user":
		return parseUserMessage(adwID, raw)
	case "system":
		return parseSystemMessage(adwID, raw)

	// Flat envelopes carrying an already-taxonomy type directly, kept
	// for backward compatibility with non-Claude-Code emitters.
	case string(events.TypeThinkingBlock):
		return []events.Event{events.New(events.TypeThinkingBlock, events.ThinkingBlockPayload{
			ADWID:         adwID,
			Content:       str(raw["content"]),
			ReasoningType: str(raw["reasoning_type"]),
			DurationMs:    intPtr(raw["duration_ms"]),
			Sequence:      intPtrInt(raw["sequence"]),
		})}
	case string(events.TypeTextBlock):
		return []events.Event{events.New(events.TypeTextBlock, events.TextBlockPayload{
			ADWID:    adwID,
			Content:  str(raw["content"]),
			Sequence: intPtrInt(raw["sequence"]),
		})}
	case string(events.TypeToolUsePre):
		return []events.Event{events.New(events.TypeToolUsePre, events.ToolUsePrePayload{
			ADWID:     adwID,
			ToolName:  str(raw["tool_name"]),
			ToolInput: rawJSON(raw["tool_input"]),
			ToolUseID: str(raw["tool_use_id"]),
		})}
	case string(events.TypeToolUsePost):
		errStr := strPtr(raw["error"])
		return []events.Event{events.New(events.TypeToolUsePost, events.ToolUsePostPayload{
			ADWID:      adwID,
			ToolName:   str(raw["tool_name"]),
			ToolOutput: str(raw["tool_output"]),
			Status:     defaultStr(raw["status"], "success"),
			Error:      errStr,
			ToolUseID:  str(raw["tool_use_id"]),
			DurationMs: intPtr(raw["duration_ms"]),
		})}
	case string(events.TypeFileChanged):
		return []events.Event{events.New(events.TypeFileChanged, events.FileChangedPayload{
			ADWID:        adwID,
			FilePath:     str(raw["file_path"]),
			Operation:    defaultStr(raw["operation"], "modify"),
			Diff:         str(raw["diff"]),
			Summary:      str(raw["summary"]),
			LinesAdded:   toInt(raw["lines_added"]),
			LinesRemoved: toInt(raw["lines_removed"]),
		})}

	default:
		logging.Debug("monitor: unknown JSONL event type %q for %s", typ, adwID)
		return nil
	}
}

// parseAssistantMessage handles {"type":"assistant","message":{"content":[...]}}.
func parseAssistantMessage(adwID string, raw map[string]interface{}) []events.Event {
	message, _ := raw["message"].(map[string]interface{})
	contentBlocks, _ := message["content"].([]interface{})

	var out []events.Event
	for _, b := range contentBlocks {
		block, ok := b.(map[string]interface{})
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if text := str(block["text"]); text != "" {
				out = append(out, events.New(events.TypeTextBlock, events.TextBlockPayload{
					ADWID:   adwID,
					Content: text,
				}))
			}
		case "tool_use":
			out = append(out, events.New(events.TypeToolUsePre, events.ToolUsePrePayload{
				ADWID:     adwID,
				ToolName:  str(block["name"]),
				ToolInput: rawJSON(block["input"]),
				ToolUseID: str(block["id"]),
			}))
		case "thinking":
			if thinking := str(block["thinking"]); thinking != "" {
				out = append(out, events.New(events.TypeThinkingBlock, events.ThinkingBlockPayload{
					ADWID:         adwID,
					Content:       thinking,
					ReasoningType: "thinking",
				}))
			}
		}
	}
	return out
}

// parseUserMessage handles {"type":"user","message":{"content":[{"type":"tool_result",...}]}}.
func parseUserMessage(adwID string, raw map[string]interface{}) []events.Event {
	message, _ := raw["message"].(map[string]interface{})
	contentBlocks, _ := message["content"].([]interface{})
	toolUseResult, _ := raw["tool_use_result"].(map[string]interface{})

	var out []events.Event
	for _, b := range contentBlocks {
		block, ok := b.(map[string]interface{})
		if !ok || block["type"] != "tool_result" {
			continue
		}

		toolName := ""
		if toolUseResult != nil {
			toolName = str(toolUseResult["type"])
		}

		output := stringifyToolResultContent(block["content"])

		out = append(out, events.New(events.TypeToolUsePost, events.ToolUsePostPayload{
			ADWID:      adwID,
			ToolName:   toolName,
			ToolOutput: output,
			Status:     "success",
			Error:      nil,
			ToolUseID:  str(block["tool_use_id"]),
		}))
	}
	return out
}

// stringifyToolResultContent implements spec.md §4.F item 3: JSON-encode
// list content, else coerce to string, truncating above 2000 chars
// with an explicit "... [truncated]" suffix.
func stringifyToolResultContent(content interface{}) string {
	var s string
	switch v := content.(type) {
	case []interface{}:
		encoded, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(encoded)
		}
	case string:
		s = v
	case nil:
		s = ""
	default:
		s = fmt.Sprintf("%v", v)
	}

	if len(s) > toolResultTruncateAt {
		return s[:toolResultTruncateAt] + "... [truncated]"
	}
	return s
}

// parseSystemMessage handles {"type":"system","subtype":...}.
func parseSystemMessage(adwID string, raw map[string]interface{}) []events.Event {
	subtype := str(raw["subtype"])
	sessionID := str(raw["session_id"])

	switch subtype {
	case "init":
		model := defaultStr(raw["model"], "unknown")
		toolCount := 0
		if tools, ok := raw["tools"].([]interface{}); ok {
			toolCount = len(tools)
		}
		return []events.Event{events.New(events.TypeAgentLog, events.AgentLogPayload{
			ADWID:     adwID,
			Message:   fmt.Sprintf("Agent session initialized (model: %s, tools: %d)", model, toolCount),
			Level:     events.LevelInfo,
			Source:    "raw_output.jsonl",
			SessionID: sessionID,
		})}

	case "hook_response":
		hookName := str(raw["hook_name"])
		exitCode := toInt(raw["exit_code"])
		stderr := str(raw["stderr"])

		level := events.LevelInfo
		if exitCode != 0 || stderr != "" {
			level = events.LevelError
		}
		message := fmt.Sprintf("Hook '%s' executed", hookName)
		if stderr != "" {
			message += ": " + truncate(stderr, 200)
		}
		return []events.Event{events.New(events.TypeAgentLog, events.AgentLogPayload{
			ADWID:     adwID,
			Message:   message,
			Level:     level,
			Source:    "raw_output.jsonl",
			SessionID: sessionID,
		})}

	case "error":
		errMsg := str(raw["message"])
		if errMsg == "" {
			errMsg = str(raw["error"])
		}
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		return []events.Event{events.New(events.TypeAgentLog, events.AgentLogPayload{
			ADWID:     adwID,
			Message:   "Agent error: " + errMsg,
			Level:     events.LevelError,
			Source:    "raw_output.jsonl",
			SessionID: sessionID,
		})}

	default:
		logging.Debug("monitor: unknown system message subtype %q for %s", subtype, adwID)
		return nil
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func strPtr(v interface{}) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func defaultStr(v interface{}, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func intPtr(v interface{}) *int64 {
	switch n := v.(type) {
	case float64:
		i := int64(n)
		return &i
	default:
		return nil
	}
}

func intPtrInt(v interface{}) *int {
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	default:
		return nil
	}
}

func rawJSON(v interface{}) []byte {
	if v == nil {
		return nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return encoded
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
