package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MarshalsPayloadAndStampsTimestamp(t *testing.T) {
	ev := New(TypeTextBlock, TextBlockPayload{ADWID: "abc", Content: "hi"})
	assert.Equal(t, TypeTextBlock, ev.Type)
	assert.False(t, ev.Timestamp.IsZero())

	var payload TextBlockPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, "hi", payload.Content)
}

func TestADWScoped_FindsADWID(t *testing.T) {
	ev := New(TypeStatusUpdate, StatusUpdatePayload{ADWID: "wf-1", Status: StatusStateStarted})
	adwID, ok := ev.ADWScoped()
	assert.True(t, ok)
	assert.Equal(t, "wf-1", adwID)
}

func TestADWScoped_FalseForControlEvents(t *testing.T) {
	ev := New(TypeHeartbeat, HeartbeatPayload{ActiveConnections: 3})
	_, ok := ev.ADWScoped()
	assert.False(t, ok)
}

func TestEvent_RoundTripsOnWire(t *testing.T) {
	ev := New(TypeConnectionAck, ConnectionAckPayload{ConnectionID: "conn-1"})
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ev.Type, decoded.Type)

	var payload ConnectionAckPayload
	require.NoError(t, json.Unmarshal(decoded.Data, &payload))
	assert.Equal(t, "conn-1", payload.ConnectionID)
}
