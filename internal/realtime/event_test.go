package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeIsValid(t *testing.T) {
	for _, et := range []EventType{EventBotReady, EventMessageCreate, EventPong, EventSubscriptionAck} {
		assert.True(t, et.IsValid(), "%s should be valid", et)
	}
	for _, et := range []EventType{"", "MESSAGE_EXPLODE", "bot_ready"} {
		assert.False(t, et.IsValid(), "%q should be invalid", et)
	}
}

func TestEventUnmarshalDecodesTypedPayload(t *testing.T) {
	raw := []byte(`{"type":"MESSAGE_CREATE","data":{"messageId":"m1","channelId":"42","authorId":"u1","content":"hi","timestamp":1700000000000}}`)

	var evt Event
	require.NoError(t, json.Unmarshal(raw, &evt))
	assert.Equal(t, EventMessageCreate, evt.Type)

	msg, ok := evt.Data.(MessageData)
	require.True(t, ok, "data is %T, want MessageData", evt.Data)
	assert.Equal(t, "m1", msg.MessageID)
	assert.Equal(t, "42", msg.ChannelID)
	assert.Equal(t, "hi", msg.Content)
}

func TestEventUnmarshalRejectsUnknownType(t *testing.T) {
	raw := []byte(`{"type":"MESSAGE_EXPLODE","data":{}}`)
	var evt Event
	assert.Error(t, json.Unmarshal(raw, &evt))
}

func TestEventUnmarshalToleratesMissingData(t *testing.T) {
	raw := []byte(`{"type":"LOGOUT_SUCCESS"}`)
	var evt Event
	require.NoError(t, json.Unmarshal(raw, &evt))
	assert.IsType(t, LogoutSuccessData{}, evt.Data)
}

func TestEventRoundTripKeepsType(t *testing.T) {
	original := NewEvent(EventGuildUpdateName, GuildUpdateNameData{GuildID: "7", Name: "renamed"})
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.Data, decoded.Data)
}

func TestTopicValidation(t *testing.T) {
	assert.Equal(t, Topic("guild:7"), GuildTopic("7"))
	assert.Equal(t, Topic("channel:42"), ChannelTopic("42"))
	assert.Equal(t, Topic("dm-peer:alice"), DMPeerTopic("alice"))

	for _, topic := range []Topic{"guild:7", "channel:42", "dm-peer:alice"} {
		assert.True(t, topic.IsValid(), "%q should be valid", topic)
	}
	for _, topic := range []Topic{"", "guild:", "server:7", "dm:alice"} {
		assert.False(t, topic.IsValid(), "%q should be invalid", topic)
	}
}
