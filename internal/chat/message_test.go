package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChatMessage(t *testing.T) {
	msg, err := DecodeChatMessage([]byte(`{"token":"t1","text":"hi","timestamp":42,"session":"s1","user":"Ann"}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", msg.Token)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, int64(42), msg.Timestamp)
	assert.Equal(t, "s1", msg.Session)
	assert.Equal(t, "Ann", msg.User)
	assert.False(t, msg.Undelivered)
}

func TestDecodeChatMessage_Invalid(t *testing.T) {
	_, err := DecodeChatMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestChatMessage_OmitsDeliveredFlag(t *testing.T) {
	data, err := json.Marshal(ChatMessage{Token: "t1", Text: "hi"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "undelivered")

	data, err = json.Marshal(ChatMessage{Token: "t1", Undelivered: true})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"undelivered":true`)
}

func TestSessionSuffix(t *testing.T) {
	assert.Equal(t, "abc", SessionSuffix("abc"))
	assert.Equal(t, "4a5b6c7d8e9f", SessionSuffix("0f1e2d3c-1111-2222-3333-4a5b6c7d8e9f"))
}
