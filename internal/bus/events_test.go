package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "0:t1", RoutingKey("t1", ToWidget))
	assert.Equal(t, "1:t1", RoutingKey("t1", ToStaff))
	assert.NotEqual(t, RoutingKey("t1", ToWidget), RoutingKey("t1", ToStaff))
}

func TestDirection_String(t *testing.T) {
	assert.Equal(t, "to-widget", ToWidget.String())
	assert.Equal(t, "to-staff", ToStaff.String())
	assert.False(t, Direction(7).Valid())
}

func TestNewMessage_Validation(t *testing.T) {
	_, err := NewMessage("", ToStaff, "x")
	assert.Error(t, err)

	_, err = NewMessage("t1", Direction(5), "x")
	assert.Error(t, err)

	_, err = NewMessage("t1", ToStaff, func() {})
	assert.Error(t, err)
}

func TestMessage_EncodeDecode(t *testing.T) {
	msg, err := NewMessage("t1", ToStaff, map[string]string{"text": "hi"})
	require.NoError(t, err)

	raw, err := msg.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"t1","direction":1,"data":{"text":"hi"}}`, string(raw))

	decoded, err := DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, msg.RoutingKey(), decoded.RoutingKey())

	var payload map[string]string
	require.NoError(t, decoded.Decode(&payload))
	assert.Equal(t, "hi", payload["text"])
}

func TestMessage_DataIsCopy(t *testing.T) {
	msg, err := NewMessage("t1", ToWidget, "hello")
	require.NoError(t, err)

	data := msg.Data()
	data[0] = 'X'
	assert.Equal(t, `"hello"`, string(msg.Data()))
}

func TestDecodeMessage_Rejects(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"direction":1,"data":{}}`,
		`{"channel":"t1","direction":9,"data":{}}`,
	} {
		_, err := DecodeMessage([]byte(raw))
		assert.Error(t, err, raw)
	}
}
