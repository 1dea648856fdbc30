package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_WireFormat(t *testing.T) {
	data, err := Envelope{Type: TypeBroadcastEmit, Payload: `{"x":1}`, SenderID: "abc"}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"BROADCAST_EMIT","payload":"{\"x\":1}","sender_id":"abc"}`, data)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "abc", env.SenderID)
	assert.Equal(t, `{"x":1}`, env.Payload)
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	_, err := DecodeEnvelope("not json")
	assert.Error(t, err)
}

func TestChannelKey(t *testing.T) {
	tests := []struct {
		channel string
		wantNS  string
		wantRm  string
		wantOK  bool
	}{
		{"ns:room", "ns", "room", true},
		{"ns:a:b", "ns", "a:b", true},
		{"ns:", "ns", "", true},
		{"nocolon", "nocolon", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			ns, room, ok := SplitChannelKey(tt.channel)
			assert.Equal(t, tt.wantNS, ns)
			assert.Equal(t, tt.wantRm, room)
			assert.Equal(t, tt.wantOK, ok)
		})
	}

	assert.Equal(t, "REDIS_PUBSUB:lobby", ChannelKey(DefaultNamespace, "lobby"))
}
