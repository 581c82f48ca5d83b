package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_Valid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want inboundFrame
	}{
		{
			name: "authenticate",
			data: `{"type":"authenticate","payload":{"token":"tok-1"}}`,
			want: authenticateFrame{Token: "tok-1"},
		},
		{
			name: "identify",
			data: `{"type":"identify","payload":{"userId":"user-7"}}`,
			want: identifyFrame{UserID: "user-7"},
		},
		{
			name: "subscribe",
			data: `{"type":"subscribe","payload":{"channel":"campaign-42","ownerClientId":"client-a"}}`,
			want: subscribeFrame{Channel: "campaign-42", OwnerClientID: "client-a", verb: TypeSubscribe},
		},
		{
			name: "join is an alias for subscribe",
			data: `{"type":"join","payload":{"channel":"campaign-42"}}`,
			want: subscribeFrame{Channel: "campaign-42", verb: TypeJoin},
		},
		{
			name: "unsubscribe",
			data: `{"type":"unsubscribe","payload":{"channel":"campaign-42"}}`,
			want: unsubscribeFrame{Channel: "campaign-42"},
		},
		{
			name: "ping with timestamp",
			data: `{"type":"ping","payload":{"timestamp":1712000000000}}`,
			want: pingFrame{Timestamp: 1712000000000},
		},
		{
			name: "ping without payload",
			data: `{"type":"ping"}`,
			want: pingFrame{},
		},
		{
			name: "message",
			data: `{"type":"message","payload":{"target":"campaign-42","data":{"k":"v"}}}`,
			want: relayFrame{Target: "campaign-42", Data: json.RawMessage(`{"k":"v"}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeFrame([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFrame_JoinKeepsItsVerb(t *testing.T) {
	joined, err := decodeFrame([]byte(`{"type":"join","payload":{"channel":"campaign-42"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, joined.frameType())

	subscribed, err := decodeFrame([]byte(`{"type":"subscribe","payload":{"channel":"campaign-42"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeSubscribe, subscribed.frameType())
}

func TestDecodeFrame_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"missing type", `{"payload":{"token":"x"}}`},
		{"unknown type", `{"type":"bogus"}`},
		{"authenticate without token", `{"type":"authenticate","payload":{}}`},
		{"authenticate without payload", `{"type":"authenticate"}`},
		{"identify without userId", `{"type":"identify","payload":{}}`},
		{"subscribe without channel", `{"type":"subscribe","payload":{}}`},
		{"unsubscribe without channel", `{"type":"unsubscribe"}`},
		{"message without target", `{"type":"message","payload":{"data":{}}}`},
		{"payload wrong shape", `{"type":"ping","payload":{"timestamp":"not-a-number"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeFrame([]byte(tt.data))
			require.Error(t, err)
			assert.Nil(t, got)

			var fe *frameError
			assert.ErrorAs(t, err, &fe, "protocol violations must be frame errors, not transport errors")
		})
	}
}

func TestEncodeFrame_Envelope(t *testing.T) {
	data, err := encodeFrame(TypePong, pongPayload{Timestamp: 5, ServerTime: 5, ClientTime: 3})
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, TypePong, env.Type)

	var p pongPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, int64(3), p.ClientTime)
	assert.Equal(t, int64(5), p.ServerTime)
}

func TestEncodeFrame_UnmarshalableDoesNotPanic(t *testing.T) {
	_, err := encodeFrame(TypeError, map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
