package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeID(t *testing.T) {
	cases := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{name: "bare string", data: `"u1"`, want: "u1"},
		{name: "object", data: `{"userId":" u2 "}`, want: "u2"},
		{name: "null", data: `null`, wantErr: true},
		{name: "empty", data: ``, wantErr: true},
		{name: "blank string", data: `"  "`, wantErr: true},
		{name: "wrong key", data: `{"id":"u3"}`, wantErr: true},
		{name: "number", data: `42`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeID(json.RawMessage(tc.data), "userId")
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeInbound(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"event":" join ","data":"u1"}`))
	require.NoError(t, err)
	require.Equal(t, EventJoin, ev.Name)
	require.JSONEq(t, `"u1"`, string(ev.Data))

	_, err = DecodeInbound([]byte(`{"data":"u1"}`))
	require.Error(t, err)
}

func TestEncodeEvent(t *testing.T) {
	raw, err := EncodeEvent(statusUpdateEvent("m1", "read"))
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"message-status-update","data":{"messageId":"m1","status":"read"}}`, string(raw))
}
