package stomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	f := NewFrame(CmdSend,
		"destination", "/app/chat.sendMessage",
		"content-type", "application/json",
	)
	f.Body = []byte(`{"content":"hello"}`)

	got, err := Unmarshal(Marshal(f))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, CmdSend, got.Command)
	assert.Equal(t, "/app/chat.sendMessage", got.Header("destination"))
	assert.Equal(t, `{"content":"hello"}`, string(got.Body))
	// content-length is added on marshal.
	assert.Equal(t, "19", got.Header("content-length"))
}

func TestHeaderEscaping(t *testing.T) {
	f := NewFrame(CmdSend, "destination", "/queue/a:b\nc\\d")

	got, err := Unmarshal(Marshal(f))
	require.NoError(t, err)
	assert.Equal(t, "/queue/a:b\nc\\d", got.Header("destination"))
}

func TestConnectHeadersNotEscaped(t *testing.T) {
	f := NewFrame(CmdConnect, "accept-version", "1.2", "host", "localhost")
	raw := string(Marshal(f))
	assert.Contains(t, raw, "accept-version:1.2\n")
	assert.Contains(t, raw, "host:localhost\n")
}

func TestUnmarshalHeartbeat(t *testing.T) {
	for _, payload := range [][]byte{nil, {}, []byte("\n"), []byte("\r\n")} {
		f, err := Unmarshal(payload)
		require.NoError(t, err)
		assert.Nil(t, f)
	}
}

func TestUnmarshalCarriageReturns(t *testing.T) {
	raw := "MESSAGE\r\ndestination:/topic/room.r1\r\nsubscription:sub-1\r\n\r\n{\"type\":\"CHAT\"}\x00"
	f, err := Unmarshal([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, CmdMessage, f.Command)
	assert.Equal(t, "/topic/room.r1", f.Header("destination"))
	assert.Equal(t, `{"type":"CHAT"}`, string(f.Body))
}

func TestUnmarshalMalformed(t *testing.T) {
	cases := []string{
		"no header separator",
		"MESSAGE\nbroken header line\n\nbody\x00",
		"MESSAGE\ndest:/a\\x\n\nbody\x00", // undefined escape
	}
	for _, raw := range cases {
		_, err := Unmarshal([]byte(raw))
		assert.Error(t, err, "payload %q", raw)
	}
}

func TestFirstHeaderWins(t *testing.T) {
	raw := "MESSAGE\nfoo:first\nfoo:second\n\n\x00"
	f, err := Unmarshal([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "first", f.Header("foo"))
}

func TestEmptyBodyOmitsContentLength(t *testing.T) {
	raw := string(Marshal(NewFrame(CmdDisconnect)))
	assert.Equal(t, "DISCONNECT\n\n\x00", raw)
}
