package transport

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterRoundTrip(t *testing.T) {
	r, err := ListenRouter("127.0.0.1:0")
	require.NoError(t, err)
	defer r.Close()

	conn, err := net.Dial("tcp", r.ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	sent := [][]byte{[]byte(""), []byte("app-env"), []byte("ping"), []byte("payload")}
	require.NoError(t, encodeFrames(conn, sent))

	var msg RouterMessage
	select {
	case msg = <-r.Inbox:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for router inbox delivery")
	}
	assert.Equal(t, sent, msg.Frames)

	reply := [][]byte{[]byte(""), []byte("200 Pong"), []byte("localhost")}
	require.NoError(t, r.Reply(msg.Identity, reply))

	reader := bufio.NewReader(conn)
	got, err := decodeFrames(reader)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

func TestRouterReplyToUnknownIdentityIsNoop(t *testing.T) {
	r, err := ListenRouter("127.0.0.1:0")
	require.NoError(t, err)
	defer r.Close()

	assert.NoError(t, r.Reply("no-such-peer", [][]byte{[]byte("x")}))
}
