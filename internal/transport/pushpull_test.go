package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPullRoundTrip(t *testing.T) {
	push, pull := NewPushPull(1, 10*time.Millisecond)
	frames := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	require.NoError(t, push.Send(frames))
	select {
	case got := <-pull.Chan():
		assert.Equal(t, frames, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pulled frames")
	}
}

func TestPushSendTimesOutWhenFull(t *testing.T) {
	push, _ := NewPushPull(1, 5*time.Millisecond)
	require.NoError(t, push.Send([][]byte{[]byte("first")}))
	err := push.Send([][]byte{[]byte("second")})
	assert.ErrorIs(t, err, ErrSendTimeout)
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	push, _ := NewPushPull(1, 10*time.Millisecond)
	reg.Register("inproc://subscriber-0", push)

	assert.Same(t, push, reg.Lookup("inproc://subscriber-0"))
	assert.Nil(t, reg.Lookup("inproc://subscriber-1"))
}

func TestExternalPullForwardsToSharedPush(t *testing.T) {
	push, pull := NewPushPull(4, 10*time.Millisecond)
	ep, err := ListenPull("127.0.0.1:0", push)
	require.NoError(t, err)
	defer ep.Close()

	conn, err := net.Dial("tcp", ep.Addr())
	require.NoError(t, err)
	defer conn.Close()

	frames := [][]byte{[]byte("app-env"), []byte("topic"), []byte("payload")}
	require.NoError(t, WriteFrames(conn, frames))

	select {
	case got := <-pull.Chan():
		assert.Equal(t, frames, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for externally-pulled frames")
	}
}
