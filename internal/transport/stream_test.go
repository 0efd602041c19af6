package transport

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestStreamRoundTrip(t *testing.T) {
	s, err := ListenStream("127.0.0.1:0")
	require.NoError(t, err)
	defer s.Close()

	conn, err := net.Dial("tcp", s.ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	request := "GET /alive.txt HTTP/1.1\r\n\r\n"
	_, err = conn.Write([]byte(request))
	require.NoError(t, err)

	var req StreamRequest
	select {
	case req = <-s.Requests:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream request")
	}
	assert.Equal(t, request, string(req.Data))

	require.NoError(t, s.Respond(req.ConnID, []byte("200 OK\r\n\r\n")))

	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "200 OK\r\n\r\n", string(got))
}

func TestStreamRespondToUnknownConnIsNoop(t *testing.T) {
	s, err := ListenStream("127.0.0.1:0")
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Respond("no-such-conn", []byte("x")))
}

func TestStreamAcceptLimiterStillDeliversRequest(t *testing.T) {
	s, err := ListenStream("127.0.0.1:0")
	require.NoError(t, err)
	defer s.Close()
	s.SetAcceptLimiter(rate.NewLimiter(rate.Inf, 1))

	conn, err := net.Dial("tcp", s.ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /alive.txt HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	select {
	case req := <-s.Requests:
		assert.Contains(t, string(req.Data), "alive.txt")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream request with accept limiter set")
	}
}
