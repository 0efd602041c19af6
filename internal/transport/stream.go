package transport

import (
	"context"
	"net"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// maxStreamRead bounds the single read performed against a beacon
// connection: requests larger than this are truncated per spec.
const maxStreamRead = 4096

// StreamRequest is one accepted connection's initial read, tagged with an
// opaque connection identity so the handler can send exactly one reply and
// close it later, mirroring a ZeroMQ STREAM socket's identity-framed API
// over a plain net.Conn.
type StreamRequest struct {
	ConnID string
	Data   []byte
}

// StreamSocket is a raw TCP listener that hands each connection's first
// read to Requests for a single-threaded event loop to classify, and
// exposes Respond/Close for the one reply each connection gets.
type StreamSocket struct {
	ln       net.Listener
	Requests chan StreamRequest

	mu      sync.Mutex
	conns   map[string]net.Conn
	nextID  uint64
	limiter *rate.Limiter // nil means unlimited; set via SetAcceptLimiter
}

// SetAcceptLimiter paces how fast accepted connections are handed off for
// request parsing, a safety valve against a burst of beacon traffic
// swamping the single-threaded ingress loop (teacher precedent:
// ResourceGuard's natsLimiter/broadcastLimiter gate consumption the same
// way). Nil (the default) means unlimited.
func (s *StreamSocket) SetAcceptLimiter(l *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = l
}

// ListenStream opens a TCP listener at addr and begins accepting
// connections in the background.
func ListenStream(addr string) (*StreamSocket, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &StreamSocket{
		ln:       ln,
		Requests: make(chan StreamRequest, 256),
		conns:    make(map[string]net.Conn),
	}
	go s.acceptLoop()
	return s, nil
}

func (s *StreamSocket) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *StreamSocket) handleConn(conn net.Conn) {
	s.mu.Lock()
	limiter := s.limiter
	s.mu.Unlock()
	if limiter != nil {
		_ = limiter.Wait(context.Background())
	}

	s.mu.Lock()
	s.nextID++
	id := "stream-peer-" + strconv.FormatUint(s.nextID, 10)
	s.conns[id] = conn
	s.mu.Unlock()

	buf := make([]byte, maxStreamRead)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		s.drop(id, conn)
		return
	}
	s.Requests <- StreamRequest{ConnID: id, Data: buf[:n]}
}

func (s *StreamSocket) drop(id string, conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	conn.Close()
}

// Respond writes body to the connection named by connID and closes it,
// matching the beacon ingress's single-reply-then-close contract. Unknown
// identities are ignored.
func (s *StreamSocket) Respond(connID string, body []byte) error {
	s.mu.Lock()
	conn, ok := s.conns[connID]
	if ok {
		delete(s.conns, connID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := conn.Write(body)
	conn.Close()
	return err
}

// Close stops accepting new connections.
func (s *StreamSocket) Close() error {
	return s.ln.Close()
}
