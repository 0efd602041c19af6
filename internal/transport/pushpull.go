package transport

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"
)

// ErrSendTimeout is returned by PushSocket.Send when the peer's queue is
// full and the bounded send window elapses without delivery, converting
// what would otherwise be an indefinite block into an observable drop.
var ErrSendTimeout = errors.New("transport: push send timed out")

// PushSocket is the in-process equivalent of a PUSH socket bound to an
// inproc:// address: a single buffered channel shared by every sender
// targeting one subscriber actor's PULL socket.
type PushSocket struct {
	ch      chan [][]byte
	timeout time.Duration
}

// PullSocket is the receiving half of a PushSocket.
type PullSocket struct {
	ch <-chan [][]byte
}

// NewPushPull creates a connected PUSH/PULL pair with the given queue depth
// and bounded send timeout.
func NewPushPull(queueDepth int, sendTimeout time.Duration) (*PushSocket, *PullSocket) {
	ch := make(chan [][]byte, queueDepth)
	return &PushSocket{ch: ch, timeout: sendTimeout}, &PullSocket{ch: ch}
}

// Send enqueues frames, blocking for at most the socket's configured
// timeout before returning ErrSendTimeout. A full queue under timeout is
// the transport's backpressure signal, not a fatal error.
func (p *PushSocket) Send(frames [][]byte) error {
	select {
	case p.ch <- frames:
		return nil
	case <-time.After(p.timeout):
		return ErrSendTimeout
	}
}

// TrySend is a non-blocking poll of socket writability: the ZeroMQ
// equivalent of checking whether a PUSH socket would accept a send right
// now, before committing to the bounded-timeout Send.
func (p *PushSocket) TrySend(frames [][]byte) bool {
	select {
	case p.ch <- frames:
		return true
	default:
		return false
	}
}

// Chan exposes the receive channel for use in a select-based event loop.
func (p *PullSocket) Chan() <-chan [][]byte {
	return p.ch
}

// Registry is an address book of PUSH sockets keyed by inproc-style
// address (e.g. "inproc://subscriber-3"), letting the direct-submission
// endpoint and other actors address a specific subscriber's PULL socket
// without holding a reference to the subscriber itself.
type Registry struct {
	mu    sync.RWMutex
	table map[string]*PushSocket
}

// NewRegistry creates an empty address registry.
func NewRegistry() *Registry {
	return &Registry{table: make(map[string]*PushSocket)}
}

// Register binds a PUSH socket to an address.
func (r *Registry) Register(address string, push *PushSocket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[address] = push
}

// Lookup returns the PUSH socket bound to address, or nil if none.
func (r *Registry) Lookup(address string) *PushSocket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table[address]
}

// ExternalPull is the external TCP side of actor 0's PULL socket: direct
// submitters reach it over the wire, and every decoded frame set is sent
// onto the PushSocket it was given. When that PushSocket is the one paired
// with actor 0's PullSocket, external and in-process senders feed the same
// channel the actor's event loop drains. ExternalPull does not register
// any intra-process address (no Registry entry is made).
type ExternalPull struct {
	ln   net.Listener
	push *PushSocket
}

// ListenPull opens addr for external direct-submission PUSH traffic and
// forwards every decoded frame set onto push's channel, sharing it with
// any in-process sender that holds the same PushSocket.
func ListenPull(addr string, push *PushSocket) (*ExternalPull, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	p := &ExternalPull{ln: ln, push: push}
	go p.acceptLoop()
	return p, nil
}

func (p *ExternalPull) acceptLoop() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		go p.readLoop(conn)
	}
}

func (p *ExternalPull) readLoop(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		frames, err := decodeFrames(reader)
		if err != nil {
			return
		}
		// PULL is asynchronous: best-effort forward, same bounded send the
		// in-process side uses, no reply to the submitter either way.
		_ = p.push.Send(frames)
	}
}

// Addr returns the listener's bound address.
func (p *ExternalPull) Addr() string {
	return p.ln.Addr().String()
}

// Close stops accepting new external PULL connections.
func (p *ExternalPull) Close() error {
	return p.ln.Close()
}
