package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"
)

// RouterMessage is one inbound frame set tagged with the identity of the
// connection it arrived on, standing in for a ZeroMQ ROUTER socket's
// implicit first identity frame.
type RouterMessage struct {
	Identity string
	Frames   [][]byte
}

// RouterSocket accepts TCP connections from direct-submission clients,
// assigns each an opaque identity, and multiplexes their length-prefixed
// frame traffic onto a single inbound channel for the owning actor's
// event loop to drain via select.
type RouterSocket struct {
	ln       net.Listener
	Inbox    chan RouterMessage
	mu       sync.Mutex
	peers    map[string]net.Conn
	nextConn uint64
}

// ListenRouter opens a TCP listener at addr and begins accepting
// connections in the background.
func ListenRouter(addr string) (*RouterSocket, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	r := &RouterSocket{
		ln:    ln,
		Inbox: make(chan RouterMessage, 256),
		peers: make(map[string]net.Conn),
	}
	go r.acceptLoop()
	return r, nil
}

func (r *RouterSocket) acceptLoop() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		identity := r.assignIdentity(conn)
		go r.readLoop(identity, conn)
	}
}

func (r *RouterSocket) assignIdentity(conn net.Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextConn++
	identity := fmt.Sprintf("router-peer-%d", r.nextConn)
	r.peers[identity] = conn
	return identity
}

func (r *RouterSocket) readLoop(identity string, conn net.Conn) {
	defer r.drop(identity, conn)
	reader := bufio.NewReader(conn)
	for {
		frames, err := decodeFrames(reader)
		if err != nil {
			return
		}
		r.Inbox <- RouterMessage{Identity: identity, Frames: frames}
	}
}

func (r *RouterSocket) drop(identity string, conn net.Conn) {
	r.mu.Lock()
	delete(r.peers, identity)
	r.mu.Unlock()
	conn.Close()
}

// Addr returns the listener's bound address, useful when the configured
// port is 0 (test or ephemeral binds).
func (r *RouterSocket) Addr() string {
	return r.ln.Addr().String()
}

// Reply sends frames to the connection named by identity. Unknown or
// already-closed identities are silently dropped: the peer disconnected
// before the reply was ready, which is not an error in a fire-and-forget
// ROUTER reply path.
func (r *RouterSocket) Reply(identity string, frames [][]byte) error {
	r.mu.Lock()
	conn, ok := r.peers[identity]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return encodeFrames(conn, frames)
}

// Close stops accepting new connections and closes all tracked peers.
func (r *RouterSocket) Close() error {
	err := r.ln.Close()
	r.mu.Lock()
	defer r.mu.Unlock()
	for identity, conn := range r.peers {
		conn.Close()
		delete(r.peers, identity)
	}
	return err
}
