package transport

import (
	"time"

	"github.com/nats-io/nats.go"
)

// reconnectRamp implements the 100ms -> 10s exponential backoff ramp
// required of the upstream transport (spec.md §6), handed to nats.go via
// CustomReconnectDelayCB since its default backoff is linear-with-jitter
// rather than a doubling ramp.
func reconnectRamp(attempts int) time.Duration {
	delay := 100 * time.Millisecond
	for i := 0; i < attempts && delay < 10*time.Second; i++ {
		delay *= 2
	}
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	return delay
}

// DialPub connects a publishing client to the backing NATS transport.
func DialPub(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelayCB(reconnectRamp),
	)
}

// Publish emits an envelope's wire frames as one NATS message on subject.
func Publish(nc *nats.Conn, subject string, frames [][]byte) error {
	return nc.Publish(subject, encodeFramesToBytes(frames))
}

// SubHandle is the subset of a SUB socket a device tracker needs to
// retarget a connection: it models ZeroMQ's SUB connect/disconnect calls
// as subject-based (re)subscriptions against the shared NATS connection.
// Each SubHandle is owned by one subscriber actor and dispatches every
// subscription it opens to that actor's handler, the same async-callback
// style transport.Subscribe uses for the initial shard subscriptions.
type SubHandle struct {
	nc      *nats.Conn
	handler func(frames [][]byte)
	subs    map[string]*nats.Subscription
}

// NewSubHandle wraps a NATS connection as a device-addressable SUB socket,
// delivering every message received on a (re)connected endpoint to handler.
func NewSubHandle(nc *nats.Conn, handler func(frames [][]byte)) *SubHandle {
	return &SubHandle{nc: nc, handler: handler, subs: make(map[string]*nats.Subscription)}
}

// Connect subscribes to subject endpoint if not already connected. Messages
// are delivered asynchronously to the handler bound at construction, not
// polled, so a retargeted device's traffic keeps flowing into the owning
// actor's inbox without a separate drain loop.
func (h *SubHandle) Connect(endpoint string) error {
	if _, ok := h.subs[endpoint]; ok {
		return nil
	}
	sub, err := h.nc.Subscribe(endpoint, func(msg *nats.Msg) {
		frames, err := decodeFramesFromBytes(msg.Data)
		if err != nil {
			return
		}
		h.handler(frames)
	})
	if err != nil {
		return err
	}
	h.subs[endpoint] = sub
	return nil
}

// Disconnect unsubscribes from subject endpoint.
func (h *SubHandle) Disconnect(endpoint string) error {
	sub, ok := h.subs[endpoint]
	if !ok {
		return nil
	}
	delete(h.subs, endpoint)
	return sub.Unsubscribe()
}

// Subscribe installs a subscription on the given NATS subject (prefix
// matching only where the subject itself uses NATS wildcards) and calls
// handler with the decoded frames from nats.go's async delivery callback,
// returning the subscription so the caller's event loop can fold delivery
// into a channel-based select. Messages whose payload fails to decode are
// discarded.
func Subscribe(nc *nats.Conn, subjectPrefix string, handler func(frames [][]byte)) (*nats.Subscription, error) {
	return nc.Subscribe(subjectPrefix, func(msg *nats.Msg) {
		frames, err := decodeFramesFromBytes(msg.Data)
		if err != nil {
			return
		}
		handler(frames)
	})
}
