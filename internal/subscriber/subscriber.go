// Package subscriber implements the importer subscriber actor: one per
// shard, each pulling envelopes from a SUB socket (and, for actor 0, a
// PULL and ROUTER socket) and forwarding them to a bounded downstream
// PUSH socket.
package subscriber

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/logjam-io/logjam-importer/internal/devicetracker"
	"github.com/logjam-io/logjam-importer/internal/envelope"
	"github.com/logjam-io/logjam-importer/internal/logging"
	"github.com/logjam-io/logjam-importer/internal/metrics"
	"github.com/logjam-io/logjam-importer/internal/transport"
)

// Command is a message sent from the supervisor down an actor's pipe.
type Command int

const (
	// CommandTick triggers counter emission, a human summary, a counter
	// reset, and (every HeartbeatTicks ticks) stale-device maintenance.
	CommandTick Command = iota
	// CommandTerm cleanly stops the actor's event loop.
	CommandTerm
)

// Reply codes used on the ROUTER socket, per spec.
const (
	replyPong      = "200 Pong"
	replyAccepted  = "202 Accepted"
	replyBadEntity = "400 Bad Request"
)

// Config configures one subscriber actor.
type Config struct {
	ActorID        string
	HeartbeatTicks uint64
	StaleThreshold time.Duration
}

// Actor is one subscriber shard's event loop state. An Actor is owned by
// exactly one goroutine (the one running Run); it performs no internal
// locking.
type Actor struct {
	cfg      Config
	logger   zerolog.Logger
	hostname string

	subInbox chan [][]byte
	push     *transport.PushSocket
	pull     *transport.PullSocket   // nil unless this actor owns the PULL socket
	router   *transport.RouterSocket // nil unless this actor owns the ROUTER socket

	tracker *devicetracker.Tracker
	metrics *metrics.SubscriberSink

	pipe  chan Command
	ready chan struct{}
	done  chan struct{}

	counts          metrics.SubscriberTickCounts
	ticks           uint64
	blockedThisTick bool
	droppedThisTick bool
}

// New creates a subscriber actor. subInboxDepth bounds the channel fed by
// the actor's SUB subscriptions before Run starts draining it.
func New(cfg Config, tracker *devicetracker.Tracker, push *transport.PushSocket, pull *transport.PullSocket, router *transport.RouterSocket, sink *metrics.SubscriberSink, logger zerolog.Logger, subInboxDepth int) *Actor {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Actor{
		cfg:      cfg,
		logger:   logger.With().Str("actor", cfg.ActorID).Logger(),
		hostname: hostname,
		subInbox: make(chan [][]byte, subInboxDepth),
		push:     push,
		pull:     pull,
		router:   router,
		tracker:  tracker,
		metrics:  sink,
		pipe:     make(chan Command, 1),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetTracker binds the device tracker an actor uses for gap accounting and
// stale-endpoint reconnection. It exists separately from New because a
// tracker's Reconnector typically needs the actor's own SubInbox as its
// delivery target, which isn't available until after construction.
func (a *Actor) SetTracker(tracker *devicetracker.Tracker) {
	a.tracker = tracker
}

// SubInbox returns the channel NATS subscriptions should deliver decoded
// frames to; it folds every shard subscription into the actor's single
// select loop, matching the spec's "SUB-readable" event without
// privileging any one subject.
func (a *Actor) SubInbox() chan<- [][]byte {
	return a.subInbox
}

// Pipe returns the channel the supervisor uses to send commands.
func (a *Actor) Pipe() chan<- Command {
	return a.pipe
}

// Ready blocks until the actor has signaled readiness on startup.
func (a *Actor) Ready() <-chan struct{} {
	return a.ready
}

// Done is closed once the event loop has exited.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// Run executes the actor's single-threaded cooperative event loop until it
// receives CommandTerm on its pipe.
func (a *Actor) Run() {
	close(a.ready)
	defer close(a.done)
	defer logging.RecoverPanic(a.logger, "subscriber.Run", map[string]any{"actor": a.cfg.ActorID})

	var routerInbox <-chan transport.RouterMessage
	if a.router != nil {
		routerInbox = a.router.Inbox
	}
	var pullInbox <-chan [][]byte
	if a.pull != nil {
		pullInbox = a.pull.Chan()
	}

	for {
		select {
		case frames := <-a.subInbox:
			a.readRequestAndForward(frames)

		case frames := <-pullInbox:
			a.readRequestAndForward(frames)

		case msg := <-routerInbox:
			a.readRouterRequestAndForward(msg)

		case cmd, ok := <-a.pipe:
			if !ok {
				return
			}
			if a.actorCommand(cmd) {
				return
			}
		}
	}
}

// readRequestAndForward implements the SUB/PULL-readable handler (spec
// §4.1).
func (a *Actor) readRequestAndForward(frames [][]byte) {
	a.counts.Messages++

	if !envelope.ValidFrameCount(len(frames)) {
		a.logger.Warn().Int("frame_count", len(frames)).Msg("dropping message with invalid frame count")
		return
	}

	env, err := envelope.FromFrames(frames)
	if err != nil {
		a.logger.Warn().Err(err).Msg("dropping malformed envelope")
		return
	}

	if len(frames) == 4 {
		isHeartbeat := a.handleMeta(env)
		if isHeartbeat {
			return
		}
	}

	a.forward(env.ToFrames())
}

// readRouterRequestAndForward implements the ROUTER-readable handler
// (spec §4.1/§4.3), including ping probes and reply framing.
func (a *Actor) readRouterRequestAndForward(msg transport.RouterMessage) {
	frames := msg.Frames
	if len(frames) == 0 {
		return
	}

	// msg.Frames is already post-identity: RouterSocket tracks the
	// identity frame out-of-band in msg.Identity, so a leading empty
	// frame here is the REQ-style delimiter, not a second identity.
	isRequestReply := len(frames[0]) == 0
	var envFrames [][]byte
	if isRequestReply {
		envFrames = frames[1:]
	} else {
		envFrames = frames
	}

	a.counts.Messages++

	if !envelope.ValidFrameCount(len(envFrames)) {
		a.logger.Warn().Int("frame_count", len(envFrames)).Msg("dropping router message with invalid frame count")
		if isRequestReply {
			a.reply(msg.Identity, replyFrames(replyBadEntity))
		}
		return
	}

	env, err := envelope.FromFrames(envFrames)
	if err != nil {
		a.logger.Warn().Err(err).Msg("dropping malformed router envelope")
		if isRequestReply {
			a.reply(msg.Identity, replyFrames(replyBadEntity))
		}
		return
	}

	if len(envFrames) == 4 && env.Meta != nil && env.Topic == envelope.PingTopic {
		if isRequestReply {
			a.reply(msg.Identity, [][]byte{[]byte{}, []byte(replyPong), []byte(a.hostname)})
		}
		return
	}

	isHeartbeat := false
	if len(envFrames) == 4 {
		isHeartbeat = a.handleMeta(env)
	}

	if !isHeartbeat {
		a.forward(env.ToFrames())
	}

	if isRequestReply {
		a.reply(msg.Identity, replyFrames(replyAccepted))
	}
}

func replyFrames(status string) [][]byte {
	return [][]byte{[]byte{}, []byte(status)}
}

// reply sends a ROUTER response, logging (but not escalating) any
// transport failure, per spec §4.1's "reply send failure is logged but
// non-fatal".
func (a *Actor) reply(identity string, frames [][]byte) {
	if err := a.router.Reply(identity, frames); err != nil {
		a.logger.Warn().Err(err).Str("identity", identity).Msg("router reply send failed")
	}
}

// handleMeta implements §4.1a meta handling, returning whether the
// message is a heartbeat.
func (a *Actor) handleMeta(env *envelope.Envelope) bool {
	if env.MetaErr != nil {
		a.counts.MetaFailures++
		return false
	}
	meta := env.Meta

	isHeartbeat := env.IsHeartbeat()

	if meta.DeviceNumber == 0 {
		a.counts.MessagesDevZero++
		return isHeartbeat
	}

	var observedEndpoint string
	hasObserved := false
	if isHeartbeat {
		observedEndpoint = string(env.Payload)
		hasObserved = true
	}

	gap := a.tracker.CalculateGap(meta, observedEndpoint, hasObserved, time.Now())
	a.counts.GapTotal += gap

	return isHeartbeat
}

// forward attempts the bounded PUSH send described in spec §4.1 steps 5-6:
// a non-blocking poll first (to count "blocked" distinctly from "dropped"),
// then a send bounded by the socket's configured timeout.
func (a *Actor) forward(frames [][]byte) {
	if a.push.TrySend(frames) {
		return
	}
	if !a.blockedThisTick {
		a.blockedThisTick = true
		a.logger.Warn().Msg("downstream push socket not writable")
	}
	a.counts.Blocks++

	if err := a.push.Send(frames); err != nil {
		if !a.droppedThisTick {
			a.droppedThisTick = true
			a.logger.Warn().Err(err).Msg("downstream push send timed out, dropping message")
		}
		a.counts.Drops++
	}
}

// actorCommand implements the pipe-readable handler (spec §4.1). It
// returns true when the event loop should terminate.
func (a *Actor) actorCommand(cmd Command) bool {
	switch cmd {
	case CommandTerm:
		a.logger.Info().Msg("shutting down")
		return true

	case CommandTick:
		a.metrics.EmitTick(a.counts)
		a.counts = metrics.SubscriberTickCounts{}
		a.blockedThisTick = false
		a.droppedThisTick = false

		a.ticks++
		if a.cfg.HeartbeatTicks > 0 && a.ticks%a.cfg.HeartbeatTicks == 0 {
			a.tracker.ReconnectStale(time.Now(), a.cfg.StaleThreshold)
		}
		return false

	default:
		a.logger.Error().Int("command", int(cmd)).Msg("received unknown actor command")
		return false
	}
}
