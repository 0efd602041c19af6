// Command logjam-subscriber boots the importer subscriber actor pool: N
// sharded actors fan in device PUB traffic (plus, on actor 0, the
// direct-submission PULL/ROUTER endpoints), a supervisor drives their tick
// loop, and a watchdog aborts the process if the supervisor stalls.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"

	"github.com/logjam-io/logjam-importer/internal/config"
	"github.com/logjam-io/logjam-importer/internal/devicetracker"
	"github.com/logjam-io/logjam-importer/internal/logging"
	"github.com/logjam-io/logjam-importer/internal/metrics"
	"github.com/logjam-io/logjam-importer/internal/subscriber"
	"github.com/logjam-io/logjam-importer/internal/supervisor"
	"github.com/logjam-io/logjam-importer/internal/transport"
	"github.com/logjam-io/logjam-importer/internal/watchdog"
)

func main() {
	cfg, err := config.LoadSubscriberConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logjam-subscriber: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Name: "logjam-subscriber"})
	cfg.LogConfig(logger)

	maxProcs := runtime.GOMAXPROCS(0)
	logger.Info().Int("gomaxprocs", maxProcs).Msg("GOMAXPROCS (via automaxprocs - rounds down to integer)")

	nc, err := transport.DialPub(cfg.NatsURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to upstream transport")
	}
	defer nc.Close()

	reg := prometheus.NewRegistry()

	actors := make([]*subscriber.Actor, cfg.NumSubscribers)
	for i := 0; i < cfg.NumSubscribers; i++ {
		actorID := strconv.Itoa(i)
		actorLogger := logger.With().Str("actor", actorID).Logger()

		sink := metrics.NewSubscriberSink(reg, actorID, actorLogger)
		push, _ := transport.NewPushPull(cfg.PushQueueDepth, cfg.PushSendTimeout)

		var pull *transport.PullSocket
		var router *transport.RouterSocket

		if i == 0 {
			pullPush, pull0 := transport.NewPushPull(cfg.PushQueueDepth, cfg.PushSendTimeout)
			if _, err := transport.ListenPull(cfg.PullAddr, pullPush); err != nil {
				logger.Fatal().Err(err).Str("addr", cfg.PullAddr).Msg("failed to bind direct-submission PULL endpoint")
			}
			pull = pull0

			router, err = transport.ListenRouter(cfg.RouterAddr)
			if err != nil {
				logger.Fatal().Err(err).Str("addr", cfg.RouterAddr).Msg("failed to bind direct-submission ROUTER endpoint")
			}
		}

		actor := subscriber.New(subscriber.Config{
			ActorID:        actorID,
			HeartbeatTicks: uint64(cfg.HeartbeatTicks),
			StaleThreshold: cfg.StaleThreshold,
		}, nil, push, pull, router, sink, actorLogger, cfg.RcvHighWaterMark)

		// A reconnected device's traffic must land back in this same
		// actor's inbox, so each actor gets its own SubHandle bound to its
		// SubInbox rather than sharing one across shards.
		subHandle := transport.NewSubHandle(nc, forwardTo(actor.SubInbox()))
		actor.SetTracker(devicetracker.New(subHandle, actorLogger))

		actors[i] = actor
	}

	for _, device := range shardDevices(cfg.Devices, cfg.SubPort, cfg.NumSubscribers) {
		actor := actors[device.shard]
		subject := device.subject
		if _, err := transport.Subscribe(nc, subject, forwardTo(actor.SubInbox())); err != nil {
			logger.Fatal().Err(err).Str("subject", subject).Int("shard", device.shard).Msg("failed to subscribe to device subject")
		}
		logger.Info().Str("subject", subject).Int("shard", device.shard).Msg("subscribed shard to device subject")
	}

	dog := watchdog.New(logger)
	sup := supervisor.New(actors, dog, time.Second, logger)
	sup.Start()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down subscriber")
	sup.Shutdown()
	_ = metricsSrv.Close()
}

// forwardTo adapts a subscriber's inbox channel into the callback shape
// transport.Subscribe expects, decoupling the NATS subscription's delivery
// goroutine from the actor's own event loop.
func forwardTo(inbox chan<- [][]byte) func(frames [][]byte) {
	return func(frames [][]byte) {
		inbox <- frames
	}
}

type deviceAssignment struct {
	subject string
	shard   int
}

// shardDevices assigns each configured device subject to a subscriber
// shard, k mod N, per spec.md §4's "SUB subscription channel(s)... sharded"
// data flow. An empty device list falls back to one synthetic
// localhost:<subPort> subject so a freshly started subscriber still has
// something to subscribe to.
func shardDevices(devices string, subPort int, numSubscribers int) []deviceAssignment {
	names := []string{}
	for _, d := range strings.Split(devices, ",") {
		d = strings.TrimSpace(d)
		if d != "" {
			names = append(names, d)
		}
	}
	if len(names) == 0 {
		names = []string{fmt.Sprintf("localhost:%d", subPort)}
	}

	assignments := make([]deviceAssignment, len(names))
	for k, name := range names {
		assignments[k] = deviceAssignment{
			subject: fmt.Sprintf("logjam.device.%s", name),
			shard:   k % numSubscribers,
		}
	}
	return assignments
}
