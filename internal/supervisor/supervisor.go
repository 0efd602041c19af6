// Package supervisor owns the subscriber actor pool and the watchdog: it
// starts each actor's event loop on its own goroutine, drives the shared
// tick timer, and joins every actor on shutdown.
package supervisor

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/logjam-io/logjam-importer/internal/subscriber"
	"github.com/logjam-io/logjam-importer/internal/watchdog"
)

// Supervisor owns the lifetime of N subscriber actors plus the watchdog:
// it forwards one "tick" per interval to every actor and the watchdog,
// and fans out "$TERM" on Shutdown.
type Supervisor struct {
	actors   []*subscriber.Actor
	dog      *watchdog.Watchdog
	interval time.Duration
	logger   zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// New creates a supervisor for the given actors and watchdog. tickInterval
// is normally the subscriber's configured tick period (spec.md implies
// 1-second ticks, matching the watchdog's 1Hz credit timer).
func New(actors []*subscriber.Actor, dog *watchdog.Watchdog, tickInterval time.Duration, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		actors:   actors,
		dog:      dog,
		interval: tickInterval,
		logger:   logger.With().Str("component", "supervisor").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches every actor and the watchdog on their own goroutines,
// waits for each to signal readiness, and begins the tick loop.
func (s *Supervisor) Start() {
	go s.dog.Run()
	for _, a := range s.actors {
		go a.Run()
	}

	<-s.dog.Ready()
	for _, a := range s.actors {
		<-a.Ready()
	}
	s.logger.Info().Int("actors", len(s.actors)).Msg("all actors ready")

	go s.tickLoop()
}

func (s *Supervisor) tickLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.dog.Pipe() <- watchdog.CommandTick
			for _, a := range s.actors {
				a.Pipe() <- subscriber.CommandTick
			}
		case <-s.stop:
			return
		}
	}
}

// Shutdown sends $TERM to every actor and the watchdog and waits for them
// (and the tick loop) to exit.
func (s *Supervisor) Shutdown() {
	close(s.stop)
	<-s.done

	for _, a := range s.actors {
		a.Pipe() <- subscriber.CommandTerm
	}
	s.dog.Pipe() <- watchdog.CommandTerm

	for _, a := range s.actors {
		<-a.Done()
	}
	<-s.dog.Done()
	s.logger.Info().Msg("supervisor shut down")
}
