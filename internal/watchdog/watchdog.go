// Package watchdog implements a credit-based liveness actor: it aborts the
// owning process if its supervisor stops sending ticks.
package watchdog

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/logjam-io/logjam-importer/internal/logging"
)

// Credit is the number of 1-second timer ticks the watchdog tolerates
// without receiving a "tick" command before it aborts the process.
const Credit = 10

// Command is a message sent from the supervisor down the watchdog's pipe.
type Command int

const (
	// CommandTick resets the watchdog's credit to Credit.
	CommandTick Command = iota
	// CommandTerm cleanly stops the watchdog's event loop.
	CommandTerm
)

// abortFunc is overridable in tests so a credit-exhaustion path can be
// exercised without actually terminating the test process.
var abortFunc = func() { os.Exit(1) }

// Watchdog runs a single-threaded event loop: a 1Hz timer decrements
// credit, and the supervisor's pipe resets it. It never reacts to the
// process's interrupt signals directly; only its supervisor can stop it
// via CommandTerm.
type Watchdog struct {
	pipe   chan Command
	ready  chan struct{}
	done   chan struct{}
	logger zerolog.Logger
	self   *process.Process // nil if unavailable on this platform

	mu     sync.Mutex
	credit int
}

// New creates a watchdog actor. Run must be called to start its loop.
func New(logger zerolog.Logger) *Watchdog {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		self = nil
	}
	return &Watchdog{
		pipe:   make(chan Command, 1),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.With().Str("actor", "watchdog").Logger(),
		self:   self,
		credit: Credit,
	}
}

// Pipe returns the channel the supervisor uses to send commands.
func (w *Watchdog) Pipe() chan<- Command {
	return w.pipe
}

// Ready blocks until the actor has signaled readiness on startup.
func (w *Watchdog) Ready() <-chan struct{} {
	return w.ready
}

// Done is closed once the event loop has exited (only on CommandTerm; a
// credit-exhaustion abort terminates the process first).
func (w *Watchdog) Done() <-chan struct{} {
	return w.done
}

// CreditRemaining returns the watchdog's current credit (test/diagnostic use).
func (w *Watchdog) CreditRemaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.credit
}

// Run executes the event loop. It blocks until CommandTerm is received or
// credit reaches zero, in which case the process aborts and Run never
// returns.
func (w *Watchdog) Run() {
	close(w.ready)
	defer close(w.done)
	defer logging.RecoverPanic(w.logger, "watchdog.Run", nil)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			w.credit--
			credit := w.credit
			w.mu.Unlock()
			if credit == 0 {
				w.logger.Error().Msg("no credit left, aborting process")
				abortFunc()
				return
			}
			if credit < Credit-1 {
				event := w.logger.Info().Int("credit", credit)
				if w.self != nil {
					if cpuPercent, err := w.self.CPUPercent(); err == nil {
						event = event.Float64("cpu_percent", cpuPercent)
					}
				}
				event.Msg("credit left")
			}

		case cmd, ok := <-w.pipe:
			if !ok {
				return
			}
			switch cmd {
			case CommandTick:
				w.mu.Lock()
				w.credit = Credit
				w.mu.Unlock()
			case CommandTerm:
				w.logger.Info().Msg("shutting down")
				return
			default:
				w.logger.Error().Int("command", int(cmd)).Msg("received unknown actor command")
			}
		}
	}
}
