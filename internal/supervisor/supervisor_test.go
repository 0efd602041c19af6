package supervisor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/logjam-io/logjam-importer/internal/devicetracker"
	"github.com/logjam-io/logjam-importer/internal/metrics"
	"github.com/logjam-io/logjam-importer/internal/subscriber"
	"github.com/logjam-io/logjam-importer/internal/transport"
	"github.com/logjam-io/logjam-importer/internal/watchdog"
)

type nopReconnector struct{}

func (nopReconnector) Connect(string) error    { return nil }
func (nopReconnector) Disconnect(string) error { return nil }

func TestSupervisorStartAndShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	actors := make([]*subscriber.Actor, 0, 2)
	for i := 0; i < 2; i++ {
		push, _ := transport.NewPushPull(4, 10*time.Millisecond)
		tracker := devicetracker.New(nopReconnector{}, zerolog.Nop())
		sink := metrics.NewSubscriberSink(reg, "actor", zerolog.Nop())
		a := subscriber.New(subscriber.Config{ActorID: "actor", HeartbeatTicks: 1}, tracker, push, nil, nil, sink, zerolog.Nop(), 4)
		actors = append(actors, a)
	}
	dog := watchdog.New(zerolog.Nop())

	sup := New(actors, dog, 20*time.Millisecond, zerolog.Nop())
	sup.Start()

	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		sup.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not shut down")
	}

	for _, a := range actors {
		select {
		case <-a.Done():
		default:
			t.Fatal("actor did not report done")
		}
	}
	require.True(t, true)
}
