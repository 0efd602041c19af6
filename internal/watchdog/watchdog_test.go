package watchdog

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdogTermStopsCleanly(t *testing.T) {
	w := New(zerolog.Nop())
	go w.Run()

	select {
	case <-w.Ready():
	case <-time.After(time.Second):
		t.Fatal("watchdog never signaled readiness")
	}

	w.Pipe() <- CommandTerm

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("watchdog never exited after $TERM")
	}
}

func TestWatchdogTickResetsCredit(t *testing.T) {
	w := New(zerolog.Nop())
	w.credit = 3
	w.Pipe() <- CommandTick

	go w.Run()
	<-w.Ready()
	require.Eventually(t, func() bool { return w.CreditRemaining() == Credit }, time.Second, time.Millisecond)

	w.Pipe() <- CommandTerm
	<-w.Done()
}

func TestWatchdogAbortsOnCreditExhaustion(t *testing.T) {
	aborted := make(chan struct{})
	orig := abortFunc
	abortFunc = func() { close(aborted) }
	defer func() { abortFunc = orig }()

	w := New(zerolog.Nop())
	w.credit = 1
	go w.Run()
	<-w.Ready()

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not abort on credit exhaustion")
	}
	assert.Equal(t, 0, w.CreditRemaining())
}
