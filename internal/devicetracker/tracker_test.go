package devicetracker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logjam-io/logjam-importer/internal/envelope"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeReconnector struct {
	connected    []string
	disconnected []string
	failConnect  map[string]bool
}

func newFakeReconnector() *fakeReconnector {
	return &fakeReconnector{failConnect: map[string]bool{}}
}

func (f *fakeReconnector) Connect(endpoint string) error {
	if f.failConnect[endpoint] {
		return assert.AnError
	}
	f.connected = append(f.connected, endpoint)
	return nil
}

func (f *fakeReconnector) Disconnect(endpoint string) error {
	f.disconnected = append(f.disconnected, endpoint)
	return nil
}

func TestCalculateGapFirstMessage(t *testing.T) {
	tr := New(newFakeReconnector(), testLogger())
	gap := tr.CalculateGap(&envelope.Meta{DeviceNumber: 7, SequenceNumber: 1}, "", false, time.Now())
	assert.Equal(t, uint64(0), gap)
	assert.Equal(t, uint64(1), tr.Device(7).LastSequence)
}

func TestCalculateGapWithGap(t *testing.T) {
	tr := New(newFakeReconnector(), testLogger())
	tr.CalculateGap(&envelope.Meta{DeviceNumber: 7, SequenceNumber: 5}, "", false, time.Now())
	gap := tr.CalculateGap(&envelope.Meta{DeviceNumber: 7, SequenceNumber: 8}, "", false, time.Now())
	assert.Equal(t, uint64(2), gap)
}

func TestCalculateGapOutOfOrderContributesZero(t *testing.T) {
	tr := New(newFakeReconnector(), testLogger())
	tr.CalculateGap(&envelope.Meta{DeviceNumber: 7, SequenceNumber: 10}, "", false, time.Now())
	gap := tr.CalculateGap(&envelope.Meta{DeviceNumber: 7, SequenceNumber: 3}, "", false, time.Now())
	assert.Equal(t, uint64(0), gap)
	assert.Equal(t, uint64(10), tr.Device(7).LastSequence)
}

func TestCalculateGapMonotonicSum(t *testing.T) {
	tr := New(newFakeReconnector(), testLogger())
	seqs := []uint64{1, 2, 5, 6, 10}
	var total uint64
	for i, seq := range seqs {
		gap := tr.CalculateGap(&envelope.Meta{DeviceNumber: 1, SequenceNumber: seq}, "", false, time.Now())
		if i > 0 {
			total += gap
		}
	}
	// missing: 3,4 (between 2 and 5) + 7,8,9 (between 6 and 10) = 5
	assert.Equal(t, uint64(5), total)
}

func TestCalculateGapHeartbeatUpdatesEndpoint(t *testing.T) {
	tr := New(newFakeReconnector(), testLogger())
	tr.CalculateGap(&envelope.Meta{DeviceNumber: 9, SequenceNumber: 100}, "tcp://host:1234", true, time.Now())
	dev := tr.Device(9)
	require.NotNil(t, dev)
	assert.Equal(t, "tcp://host:1234", dev.Endpoint)
	assert.Equal(t, uint64(100), dev.LastSequence)
}

func TestDeviceCapacity(t *testing.T) {
	tr := New(newFakeReconnector(), testLogger())
	for i := uint32(1); i <= MaxDevices+10; i++ {
		tr.CalculateGap(&envelope.Meta{DeviceNumber: i, SequenceNumber: 1}, "", false, time.Now())
	}
	assert.Equal(t, MaxDevices, tr.DeviceCount())
}

func TestReconnectStaleRetargets(t *testing.T) {
	recon := newFakeReconnector()
	tr := New(recon, testLogger())
	old := time.Now().Add(-time.Hour)
	tr.CalculateGap(&envelope.Meta{DeviceNumber: 1, SequenceNumber: 1}, "tcp://a:1", true, old)

	tr.ReconnectStale(time.Now(), time.Minute)

	assert.Equal(t, []string{"tcp://a:1"}, recon.connected)
	assert.Empty(t, recon.disconnected)
	assert.Equal(t, "tcp://a:1", tr.Device(1).ConnectedEndpoint)
}

func TestReconnectStaleSwapsEndpoint(t *testing.T) {
	recon := newFakeReconnector()
	tr := New(recon, testLogger())
	old := time.Now().Add(-time.Hour)
	tr.CalculateGap(&envelope.Meta{DeviceNumber: 1, SequenceNumber: 1}, "tcp://a:1", true, old)
	tr.ReconnectStale(time.Now(), time.Minute)

	tr.CalculateGap(&envelope.Meta{DeviceNumber: 1, SequenceNumber: 2}, "tcp://b:2", true, old)
	tr.ReconnectStale(time.Now(), time.Minute)

	assert.Equal(t, []string{"tcp://a:1", "tcp://b:2"}, recon.connected)
	assert.Equal(t, []string{"tcp://a:1"}, recon.disconnected)
}

func TestReconnectStaleConnectFailureLeavesRetry(t *testing.T) {
	recon := newFakeReconnector()
	recon.failConnect["tcp://a:1"] = true
	tr := New(recon, testLogger())
	old := time.Now().Add(-time.Hour)
	tr.CalculateGap(&envelope.Meta{DeviceNumber: 1, SequenceNumber: 1}, "tcp://a:1", true, old)

	tr.ReconnectStale(time.Now(), time.Minute)
	assert.False(t, tr.Device(1).HasConnected)

	recon.failConnect["tcp://a:1"] = false
	tr.ReconnectStale(time.Now(), time.Minute)
	assert.True(t, tr.Device(1).HasConnected)
}

func TestReconnectStaleSkipsFreshDevices(t *testing.T) {
	recon := newFakeReconnector()
	tr := New(recon, testLogger())
	tr.CalculateGap(&envelope.Meta{DeviceNumber: 1, SequenceNumber: 1}, "tcp://a:1", true, time.Now())

	tr.ReconnectStale(time.Now(), time.Minute)
	assert.Empty(t, recon.connected)
}
