// Package devicetracker maintains per-device sequence state, computes gap
// sizes, and reconnects the owning subscriber's SUB socket to devices whose
// heartbeats have gone stale. A Tracker is owned by exactly one subscriber
// actor and is invoked only from that actor's event loop; it performs no
// internal locking.
package devicetracker

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/logjam-io/logjam-importer/internal/envelope"
)

// MaxDevices bounds the number of devices a tracker will track. Devices
// observed beyond this capacity are ignored, with a single diagnostic.
const MaxDevices = 4096

// Reconnector is the subset of the SUB socket a Tracker needs to retarget a
// connection when a device's advertised endpoint changes.
type Reconnector interface {
	Disconnect(endpoint string) error
	Connect(endpoint string) error
}

// Device is the tracked state for one observed device_number.
type Device struct {
	DeviceNumber      uint32
	LastSequence      uint64
	LastSeenMs        int64
	Endpoint          string
	HasEndpoint       bool
	ConnectedEndpoint string
	HasConnected      bool
}

// Tracker holds per-device sequence and endpoint state for one subscriber
// actor.
type Tracker struct {
	devices        map[uint32]*Device
	sub            Reconnector
	logger         zerolog.Logger
	capacityWarned bool
}

// New creates a Tracker bound to the given subscriber SUB socket.
func New(sub Reconnector, logger zerolog.Logger) *Tracker {
	return &Tracker{
		devices: make(map[uint32]*Device),
		sub:     sub,
		logger:  logger,
	}
}

// DeviceCount returns the number of currently tracked devices (test/metrics
// use).
func (t *Tracker) DeviceCount() int {
	return len(t.devices)
}

// Device returns the tracked state for a device number, or nil if absent.
func (t *Tracker) Device(deviceNumber uint32) *Device {
	return t.devices[deviceNumber]
}

// CalculateGap updates per-device state for a message with the given meta
// and optional observed endpoint advertisement (non-empty only for
// heartbeats), returning the gap contribution per spec:
//
//	last_sequence == 0:  last_sequence := seq; gap = 0
//	otherwise:            gap = max(0, seq - last_sequence - 1)
//	                      last_sequence := max(last_sequence, seq)
//
// Callers must not invoke this for device_number == 0 (synthetic/untracked
// devices never contribute to gap computation).
func (t *Tracker) CalculateGap(meta *envelope.Meta, observedEndpoint string, hasObservedEndpoint bool, now time.Time) uint64 {
	dev, ok := t.devices[meta.DeviceNumber]
	if !ok {
		if len(t.devices) >= MaxDevices {
			if !t.capacityWarned {
				t.capacityWarned = true
				t.logger.Warn().
					Int("max_devices", MaxDevices).
					Msg("device tracker at capacity, ignoring new device")
			}
			return 0
		}
		dev = &Device{DeviceNumber: meta.DeviceNumber}
		t.devices[meta.DeviceNumber] = dev
	}

	var gap uint64
	if dev.LastSequence == 0 {
		dev.LastSequence = meta.SequenceNumber
		gap = 0
	} else {
		if meta.SequenceNumber > dev.LastSequence+1 {
			gap = meta.SequenceNumber - dev.LastSequence - 1
		}
		if meta.SequenceNumber > dev.LastSequence {
			dev.LastSequence = meta.SequenceNumber
		}
	}

	dev.LastSeenMs = now.UnixMilli()
	if hasObservedEndpoint {
		dev.Endpoint = observedEndpoint
		dev.HasEndpoint = true
	}
	return gap
}

// ReconnectStale walks all tracked devices and, for each whose last_seen_ms
// is older than staleThreshold and whose endpoint is known and differs from
// the currently connected endpoint, disconnects from the stale endpoint (if
// any) and connects to the latest advertised one. Disconnect failures are
// logged but non-fatal; connect failures leave connected_endpoint
// unchanged so a later sweep retries.
func (t *Tracker) ReconnectStale(now time.Time, staleThreshold time.Duration) {
	deadline := now.Add(-staleThreshold).UnixMilli()
	for _, dev := range t.devices {
		if !dev.HasEndpoint {
			continue
		}
		if dev.LastSeenMs > deadline {
			continue
		}
		if dev.HasConnected && dev.ConnectedEndpoint == dev.Endpoint {
			continue
		}

		if dev.HasConnected {
			if err := t.sub.Disconnect(dev.ConnectedEndpoint); err != nil {
				t.logger.Warn().
					Err(err).
					Uint32("device_number", dev.DeviceNumber).
					Str("endpoint", dev.ConnectedEndpoint).
					Msg("failed to disconnect stale device endpoint")
			}
		}

		if err := t.sub.Connect(dev.Endpoint); err != nil {
			t.logger.Warn().
				Err(err).
				Uint32("device_number", dev.DeviceNumber).
				Str("endpoint", dev.Endpoint).
				Msg("failed to reconnect to device endpoint, will retry")
			continue
		}
		dev.ConnectedEndpoint = dev.Endpoint
		dev.HasConnected = true
	}
}
