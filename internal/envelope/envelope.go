// Package envelope defines the message unit that traverses the ingestion
// pipeline: a 3- or 4-frame envelope of {app-env, topic, payload [, meta]}.
package envelope

import (
	"encoding/binary"
	"fmt"
)

// MetaSize is the fixed byte width of an encoded Meta record.
const MetaSize = 24

// Meta is the fixed-width record carried as the optional 4th frame.
type Meta struct {
	Tag               uint8
	CompressionMethod uint8
	Version           uint8
	DeviceNumber      uint32
	SequenceNumber    uint64
	CreatedMs         int64
}

// Envelope is the unit traversing the fan-in/fan-out pipeline. Meta is nil
// for 3-frame envelopes, or for 4-frame envelopes whose meta frame failed
// to decode (MetaErr records why).
type Envelope struct {
	AppEnv  string
	Topic   string
	Payload []byte
	Meta    *Meta
	MetaErr error
}

// HeartbeatTopic is the literal topic value that marks a heartbeat: a
// publisher's endpoint advertisement that never propagates past the
// subscriber actor.
const HeartbeatTopic = "heartbeat"

// PingTopic is the literal topic used by the direct-submission ROUTER ping
// probe; it is replied to but never forwarded.
const PingTopic = "ping"

// IsHeartbeat reports whether this envelope is a heartbeat frame. Per the
// spec, heartbeat status only applies to 4-frame envelopes — a 3-frame
// message with topic "heartbeat" is not treated as a heartbeat, since
// heartbeats require a meta record.
func (e *Envelope) IsHeartbeat() bool {
	return e.Meta != nil && e.Topic == HeartbeatTopic
}

// FrameCount returns the number of wire frames this envelope would occupy:
// 3 without meta, 4 with it.
func (e *Envelope) FrameCount() int {
	if e.Meta == nil {
		return 3
	}
	return 4
}

// ValidFrameCount reports whether n is an acceptable envelope frame count.
func ValidFrameCount(n int) bool {
	return n == 3 || n == 4
}

// Encode packs a Meta record into its fixed 24-byte wire layout:
//
//	offset 0:  tag                 (1 byte)
//	offset 1:  compression_method  (1 byte)
//	offset 2:  version             (1 byte)
//	offset 3:  reserved, always 0  (1 byte)
//	offset 4:  device_number       (4 bytes, big-endian)
//	offset 8:  sequence_number     (8 bytes, big-endian)
//	offset 16: created_ms          (8 bytes, big-endian, signed)
//
// This layout is a wire-format decision not pinned down by the spec (see
// DESIGN.md); it is fixed-width and byte-order stable across processes,
// which is all the spec requires.
func (m *Meta) Encode() []byte {
	buf := make([]byte, MetaSize)
	buf[0] = m.Tag
	buf[1] = m.CompressionMethod
	buf[2] = m.Version
	buf[3] = 0
	binary.BigEndian.PutUint32(buf[4:8], m.DeviceNumber)
	binary.BigEndian.PutUint64(buf[8:16], m.SequenceNumber)
	binary.BigEndian.PutUint64(buf[16:24], uint64(m.CreatedMs))
	return buf
}

// DecodeMeta parses a Meta record from its fixed 24-byte wire layout. It
// returns an error if buf is not exactly MetaSize bytes, which is treated
// as a meta parse failure by the subscriber (incrementing meta_failures).
func DecodeMeta(buf []byte) (*Meta, error) {
	if len(buf) != MetaSize {
		return nil, fmt.Errorf("envelope: invalid meta frame size %d, want %d", len(buf), MetaSize)
	}
	return &Meta{
		Tag:               buf[0],
		CompressionMethod: buf[1],
		Version:           buf[2],
		DeviceNumber:      binary.BigEndian.Uint32(buf[4:8]),
		SequenceNumber:    binary.BigEndian.Uint64(buf[8:16]),
		CreatedMs:         int64(binary.BigEndian.Uint64(buf[16:24])),
	}, nil
}

// FromFrames builds an Envelope from raw wire frames (3 or 4). It returns
// an error if the frame count is invalid; the meta frame (if present) is
// parsed but a meta parse failure does not make FromFrames fail — it
// returns the envelope with Meta == nil and MetaErr set, and the caller is
// expected to account this as a meta_failures increment. Such an envelope
// is never a heartbeat (IsHeartbeat requires a decoded Meta).
func FromFrames(frames [][]byte) (*Envelope, error) {
	if !ValidFrameCount(len(frames)) {
		return nil, fmt.Errorf("envelope: invalid frame count %d", len(frames))
	}
	e := &Envelope{
		AppEnv:  string(frames[0]),
		Topic:   string(frames[1]),
		Payload: frames[2],
	}
	if len(frames) == 4 {
		meta, err := DecodeMeta(frames[3])
		if err != nil {
			e.MetaErr = err
		} else {
			e.Meta = meta
		}
	}
	return e, nil
}

// ToFrames serializes the envelope back to wire frames.
func (e *Envelope) ToFrames() [][]byte {
	frames := [][]byte{[]byte(e.AppEnv), []byte(e.Topic), e.Payload}
	if e.Meta != nil {
		frames = append(frames, e.Meta.Encode())
	}
	return frames
}
