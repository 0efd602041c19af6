// Package transport implements the pluggable messaging primitives named in
// the spec: PUB/SUB with prefix subscriptions, PUSH/PULL with bounded
// send-with-timeout, a ROUTER socket that frames an opaque identity, and a
// STREAM-like raw TCP socket. PUB/SUB is backed by github.com/nats-io/nats.go;
// PUSH/PULL is implemented with buffered Go channels (the in-process
// equivalent of inproc:// sockets); ROUTER and STREAM are implemented on
// raw net.Conn with a small length-prefixed frame codec.
package transport

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrames guards decodeFrames against a corrupt or adversarial length
// header turning into a huge allocation.
const maxFrames = 64

// encodeFrames writes a length-prefixed multi-frame message: a uint32 frame
// count followed by, for each frame, a uint32 length and the frame bytes.
func encodeFrames(w io.Writer, frames [][]byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frames)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, f := range frames {
		binary.BigEndian.PutUint32(hdr[:], uint32(len(f)))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		if len(f) > 0 {
			if _, err := w.Write(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// decodeFrames reads one length-prefixed multi-frame message from r.
func decodeFrames(r *bufio.Reader) ([][]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(hdr[:])
	if count > maxFrames {
		return nil, fmt.Errorf("transport: implausible frame count %d", count)
	}
	frames := make([][]byte, count)
	for i := range frames {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint32(hdr[:])
		buf := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, err
			}
		}
		frames[i] = buf
	}
	return frames, nil
}

// encodeFramesToBytes packs frames into a single payload, used by the NATS
// PUB/SUB transport which carries one opaque byte payload per message.
func encodeFramesToBytes(frames [][]byte) []byte {
	var buf bytes.Buffer
	_ = encodeFrames(&buf, frames)
	return buf.Bytes()
}

func decodeFramesFromBytes(data []byte) ([][]byte, error) {
	return decodeFrames(bufio.NewReader(bytes.NewReader(data)))
}

// WriteFrames writes a length-prefixed multi-frame message to w, the same
// wire format RouterSocket and StreamSocket peers use. It is exported for
// use by test clients and any other code dialing a RouterSocket directly.
func WriteFrames(w io.Writer, frames [][]byte) error {
	return encodeFrames(w, frames)
}

// ReadFrames reads one length-prefixed multi-frame message from r, the
// read-side counterpart to WriteFrames for test clients reading a
// RouterSocket reply off the wire.
func ReadFrames(r io.Reader) ([][]byte, error) {
	return decodeFrames(bufio.NewReader(r))
}
