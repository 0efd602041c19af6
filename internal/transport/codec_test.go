package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCodecRoundTrip(t *testing.T) {
	frames := [][]byte{[]byte("app-env"), []byte("topic"), []byte("payload"), []byte("meta-bytes")}
	data := encodeFramesToBytes(frames)
	decoded, err := decodeFramesFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, frames, decoded)
}

func TestFrameCodecEmptyFrames(t *testing.T) {
	frames := [][]byte{[]byte(""), []byte("heartbeat"), []byte("tcp://host:1")}
	data := encodeFramesToBytes(frames)
	decoded, err := decodeFramesFromBytes(data)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Equal(t, []byte(""), decoded[0])
}

func TestFrameCodecRejectsImplausibleCount(t *testing.T) {
	_, err := decodeFramesFromBytes([]byte{0xff, 0xff, 0xff, 0xff})
	assert.Error(t, err)
}
