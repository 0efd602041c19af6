package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetaRoundTrip(t *testing.T) {
	m := &Meta{
		Tag:               1,
		CompressionMethod: 0,
		Version:           1,
		DeviceNumber:      7,
		SequenceNumber:    100,
		CreatedMs:         1700000000000,
	}
	decoded, err := DecodeMeta(m.Encode())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestDecodeMetaWrongSize(t *testing.T) {
	_, err := DecodeMeta([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFromFramesValidCounts(t *testing.T) {
	for _, n := range []int{3, 4} {
		assert.True(t, ValidFrameCount(n))
	}
	for _, n := range []int{0, 1, 2, 5} {
		assert.False(t, ValidFrameCount(n))
	}
}

func TestFromFramesRejectsBadCount(t *testing.T) {
	_, err := FromFrames([][]byte{[]byte("only-one")})
	assert.Error(t, err)
}

func TestFromFramesThreeFrame(t *testing.T) {
	e, err := FromFrames([][]byte{[]byte("app-env"), []byte("frontend.page.app.env"), []byte(`{"x":1}`)})
	require.NoError(t, err)
	assert.Equal(t, "app-env", e.AppEnv)
	assert.Nil(t, e.Meta)
	assert.False(t, e.IsHeartbeat())
	assert.Equal(t, 3, e.FrameCount())
}

func TestFromFramesHeartbeat(t *testing.T) {
	meta := &Meta{DeviceNumber: 9, SequenceNumber: 100}
	e, err := FromFrames([][]byte{[]byte(""), []byte(HeartbeatTopic), []byte("tcp://host:1234"), meta.Encode()})
	require.NoError(t, err)
	assert.True(t, e.IsHeartbeat())
	assert.Equal(t, uint32(9), e.Meta.DeviceNumber)
}

func TestFromFramesInvalidMetaIsNeverHeartbeat(t *testing.T) {
	e, err := FromFrames([][]byte{[]byte(""), []byte(HeartbeatTopic), []byte("tcp://host:1234"), []byte("bad")})
	require.NoError(t, err)
	assert.Nil(t, e.Meta)
	assert.Error(t, e.MetaErr)
	assert.False(t, e.IsHeartbeat())
}

func TestToFramesRoundTrip(t *testing.T) {
	meta := &Meta{DeviceNumber: 1, SequenceNumber: 2}
	e := &Envelope{AppEnv: "a", Topic: "t", Payload: []byte("p"), Meta: meta}
	frames := e.ToFrames()
	require.Len(t, frames, 4)
	rebuilt, err := FromFrames(frames)
	require.NoError(t, err)
	assert.Equal(t, e.AppEnv, rebuilt.AppEnv)
	assert.Equal(t, e.Topic, rebuilt.Topic)
	assert.Equal(t, e.Meta, rebuilt.Meta)
}
