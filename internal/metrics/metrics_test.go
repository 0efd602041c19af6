package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c *prometheus.CounterVec, actor string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.WithLabelValues(actor).Write(&m))
	return m.GetCounter().GetValue()
}

func TestSubscriberSinkEmitTickAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewSubscriberSink(reg, "0", zerolog.Nop())

	sink.EmitTick(SubscriberTickCounts{Messages: 10, Drops: 2, Blocks: 1, GapTotal: 3})
	sink.EmitTick(SubscriberTickCounts{Messages: 5})

	assert.Equal(t, float64(15), counterValue(t, sink.received, "0"))
	assert.Equal(t, float64(2), counterValue(t, sink.dropped, "0"))
	assert.Equal(t, float64(1), counterValue(t, sink.blocked, "0"))
	assert.Equal(t, float64(3), counterValue(t, sink.missed, "0"))
}

func TestBeaconSinkEmitTick(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewBeaconSink(reg, zerolog.Nop())

	sink.EmitTick(BeaconTickCounts{Messages: 4, Invalid: 1, TotalKB: 8, PeakKB: 3})

	var m dto.Metric
	require.NoError(t, sink.messages.Write(&m))
	assert.Equal(t, float64(4), m.GetCounter().GetValue())
}
