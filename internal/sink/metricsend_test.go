package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcpipeline/profcore/internal/collective"
)

func TestMetricSenderReceiverRoundTripOverStandalone(t *testing.T) {
	coll := collective.NewStandalone()
	sender := NewMetricSender(coll)
	receiver := NewMetricReceiver(sender)

	src := &fakeSource{}
	settings := newFakeSettings(src).AddSink(sender).AddSink(receiver)
	buildAndRun(t, settings)

	require.NoError(t, sender.Write())
	assert.NotNil(t, sender.Result())

	require.NoError(t, receiver.Write())
}

func TestEncodeDecodeMetricTuplesRoundTrips(t *testing.T) {
	vals := map[[2]int64]float64{
		{1, 2}: 3.5,
		{4, 5}: -1.25,
	}
	blob := encodeMetricTuples(vals)
	assert.Len(t, blob, len(vals)*metricTupleSize)

	decoded := decodeMetricTuples(blob)
	assert.Equal(t, vals, decoded)
}
