package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMetricsYAMLRendersStatisticsFormulas(t *testing.T) {
	target := newMemTarget()
	metricsYAML := NewMetricsYAML(target, "metrics.yaml")

	src := &fakeSource{}
	settings := newFakeSettings(src).AddSink(metricsYAML)
	buildAndRun(t, settings)

	require.NoError(t, metricsYAML.Write())

	data := target.get("metrics.yaml")
	require.NotEmpty(t, data)

	var doc metricsDocument
	require.NoError(t, yaml.Unmarshal(data, &doc))
	require.Len(t, doc.Metrics, 1)
	assert.Equal(t, "cycles", doc.Metrics[0].Name)
	assert.Equal(t, "shown", doc.Metrics[0].Visibility)
	assert.Contains(t, doc.Metrics[0].Scopes, "point")
}
