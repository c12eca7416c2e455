package source

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hpcpipeline/profcore/internal/dataclass"
)

func TestNatsSourceProvidesAndFinalizeRequest(t *testing.T) {
	s := NewNatsSource(nil, "profcore.samples", "")
	want := dataclass.Attributes | dataclass.Threads | dataclass.References |
		dataclass.Metrics | dataclass.Contexts
	assert.Equal(t, want, s.Provides())
	assert.Equal(t, want, s.FinalizeRequest(want))
	assert.Equal(t, dataclass.Metrics, s.FinalizeRequest(dataclass.Metrics))
}

func TestNatsSourceStopIsIdempotent(t *testing.T) {
	s := NewNatsSource(nil, "profcore.samples", "")
	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
}
