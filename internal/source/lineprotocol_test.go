package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcpipeline/profcore/internal/model"
)

func TestDecodeBatchParsesTagsFieldsAndStack(t *testing.T) {
	line := `sample,node=3,rank=7/1,thread=0 stack="[\"/bin/prog+0x10\",\"/bin/prog+0x20\"]",cycles=100,time=2.5 1000000000`

	samples, err := DecodeBatch([]byte(line))
	require.NoError(t, err)
	require.Len(t, samples, 1)

	s := samples[0]
	assert.Equal(t, int64(1000000000), s.Time)
	assert.InDelta(t, 100.0, s.Metrics["cycles"], 1e-9)
	assert.InDelta(t, 2.5, s.Metrics["time"], 1e-9)

	require.Len(t, s.Stack, 2)
	assert.Equal(t, StackFrame{Module: "/bin/prog", Offset: 0x10}, s.Stack[0])
	assert.Equal(t, StackFrame{Module: "/bin/prog", Offset: 0x20}, s.Stack[1])

	require.Len(t, s.Identity, 3)
	var node, rank *model.IdentityTriple
	for i := range s.Identity {
		switch s.Identity[i].Kind {
		case model.IdentityNode:
			node = &s.Identity[i]
		case model.IdentityRank:
			rank = &s.Identity[i]
		}
	}
	require.NotNil(t, node)
	require.NotNil(t, rank)
	assert.Equal(t, uint32(3), node.Logical)
	assert.Equal(t, uint32(3), node.Physical)
	assert.Equal(t, uint32(7), rank.Logical)
	assert.Equal(t, uint32(1), rank.Physical)
}

func TestDecodeBatchRejectsMalformedStackFrame(t *testing.T) {
	line := `sample,node=0 stack="[\"missingoffset\"]" 1`
	_, err := DecodeBatch([]byte(line))
	assert.Error(t, err)
}

func TestDecodeBatchIgnoresUnknownTags(t *testing.T) {
	line := `sample,cluster=fritz stack="[]",cycles=1 1`
	samples, err := DecodeBatch([]byte(line))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Empty(t, samples[0].Identity)
	assert.Empty(t, samples[0].Stack)
}
