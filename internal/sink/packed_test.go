package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcpipeline/profcore/internal/packed"
)

func TestIdPackerWritesReferencesAttributesAndContexts(t *testing.T) {
	target := newMemTarget()
	idPacker := NewIdPacker(target)

	src := &fakeSource{}
	settings := newFakeSettings(src).AddSink(idPacker)
	buildAndRun(t, settings)

	require.NoError(t, idPacker.Write())

	refBlob := target.get("references.avro")
	require.NotEmpty(t, refBlob)
	refs, err := packed.DecodeReferences(refBlob)
	require.NoError(t, err)
	require.Len(t, refs.Modules, 1)
	assert.Equal(t, "/bin/prog", refs.Modules[0].Path)

	attrBlob := target.get("attributes.avro")
	require.NotEmpty(t, attrBlob)
	attrs, err := packed.DecodeAttributes(attrBlob)
	require.NoError(t, err)
	require.Len(t, attrs.Metrics, 1)
	assert.Equal(t, "cycles", attrs.Metrics[0].Name)

	ctxBlob := target.get("contexts.bin")
	require.NotEmpty(t, ctxBlob)
	res := packed.Resolvers{Modules: idPacker.resolver().Modules, Files: idPacker.resolver().Files}
	root, err := packed.DecodeContexts(ctxBlob, res)
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	require.Len(t, root.Children[0].Children, 1)
}
