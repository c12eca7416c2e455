package packed

import (
	"bytes"

	"github.com/hpcpipeline/profcore/internal/model"
)

// FlowGraphView is the plain-data projection of a model.ContextFlowGraph
// EncodeFlowGraphs needs: its target Scope, entry Scopes and Template
// paths. Callers build one per graph from Graph.Scope/Entries()/
// Templates() — this package intentionally never imports the handler
// closure, since a func value isn't serializable; each rank reinstalls its
// own handler via whatever Finalizer owns flow-graph resolution locally.
type FlowGraphView struct {
	Scope     model.Scope
	Entries   []model.Scope
	Templates [][]model.Scope
}

// DecodedFlowGraph mirrors FlowGraphView on the receiving side.
type DecodedFlowGraph struct {
	Scope     model.Scope
	Entries   []model.Scope
	Templates [][]model.Scope
}

// EncodeFlowGraphs serializes a set of ContextFlowGraphs — their target
// Scope, entry Scopes, and Template paths — for a rank-0 IdPacker Sink to
// hand to IdUnpacker on every other rank.
func EncodeFlowGraphs(graphs []FlowGraphView, res Resolvers) []byte {
	var buf bytes.Buffer
	writeUvarint(&buf, uint64(len(graphs)))
	for _, g := range graphs {
		encodeScope(&buf, g.Scope, res)

		writeUvarint(&buf, uint64(len(g.Entries)))
		for _, e := range g.Entries {
			encodeScope(&buf, e, res)
		}

		writeUvarint(&buf, uint64(len(g.Templates)))
		for _, tmpl := range g.Templates {
			writeUvarint(&buf, uint64(len(tmpl)))
			for _, sc := range tmpl {
				encodeScope(&buf, sc, res)
			}
		}
	}
	return buf.Bytes()
}

// DecodeFlowGraphs is the inverse of EncodeFlowGraphs.
func DecodeFlowGraphs(blob []byte, res Resolvers) ([]DecodedFlowGraph, error) {
	r := bytes.NewReader(blob)
	count, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]DecodedFlowGraph, 0, count)
	for i := uint64(0); i < count; i++ {
		scope, err := decodeScope(r, res)
		if err != nil {
			return nil, err
		}
		g := DecodedFlowGraph{Scope: scope}

		entryCount, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		for e := uint64(0); e < entryCount; e++ {
			sc, err := decodeScope(r, res)
			if err != nil {
				return nil, err
			}
			g.Entries = append(g.Entries, sc)
		}

		tmplCount, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		for t := uint64(0); t < tmplCount; t++ {
			pathLen, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			path := make([]model.Scope, 0, pathLen)
			for p := uint64(0); p < pathLen; p++ {
				sc, err := decodeScope(r, res)
				if err != nil {
					return nil, err
				}
				path = append(path, sc)
			}
			g.Templates = append(g.Templates, path)
		}

		out = append(out, g)
	}
	return out, nil
}
