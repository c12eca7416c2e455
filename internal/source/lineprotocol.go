package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	influx "github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/hpcpipeline/profcore/internal/model"
)

// StackFrame is one (module, offset) instruction-pointer entry of a sampled
// call stack, outermost first.
type StackFrame struct {
	Module string
	Offset uint64
}

// Sample is one decoded line-protocol point: a call stack observed for an
// identified thread at a point in time, plus the metric values recorded
// alongside it.
type Sample struct {
	Identity model.Identity
	Stack    []StackFrame
	Time     int64
	Metrics  map[string]float64
}

// DecodeBatch parses a buffer of newline-delimited line-protocol points.
// Each point's measurement name is ignored (the metric names live in its
// fields); tags carry the thread identity triple, and the "stack" field
// carries the call stack as a JSON array of "module+offset" strings,
// outermost frame first.
func DecodeBatch(data []byte) ([]Sample, error) {
	dec := influx.NewDecoderWithBytes(data)
	dec.SetLax(true)
	var out []Sample
	for dec.Next() {
		if _, err := dec.Measurement(); err != nil {
			return out, fmt.Errorf("source: measurement: %w", err)
		}

		identity := make(model.Identity, 0, 3)
		for {
			key, value, err := dec.NextTag()
			if err != nil {
				return out, fmt.Errorf("source: tag: %w", err)
			}
			if key == nil {
				break
			}
			triple, ok := decodeIdentityTag(string(key), string(value))
			if ok {
				identity = append(identity, triple)
			}
		}

		var stack []StackFrame
		metrics := make(map[string]float64)
		for {
			key, value, err := dec.NextField()
			if err != nil {
				return out, fmt.Errorf("source: field: %w", err)
			}
			if key == nil {
				break
			}
			name := string(key)
			if name == "stack" {
				s, err := value.StringValue()
				if err != nil {
					return out, fmt.Errorf("source: stack field: %w", err)
				}
				stack, err = decodeStack(s)
				if err != nil {
					return out, err
				}
				continue
			}
			f, err := value.FloatValue()
			if err != nil {
				return out, fmt.Errorf("source: metric field %q: %w", name, err)
			}
			metrics[name] = f
		}

		t, err := dec.Time(influx.Nanosecond, time.Time{})
		if err != nil {
			return out, fmt.Errorf("source: time: %w", err)
		}

		out = append(out, Sample{Identity: identity, Stack: stack, Time: t.UnixNano(), Metrics: metrics})
	}
	return out, dec.Err()
}

func decodeIdentityTag(key, value string) (model.IdentityTriple, bool) {
	var kind model.IdentityKind
	switch key {
	case "node":
		kind = model.IdentityNode
	case "rank":
		kind = model.IdentityRank
	case "thread":
		kind = model.IdentityThread
	case "gpucontext":
		kind = model.IdentityGPUContext
	case "gpustream":
		kind = model.IdentityGPUStream
	case "core":
		kind = model.IdentityCore
	default:
		return model.IdentityTriple{}, false
	}
	logical, physical := splitLogicalPhysical(value)
	return model.IdentityTriple{Kind: kind, Logical: logical, Physical: physical}, true
}

// splitLogicalPhysical parses a "logical" or "logical/physical" tag value.
func splitLogicalPhysical(value string) (logical, physical uint32) {
	parts := strings.SplitN(value, "/", 2)
	if l, err := strconv.ParseUint(parts[0], 10, 32); err == nil {
		logical = uint32(l)
	}
	physical = logical
	if len(parts) == 2 {
		if p, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
			physical = uint32(p)
		}
	}
	return logical, physical
}

func decodeStack(raw string) ([]StackFrame, error) {
	var encoded []string
	if err := json.NewDecoder(bytes.NewReader([]byte(raw))).Decode(&encoded); err != nil {
		return nil, fmt.Errorf("source: stack JSON: %w", err)
	}
	out := make([]StackFrame, 0, len(encoded))
	for _, frame := range encoded {
		mod, offStr, ok := strings.Cut(frame, "+")
		if !ok {
			return nil, fmt.Errorf("source: malformed stack frame %q", frame)
		}
		off, err := strconv.ParseUint(strings.TrimPrefix(offStr, "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("source: malformed stack offset %q: %w", frame, err)
		}
		out = append(out, StackFrame{Module: mod, Offset: off})
	}
	return out, nil
}
