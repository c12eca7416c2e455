package packed

import (
	"github.com/hpcpipeline/profcore/internal/model"
)

// IDTupleKind names one identity-tuple component kind used across the run's
// Threads, for a receiving rank to render without having seen any Thread.
type IDTupleKind struct {
	Kind model.IdentityKind
	Name string
}

// MetricAttr is one Metric's attribute-section projection.
type MetricAttr struct {
	Name       string
	Desc       string
	Scopes     model.MetricScopeSet
	Vis        model.Visibility
	HasOrderID bool
	OrderID    int
	Partials   int
}

// ExtraStatAttr is one ExtraStatistic's attribute-section projection. The
// formula is carried as its original textual form (compiled per-rank via
// model.CompileFormula) rather than a serialized AST, since every rank
// reads the same metrics YAML and can recompile it identically.
type ExtraStatAttr struct {
	Name    string
	Desc    string
	Scopes  model.MetricScopeSet
	Formula string
}

// AttributesPayload is the full "attributes" section: run identity,
// environment, the identity-tuple kind legend, and every Metric/
// ExtraStatistic's attribute row.
type AttributesPayload struct {
	Job        uint64
	Name       string
	Path       string
	Env        map[string]string
	IDTuples   []IDTupleKind
	Metrics    []MetricAttr
	ExtraStats []ExtraStatAttr
}

// EncodeAttributes Avro-encodes p via goavro.
func EncodeAttributes(p AttributesPayload) ([]byte, error) {
	native := map[string]interface{}{
		"job":  int64(p.Job),
		"name": p.Name,
		"path": p.Path,
		"env":  stringMapToAny(p.Env),
	}

	idtuples := make([]interface{}, 0, len(p.IDTuples))
	for _, t := range p.IDTuples {
		idtuples = append(idtuples, map[string]interface{}{
			"kind": int32(t.Kind),
			"name": t.Name,
		})
	}
	native["idtuples"] = idtuples

	metrics := make([]interface{}, 0, len(p.Metrics))
	for _, m := range p.Metrics {
		metrics = append(metrics, map[string]interface{}{
			"name":       m.Name,
			"desc":       m.Desc,
			"scopes":     int32(m.Scopes),
			"vis":        int32(m.Vis),
			"hasOrderId": m.HasOrderID,
			"orderId":    int64(m.OrderID),
			"partials":   int32(m.Partials),
		})
	}
	native["metrics"] = metrics

	estats := make([]interface{}, 0, len(p.ExtraStats))
	for _, e := range p.ExtraStats {
		estats = append(estats, map[string]interface{}{
			"name":    e.Name,
			"desc":    e.Desc,
			"scopes":  int32(e.Scopes),
			"formula": e.Formula,
		})
	}
	native["estats"] = estats

	return attributesCodec.BinaryFromNative(nil, native)
}

// DecodeAttributes is the inverse of EncodeAttributes.
func DecodeAttributes(blob []byte) (AttributesPayload, error) {
	native, _, err := attributesCodec.NativeFromBinary(blob)
	if err != nil {
		return AttributesPayload{}, err
	}
	rec := native.(map[string]interface{})

	p := AttributesPayload{
		Job:  uint64(rec["job"].(int64)),
		Name: rec["name"].(string),
		Path: rec["path"].(string),
		Env:  anyMapToString(rec["env"].(map[string]interface{})),
	}

	for _, raw := range rec["idtuples"].([]interface{}) {
		m := raw.(map[string]interface{})
		p.IDTuples = append(p.IDTuples, IDTupleKind{
			Kind: model.IdentityKind(m["kind"].(int32)),
			Name: m["name"].(string),
		})
	}

	for _, raw := range rec["metrics"].([]interface{}) {
		m := raw.(map[string]interface{})
		p.Metrics = append(p.Metrics, MetricAttr{
			Name:       m["name"].(string),
			Desc:       m["desc"].(string),
			Scopes:     model.MetricScopeSet(m["scopes"].(int32)),
			Vis:        model.Visibility(m["vis"].(int32)),
			HasOrderID: m["hasOrderId"].(bool),
			OrderID:    int(m["orderId"].(int64)),
			Partials:   int(m["partials"].(int32)),
		})
	}

	for _, raw := range rec["estats"].([]interface{}) {
		m := raw.(map[string]interface{})
		p.ExtraStats = append(p.ExtraStats, ExtraStatAttr{
			Name:    m["name"].(string),
			Desc:    m["desc"].(string),
			Scopes:  model.MetricScopeSet(m["scopes"].(int32)),
			Formula: m["formula"].(string),
		})
	}

	return p, nil
}

func stringMapToAny(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func anyMapToString(m map[string]interface{}) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.(string)
	}
	return out
}
