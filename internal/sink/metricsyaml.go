package sink

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
	"github.com/hpcpipeline/profcore/pkg/archive/parquet"
)

// metricYAML and statisticYAML are the on-disk shape of metrics.yaml: one
// entry per Metric naming its Statistics' finalize formulas in terms of
// Partial slot indices, plus one entry per ExtraStatistic naming its formula
// in terms of other metrics' names. A reader parsing the file back needs no
// knowledge of Partial internals beyond "slotN" being the Nth accumulated
// value in declaration order.
type metricYAML struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Visibility  string          `yaml:"visibility"`
	Scopes      []string        `yaml:"scopes"`
	Statistics  []statisticYAML `yaml:"statistics"`
}

type statisticYAML struct {
	Suffix     string `yaml:"suffix"`
	FormatHint string `yaml:"format,omitempty"`
	Formula    string `yaml:"formula"`
}

type extraStatYAML struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Scopes      []string `yaml:"scopes"`
	Formula     string `yaml:"formula"`
}

type metricsDocument struct {
	Metrics         []metricYAML    `yaml:"metrics"`
	ExtraStatistics []extraStatYAML `yaml:"extra_statistics,omitempty"`
}

// MetricsYAML is the Sink that emits metrics.yaml: a human-readable
// rendering of every Metric's declared Statistics and every ExtraStatistic,
// so a reader can understand the database's derived columns without
// decoding the expression ASTs stored alongside them.
type MetricsYAML struct {
	pipeline.BaseSink

	p      *pipeline.ProfilePipeline
	target parquet.ParquetTarget
	name   string
}

func NewMetricsYAML(target parquet.ParquetTarget, name string) *MetricsYAML {
	return &MetricsYAML{target: target, name: name}
}

func (*MetricsYAML) Accepts() dataclass.Class { return dataclass.Metrics }

func (m *MetricsYAML) NotifyPipeline(p *pipeline.ProfilePipeline) { m.p = p }

func (m *MetricsYAML) Write() error {
	metrics := m.p.Registry().MetricsList()
	names := metricNameIndex(metrics)

	doc := metricsDocument{}
	for _, metric := range metrics {
		my := metricYAML{
			Name:        metric.Settings.Name,
			Description: metric.Settings.Description,
			Visibility:  visibilityName(metric.Settings.Visibility),
			Scopes:      scopeNames(metric.Settings.Scopes),
		}
		for _, st := range metric.Statistics {
			my.Statistics = append(my.Statistics, statisticYAML{
				Suffix:     st.Suffix,
				FormatHint: st.FormatHint,
				Formula:    st.Finalize.Render(func(uv int) string { return fmt.Sprintf("slot%d", uv) }),
			})
		}
		doc.Metrics = append(doc.Metrics, my)
	}
	for _, es := range m.p.Registry().ExtraStatistics() {
		doc.ExtraStatistics = append(doc.ExtraStatistics, extraStatYAML{
			Name:        es.Settings.Name,
			Description: es.Settings.Description,
			Scopes:      scopeNames(es.Settings.Scopes),
			Formula:     es.Formula.Render(func(uv int) string { return names[uv] }),
		})
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("metricsyaml: marshal: %w", err)
	}
	if err := m.target.WriteFile(m.name, data); err != nil {
		return fmt.Errorf("metricsyaml: %w", err)
	}
	return nil
}

func (*MetricsYAML) Help() (contributed bool, completed bool) { return false, true }

func visibilityName(v model.Visibility) string {
	switch v {
	case model.VisShown:
		return "shown"
	case model.VisHidden:
		return "hidden"
	case model.VisInvisible:
		return "invisible"
	default:
		return "?"
	}
}

func scopeNames(s model.MetricScopeSet) []string {
	var out []string
	if s.Has(model.ScopePointMetric) {
		out = append(out, "point")
	}
	if s.Has(model.ScopeFunctionMetric) {
		out = append(out, "function")
	}
	if s.Has(model.ScopeLexAwareMetric) {
		out = append(out, "lex_aware")
	}
	if s.Has(model.ScopeExecutionMetric) {
		out = append(out, "execution")
	}
	return out
}
