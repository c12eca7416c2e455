package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryUniqueness(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	results := make([]*Module, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, _ := r.Module("/bin/x")
			results[i] = m
		}(i)
	}
	wg.Wait()

	first := results[0]
	for _, m := range results {
		assert.Same(t, first, m, "all concurrent interns of the same path must return the same Module")
	}
	assert.Equal(t, 1, r.ModuleCount())

	_, created := r.Module("/bin/x")
	assert.False(t, created, "re-inserting an existing key must not create a new object")

	_, created2 := r.Module("/bin/y")
	assert.True(t, created2)
	assert.Equal(t, 2, r.ModuleCount())
}

func TestContextEnsureAtMostOnce(t *testing.T) {
	a := NewArena()
	root := a.Root()
	ns := NS(RelCall, PointScope(nil, 0x100))

	const n = 128
	var wg sync.WaitGroup
	firstTimes := make([]bool, n)
	children := make([]*Context, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, first := root.Ensure(a, ns)
			children[i] = c
			firstTimes[i] = first
		}(i)
	}
	wg.Wait()

	firstCount := 0
	for i, f := range firstTimes {
		if f {
			firstCount++
		}
		assert.Same(t, children[0], children[i])
	}
	assert.Equal(t, 1, firstCount, "Ensure must report first_time=true exactly once across all callers")

	id, ok := children[0].ID()
	assert.False(t, ok)
	got := children[0].SetID(7)
	assert.Equal(t, 7, got)
	got2 := children[0].SetID(99)
	assert.Equal(t, 7, got2, "second SetID call must not overwrite the first")
	id, ok = children[0].ID()
	require.True(t, ok)
	assert.Equal(t, 7, id)
}

func TestContextAccumulateCombinators(t *testing.T) {
	a := NewArena()
	root := a.Root()
	m := newMetric(MetricSettings{Name: "M", Scopes: MetricScopeSet(ScopePointMetric) | MetricScopeSet(ScopeExecutionMetric)})
	m.AddPartial(Partial{Combinator: CombSum})
	m.AddPartial(Partial{Combinator: CombMin})
	m.AddPartial(Partial{Combinator: CombMax})

	ctx, _ := root.Ensure(a, NS(RelCall, PointScope(nil, 0x200)))
	values := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	for _, v := range values {
		ctx.Accumulate(m, 0, v)
		ctx.Accumulate(m, 1, v)
		ctx.Accumulate(m, 2, v)
	}

	slots := ctx.StatisticsFor(m)
	assert.InDelta(t, 31.0, slots[0].Value(), 1e-9)
	assert.InDelta(t, 1.0, slots[1].Value(), 1e-9)
	assert.InDelta(t, 9.0, slots[2].Value(), 1e-9)
}

func TestExpressionEvalAndVisit(t *testing.T) {
	// (a + b) / 2
	a := Var(0)
	b := Var(1)
	expr := Div(Sum(a, b), Const(2))

	got := expr.Eval(func(uv int) float64 {
		if uv == 0 {
			return 10
		}
		return 20
	})
	assert.InDelta(t, 15.0, got, 1e-9)

	var seen []int
	expr.Visit(VisitorCallbacks{Variable: func(e *Expression) { seen = append(seen, e.Uservalue) }})
	assert.ElementsMatch(t, []int{0, 1}, seen)
}

func TestCompileFormula(t *testing.T) {
	expr, err := CompileFormula("sqrt(sumsq / count - (sum / count) ^ 2)", map[string]int{
		"sum": 0, "sumsq": 1, "count": 2,
	})
	require.NoError(t, err)

	got := expr.Eval(func(uv int) float64 {
		switch uv {
		case 0:
			return 10
		case 1:
			return 30
		case 2:
			return 4
		}
		return 0
	})
	// sumsq/count - (sum/count)^2 = 7.5 - 6.25 = 1.25
	assert.InDelta(t, 1.118033988749895, got, 1e-9)
}
