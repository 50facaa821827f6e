package aggregate_test

import (
	"reflect"
	"testing"

	"github.com/go-logr/logr"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/aggregate"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/combinator"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/variable"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAggregate(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Aggregate Suite")
}

type reading struct {
	Sensor string
	Value  int
}

func evalAll(n expr.Node, ctx *expr.Context) []expr.Result {
	var out []expr.Result
	expr.Evaluate(n, ctx, expr.Empty)(func(r expr.Result) bool {
		out = append(out, r)
		return true
	})
	return out
}

func buildReadings(a *expr.Arena, rs ...*reading) (*variable.Variable, *variable.MappedVariable, *variable.MappedVariable) {
	dom := make([]any, len(rs))
	for i, r := range rs {
		dom[i] = r
	}
	v := variable.NewVariable(a, reflect.TypeOf(&reading{}), dom)
	sensor := variable.NewAttribute(a, v, "Sensor")
	value := variable.NewAttribute(a, v, "Value")
	return v, sensor, value
}

var _ = Describe("Aggregator", func() {
	It("sums ungrouped", func() {
		a := expr.NewArena()
		_, _, value := buildReadings(a, &reading{Sensor: "a", Value: 1}, &reading{Sensor: "b", Value: 2})
		agg := aggregate.New(a, aggregate.Sum, value)
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(agg, ctx)
		Expect(results).To(HaveLen(1))
		out, _ := results[0].Binding.Lookup(agg.ValueID())
		Expect(out).To(Equal(3.0))
	})

	It("folds per group when GroupedBy is set", func() {
		a := expr.NewArena()
		_, sensor, value := buildReadings(a,
			&reading{Sensor: "a", Value: 1},
			&reading{Sensor: "a", Value: 3},
			&reading{Sensor: "b", Value: 10},
		)
		agg := aggregate.New(a, aggregate.Sum, value, aggregate.GroupedBy(sensor))
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(agg, ctx)
		Expect(results).To(HaveLen(2))
		got := map[any]any{}
		for _, r := range results {
			key, _ := r.Binding.Lookup(sensor.ValueID())
			val, _ := r.Binding.Lookup(agg.ValueID())
			got[key] = val
		}
		Expect(got["a"]).To(Equal(4.0))
		Expect(got["b"]).To(Equal(10.0))
	})

	It("Count counts contributors regardless of value", func() {
		a := expr.NewArena()
		_, _, value := buildReadings(a, &reading{Value: 1}, &reading{Value: 2}, &reading{Value: 3})
		agg := aggregate.New(a, aggregate.Count, value)
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(agg, ctx)
		out, _ := results[0].Binding.Lookup(agg.ValueID())
		Expect(out).To(Equal(3))
	})

	It("Average divides the sum by the contributor count", func() {
		a := expr.NewArena()
		_, _, value := buildReadings(a, &reading{Value: 2}, &reading{Value: 4})
		agg := aggregate.New(a, aggregate.Average, value)
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(agg, ctx)
		out, _ := results[0].Binding.Lookup(agg.ValueID())
		Expect(out).To(Equal(3.0))
	})

	It("Max returns the child's own value at the extremum", func() {
		a := expr.NewArena()
		_, _, value := buildReadings(a, &reading{Value: 2}, &reading{Value: 9}, &reading{Value: 5})
		agg := aggregate.New(a, aggregate.Max, value)
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(agg, ctx)
		out, _ := results[0].Binding.Lookup(agg.ValueID())
		Expect(out).To(Equal(9))
	})

	It("Distinct deduplicates contributor values before folding", func() {
		a := expr.NewArena()
		_, _, value := buildReadings(a, &reading{Value: 5}, &reading{Value: 5}, &reading{Value: 5})
		agg := aggregate.New(a, aggregate.Count, value, aggregate.Distinct())
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(agg, ctx)
		out, _ := results[0].Binding.Lookup(agg.ValueID())
		Expect(out).To(Equal(1))
	})

	It("emits the Default for an empty group", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(&reading{}), nil)
		value := variable.NewAttribute(a, v, "Value")
		agg := aggregate.New(a, aggregate.Sum, value, aggregate.Default(-1.0))
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(agg, ctx)
		Expect(results).To(HaveLen(1))
		out, _ := results[0].Binding.Lookup(agg.ValueID())
		Expect(out).To(Equal(-1.0))
	})
})

var _ = Describe("Having", func() {
	It("keeps only groups whose predicate holds", func() {
		a := expr.NewArena()
		_, sensor, value := buildReadings(a,
			&reading{Sensor: "a", Value: 1},
			&reading{Sensor: "a", Value: 3},
			&reading{Sensor: "b", Value: 100},
		)
		sum := aggregate.New(a, aggregate.Sum, value, aggregate.GroupedBy(sensor))
		pred := combinator.NewComparator(a, combinator.OpGt, sum, literal(a, 10))
		// Having's own child must not re-trigger the aggregator that pred
		// already walks: the aggregator ignores its incoming binding and
		// recomputes every group from scratch on each Step, so reusing it
		// as both child and (transitively) pred's operand would evaluate
		// every group once per outer group instead of once overall.
		having := aggregate.NewHaving(a, combinator.NewAnd(a), pred)
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(having, ctx)
		Expect(results).To(HaveLen(1))
		key, _ := results[0].Binding.Lookup(sensor.ValueID())
		Expect(key).To(Equal("b"))
	})
})

func literal(a *expr.Arena, v any) *variable.Variable {
	return variable.NewVariable(a, reflect.TypeOf(v), []any{v})
}
