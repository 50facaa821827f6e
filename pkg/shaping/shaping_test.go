package shaping

import (
	"reflect"
	"testing"

	"github.com/go-logr/logr"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/variable"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestShaping(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Shaping Suite")
}

func evalAll(n expr.Node, ctx *expr.Context) []expr.Result {
	var out []expr.Result
	expr.Evaluate(n, ctx, expr.Empty)(func(r expr.Result) bool {
		out = append(out, r)
		return true
	})
	return out
}

var _ = Describe("OrderedBy", func() {
	It("stably sorts its child's emissions by a single ascending key", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{3, 1, 2})
		ob := NewOrderedBy(a, v, SortKey{Expr: v})
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(ob, ctx)
		Expect(results).To(HaveLen(3))
		var got []any
		for _, r := range results {
			val, _ := r.Binding.Lookup(v.ValueID())
			got = append(got, val)
		}
		Expect(got).To(Equal([]any{1, 2, 3}))
	})

	It("supports descending order", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{3, 1, 2})
		ob := NewOrderedBy(a, v, SortKey{Expr: v, Descending: true})
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(ob, ctx)
		var got []any
		for _, r := range results {
			val, _ := r.Binding.Lookup(v.ValueID())
			got = append(got, val)
		}
		Expect(got).To(Equal([]any{3, 2, 1}))
	})
})

var _ = Describe("Limit", func() {
	It("caps the number of emissions", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{1, 2, 3, 4})
		lim := NewLimit(a, v, 2)
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(lim, ctx)
		Expect(results).To(HaveLen(2))
	})

	It("emits nothing for a non-positive limit", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{1, 2})
		lim := NewLimit(a, v, 0)
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(lim, ctx)
		Expect(results).To(BeEmpty())
	})
})

var _ = Describe("Distinct", func() {
	It("deduplicates emissions by the selected tuple", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{1, 1, 2, 2, 3})
		dist := NewDistinct(a, v, v)
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(dist, ctx)
		Expect(results).To(HaveLen(3))
	})
})
