package query

import (
	"reflect"
	"testing"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/aggregate"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/combinator"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/eqlerr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/variable"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestQuery(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Query Suite")
}

type thing struct {
	Name  string
	Value int
}

func lit(a *expr.Arena, v any) *variable.Variable {
	return variable.NewVariable(a, reflect.TypeOf(v), []any{v})
}

var _ = Describe("SetOf / Entity arena reuse", func() {
	It("reuses the arena of an already-constructed select node", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(&thing{}), []any{&thing{Name: "x"}})
		q := Entity(v)
		Expect(q.Arena()).To(BeIdenticalTo(a))
	})

	It("mints a fresh arena for a nodeless SetOf", func() {
		q := SetOf()
		Expect(q.Arena()).NotTo(BeNil())
	})
})

var _ = Describe("Build validation", func() {
	It("rejects an aggregator referenced inside Where", func() {
		a := expr.NewArena()
		things := []*thing{{Name: "a", Value: 1}}
		dom := make([]any, len(things))
		for i, t := range things {
			dom[i] = t
		}
		v := variable.NewVariable(a, reflect.TypeOf(&thing{}), dom)
		value := variable.NewAttribute(a, v, "Value")
		sum := aggregate.New(a, aggregate.Sum, value)

		q := Entity(v).Where(sum)
		_, err := q.Build()
		Expect(err).To(HaveOccurred())
		kind, ok := eqlerr.KindOf(err)
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(eqlerr.KindQueryStructureInvalid))
	})

	It("defaults an empty where clause to an always-true conjunction, leaving the select unbound", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{1, 2})
		q := Entity(v)
		rows, err := q.ToList()
		Expect(err).NotTo(HaveOccurred())
		// with no Where clause wiring v into the evaluated tree, the root
		// is just the always-true empty conjunction: one result, v unbound.
		Expect(rows).To(HaveLen(1))
		Expect(rows[0][0]).To(BeNil())
	})

	It("panics on a clause mutation attempted after Build", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{1})
		q := Entity(v).Where(v)
		_, err := q.Build()
		Expect(err).NotTo(HaveOccurred())
		Expect(func() { q.Where(combinator.NewAnd(a)) }).To(Panic())
	})
})

var _ = Describe("ToList / First / HasSolutionFor", func() {
	It("ToList materialises every selected tuple", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{1, 2, 3})
		rows, err := Entity(v).Where(v).ToList()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(3))
	})

	It("First stops after the first result", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{1, 2, 3})
		row, found, err := Entity(v).Where(v).First()
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(row).To(HaveLen(1))
	})

	It("HasSolutionFor is false for an empty domain", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), nil)
		ok, err := Entity(v).Where(v).HasSolutionFor()
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("The quantifier surfaces query-level errors", func() {
	It("returns a MoreThanOneSolutionFound error through ToList", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{1, 2})
		_, err := Entity(v).Where(v).The().ToList()
		Expect(err).To(HaveOccurred())
		kind, ok := eqlerr.KindOf(err)
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(eqlerr.KindMoreThanOneSolutionFound))
	})
})

var _ = Describe("Where filters and Select projects", func() {
	It("conjoins multiple Where clauses and selects in clause order", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{1, 2, 3, 4, 5})
		gt := combinator.NewComparator(a, combinator.OpGt, v, lit(a, 1))
		lt := combinator.NewComparator(a, combinator.OpLt, v, lit(a, 5))
		rows, err := Entity(v).Where(gt, lt).ToList()
		Expect(err).NotTo(HaveOccurred())
		var got []any
		for _, r := range rows {
			got = append(got, r[0])
		}
		Expect(got).To(ConsistOf(2, 3, 4))
	})
})

var _ = Describe("Distinct and Limit", func() {
	It("Distinct deduplicates by the selected tuple", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{1, 1, 2, 2, 3})
		rows, err := Entity(v).Where(v).Distinct().ToList()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(3))
	})

	It("Limit caps the result count", func() {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(0), []any{1, 2, 3, 4})
		rows, err := Entity(v).Where(v).Limit(2).ToList()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(2))
	})
})
