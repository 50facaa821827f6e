package quantifier

import (
	"reflect"
	"testing"

	"github.com/go-logr/logr"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/eqlerr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/variable"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestQuantifier(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Quantifier Suite")
}

func evalAll(n expr.Node, ctx *expr.Context) []expr.Result {
	var out []expr.Result
	expr.Evaluate(n, ctx, expr.Empty)(func(r expr.Result) bool {
		out = append(out, r)
		return true
	})
	return out
}

func ints(a *expr.Arena, vs ...any) *variable.Variable {
	return variable.NewVariable(a, reflect.TypeOf(0), vs)
}

var _ = Describe("An", func() {
	It("passes emissions through unmodified", func() {
		a := expr.NewArena()
		v := ints(a, 1, 2, 3)
		an := NewAn(a, v)
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		Expect(evalAll(an, ctx)).To(HaveLen(3))
	})
})

var _ = Describe("The", func() {
	It("yields the single result when exactly one exists", func() {
		a := expr.NewArena()
		v := ints(a, 42)
		the := NewThe(a, v, "root")
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(the, ctx)
		Expect(results).To(HaveLen(1))
		val, _ := results[0].Binding.Lookup(v.ValueID())
		Expect(val).To(Equal(42))
	})

	It("fails with NoSolutionFound when the child is empty", func() {
		a := expr.NewArena()
		v := ints(a)
		the := NewThe(a, v, "root")
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		evalAll(the, ctx)
		Expect(ctx.Aborted()).To(BeTrue())
		kind, ok := eqlerr.KindOf(ctx.Err())
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(eqlerr.KindNoSolutionFound))
	})

	It("fails with MoreThanOneSolutionFound when the child has more than one", func() {
		a := expr.NewArena()
		v := ints(a, 1, 2)
		the := NewThe(a, v, "root")
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		evalAll(the, ctx)
		Expect(ctx.Aborted()).To(BeTrue())
		kind, ok := eqlerr.KindOf(ctx.Err())
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(eqlerr.KindMoreThanOneSolutionFound))
	})
})

var _ = Describe("Cardinality", func() {
	It("Exactly succeeds and releases the buffer when the count matches", func() {
		a := expr.NewArena()
		v := ints(a, 1, 2, 3)
		card := NewExactly(a, v, 3, "root")
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(card, ctx)
		Expect(results).To(HaveLen(3))
		Expect(ctx.Aborted()).To(BeFalse())
	})

	It("Exactly fails when there are too many", func() {
		a := expr.NewArena()
		v := ints(a, 1, 2, 3)
		card := NewExactly(a, v, 2, "root")
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		evalAll(card, ctx)
		Expect(ctx.Aborted()).To(BeTrue())
	})

	It("AtLeast succeeds once the threshold is reached without pulling the whole stream", func() {
		a := expr.NewArena()
		v := ints(a, 1, 2, 3)
		card := NewAtLeast(a, v, 2, "root")
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(card, ctx)
		Expect(len(results)).To(BeNumerically(">=", 2))
		Expect(ctx.Aborted()).To(BeFalse())
	})

	It("AtLeast(0) succeeds immediately without buffering the stream", func() {
		a := expr.NewArena()
		v := ints(a, 1, 2, 3)
		card := NewAtLeast(a, v, 0, "root")
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(card, ctx)
		Expect(results).To(BeEmpty())
		Expect(ctx.Aborted()).To(BeFalse())
	})

	It("AtLeast(0) succeeds over an empty child too", func() {
		a := expr.NewArena()
		v := ints(a)
		card := NewAtLeast(a, v, 0, "root")
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		results := evalAll(card, ctx)
		Expect(results).To(BeEmpty())
		Expect(ctx.Aborted()).To(BeFalse())
	})

	It("AtMost fails once more than the threshold is seen", func() {
		a := expr.NewArena()
		v := ints(a, 1, 2, 3)
		card := NewAtMost(a, v, 1, "root")
		a.Freeze()

		ctx := expr.NewContext(logr.Discard(), nil)
		evalAll(card, ctx)
		Expect(ctx.Aborted()).To(BeTrue())
	})
})
