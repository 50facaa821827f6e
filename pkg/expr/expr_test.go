package expr_test

import (
	"testing"

	"github.com/go-logr/logr"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/eqlerr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestExpr(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Expr Suite")
}

// leaf is a minimal test Node emitting one fixed Result per Step call.
type leaf struct {
	expr.Base
	result expr.Result
}

func newLeaf(a *expr.Arena, result expr.Result) *leaf {
	n := &leaf{result: result}
	a.Register(&n.Base, n)
	return n
}

func (l *leaf) String() string { return "leaf" }

func (l *leaf) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		yield(l.result)
	}
}

var _ = Describe("Arena", func() {
	It("assigns increasing NodeIDs in registration order", func() {
		a := expr.NewArena()
		n1 := newLeaf(a, expr.Result{Truth: true})
		n2 := newLeaf(a, expr.Result{Truth: true})
		Expect(n2.ID()).To(BeNumerically(">", n1.ID()))
		Expect(a.Nodes()).To(HaveLen(2))
	})

	It("attaches a child and records both directions", func() {
		a := expr.NewArena()
		parent := newLeaf(a, expr.Result{Truth: true})
		child := newLeaf(a, expr.Result{Truth: true})
		Expect(a.Attach(parent, child)).NotTo(HaveOccurred())
		Expect(parent.Children()).To(ContainElement(expr.Node(child)))
		Expect(child.Parents()).To(ContainElement(expr.Node(parent)))
	})

	It("rejects a cycle", func() {
		a := expr.NewArena()
		n1 := newLeaf(a, expr.Result{Truth: true})
		n2 := newLeaf(a, expr.Result{Truth: true})
		Expect(a.Attach(n1, n2)).NotTo(HaveOccurred())
		Expect(a.Attach(n2, n1)).To(HaveOccurred())
	})

	It("rejects any attach once frozen", func() {
		a := expr.NewArena()
		n1 := newLeaf(a, expr.Result{Truth: true})
		n2 := newLeaf(a, expr.Result{Truth: true})
		a.Freeze()
		Expect(a.Attach(n1, n2)).To(HaveOccurred())
	})

	It("InternMapped caches by (parent, op, key)", func() {
		a := expr.NewArena()
		parent := newLeaf(a, expr.Result{Truth: true})
		calls := 0
		factory := func() expr.Node {
			calls++
			return newLeaf(a, expr.Result{Truth: true})
		}
		first := a.InternMapped(parent, "attr", "Name", factory)
		second := a.InternMapped(parent, "attr", "Name", factory)
		Expect(first).To(BeIdenticalTo(second))
		Expect(calls).To(Equal(1))

		third := a.InternMapped(parent, "attr", "Other", factory)
		Expect(third).NotTo(BeIdenticalTo(first))
		Expect(calls).To(Equal(2))
	})
})

var _ = Describe("Evaluate", func() {
	It("drives a node's Step and yields its results", func() {
		a := expr.NewArena()
		n := newLeaf(a, expr.Result{Binding: expr.Empty.With(expr.NewVarID(), 1), Truth: true})
		ctx := expr.NewContext(logr.Discard(), nil)

		var got []expr.Result
		expr.Evaluate(n, ctx, expr.Empty)(func(r expr.Result) bool {
			got = append(got, r)
			return true
		})
		Expect(got).To(HaveLen(1))
		Expect(got[0].Truth).To(BeTrue())
	})

	It("stops yielding once the context aborts", func() {
		a := expr.NewArena()
		n := newLeaf(a, expr.Result{Truth: true})
		ctx := expr.NewContext(logr.Discard(), nil)
		ctx.Fail(assertErr{})

		count := 0
		expr.Evaluate(n, ctx, expr.Empty)(func(r expr.Result) bool {
			count++
			return true
		})
		Expect(count).To(Equal(0))
	})
})

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

var _ = Describe("HandleResolutionError", func() {
	It("absorbs into a false emission when the scope is absorbing", func() {
		ctx := expr.NewContext(logr.Discard(), nil)
		var got []expr.Result
		ctx.WithAbsorbing(func() {
			expr.HandleResolutionError(ctx, "path", eqlerr.KindSymbolicResolutionError, assertErr{}, expr.Empty, func(r expr.Result) bool {
				got = append(got, r)
				return true
			})
		})
		Expect(ctx.Aborted()).To(BeFalse())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Truth).To(BeFalse())
	})

	It("aborts the context with a SymbolicResolutionError when not absorbing", func() {
		ctx := expr.NewContext(logr.Discard(), nil)
		expr.HandleResolutionError(ctx, "path", eqlerr.KindSymbolicResolutionError, assertErr{}, expr.Empty, func(r expr.Result) bool { return true })
		Expect(ctx.Aborted()).To(BeTrue())
		kind, ok := eqlerr.KindOf(ctx.Err())
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(eqlerr.KindSymbolicResolutionError))
	})

	It("aborts the context with a UserCallableError when the failure came from a user callable", func() {
		ctx := expr.NewContext(logr.Discard(), nil)
		expr.HandleResolutionError(ctx, "path", eqlerr.KindUserCallableError, assertErr{}, expr.Empty, func(r expr.Result) bool { return true })
		Expect(ctx.Aborted()).To(BeTrue())
		kind, ok := eqlerr.KindOf(ctx.Err())
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(eqlerr.KindUserCallableError))
	})
})
