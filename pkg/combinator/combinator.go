// Package combinator implements the cartesian-product driver of spec.md
// §4.3 and the logical operators (§4.4) and comparators/membership (§4.5)
// built on top of it.
//
// The recursive product shape is grounded on the teacher's
// pkg/pipeline.defaultEngine.recurseProd: depth-indexed recursion over an
// ordered sequence of sources, accumulating a partial combination and
// only emitting at the leaf. Here the "sources" are child nodes' lazy
// Step outputs instead of view stores, and the accumulator is a Binding
// merge instead of an object slice.
package combinator

import (
	"fmt"
	"sort"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/eqlerr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/hostbridge"
)

// And is the MultiArity cartesian-product combinator of spec.md §4.3:
// given an ordered sequence of children and a source binding, it yields
// every compatible merged binding for which every child emission is
// true, short-circuiting a branch on the first false emission.
type And struct {
	expr.Base
	children []expr.Node
}

// NewAnd registers an And node over children, attaching each as a child
// in the arena (I2) and applying the deterministic reordering of §4.3
// before Step ever runs.
func NewAnd(a *expr.Arena, children ...expr.Node) *And {
	n := &And{children: reorder(children)}
	a.Register(&n.Base, n)
	for _, c := range n.children {
		if err := a.Attach(n, c); err != nil {
			panic(err)
		}
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (n *And) String() string { return "And" }

// Step implements the recurse(i, acc) schema of spec.md §4.3 directly:
// depth-indexed recursion over n.children, short-circuiting a branch on
// the first false emission from a non-final child, merging bindings, and
// yielding only at the leaf (depth == len(children)).
func (n *And) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		var recurse func(i int, acc expr.Binding) bool
		recurse = func(i int, acc expr.Binding) bool {
			if ctx.Aborted() {
				return false
			}
			if i == len(n.children) {
				return yield(expr.Result{Binding: acc, Truth: true})
			}
			cont := true
			expr.Evaluate(n.children[i], ctx, acc)(func(e expr.Result) bool {
				if !e.Truth && i < len(n.children)-1 {
					return true // short-circuit this branch, try next emission
				}
				if !e.Truth {
					return true // last child false: this branch simply yields nothing
				}
				merged, ok := expr.Merge(acc, e.Binding)
				if !ok {
					return true
				}
				if !recurse(i+1, merged) {
					cont = false
					return false
				}
				return true
			})
			return cont
		}
		recurse(0, in)
	}
}

// newVarsIntroduced returns a static estimate of how many variables n
// introduces, used by reorder to approximate "number of new variables
// introduced".
func newVarsIntroduced(n expr.Node) int {
	// A conservative static proxy: nodes with no children (pure leaves
	// re-used by reference, e.g. a Variable already bound elsewhere)
	// introduce at most one identity; deeper trees introduce more. Exact
	// new-variable counts depend on runtime bindings, so §4.3's ordering
	// criterion is applied using each node's static Selectable fan-in as
	// a stable, deterministic proxy computed once per And.
	count := 0
	var walk func(expr.Node)
	seen := map[expr.NodeID]bool{}
	walk = func(c expr.Node) {
		if seen[c.ID()] {
			return
		}
		seen[c.ID()] = true
		if c.Flags().Selectable {
			count++
		}
		for _, gc := range c.Children() {
			walk(gc)
		}
	}
	walk(n)
	return count
}

// reorder stably sorts children so that pure truth tests (TruthValued,
// introducing no new variables) come first, then children introducing
// fewer new variables, ties broken by original attachment order — the
// deterministic criterion of spec.md §4.3.
func reorder(children []expr.Node) []expr.Node {
	out := make([]expr.Node, len(children))
	copy(out, children)
	weight := make([]int, len(out))
	for i, c := range out {
		w := newVarsIntroduced(c)
		if c.Flags().TruthValued && w == 0 {
			w = -1
		}
		weight[i] = w
	}
	type pair struct {
		node expr.Node
		w    int
	}
	pairs := make([]pair, len(out))
	for i, c := range out {
		pairs[i] = pair{node: c, w: weight[i]}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].w < pairs[j].w })
	for i, p := range pairs {
		out[i] = p.node
	}
	return out
}

// Or is the binary logical-or combinator of spec.md §4.4: for each source
// binding, evaluate left; if any left emission is true pass it through
// (short-circuiting on first true); otherwise evaluate right.
type Or struct {
	expr.Base
	left, right expr.Node
}

func NewOr(a *expr.Arena, left, right expr.Node) *Or {
	n := &Or{left: left, right: right}
	a.Register(&n.Base, n)
	if err := a.Attach(n, left); err != nil {
		panic(err)
	}
	if err := a.Attach(n, right); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (n *Or) String() string { return "Or" }

func (n *Or) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		anyTrue := false
		cont := true
		expr.Evaluate(n.left, ctx, in)(func(e expr.Result) bool {
			if !e.Truth {
				return true
			}
			anyTrue = true
			if !yield(e) {
				cont = false
				return false
			}
			return false // short-circuit on first true, per §4.4
		})
		if anyTrue || !cont || ctx.Aborted() {
			return
		}
		expr.Evaluate(n.right, ctx, in)(func(e expr.Result) bool {
			if !e.Truth {
				return true
			}
			return yield(e)
		})
	}
}

// Not is the unary negation of spec.md §4.4: it evaluates its child with
// resolution errors absorbed, and emits (binding, true) iff the child
// produced no true emission for the input binding, else (binding, false).
// NOT never introduces new variables into the outer scope: it re-emits
// the original input binding, not any binding extension from the child.
type Not struct {
	expr.Base
	child expr.Node
}

func NewNot(a *expr.Arena, child expr.Node) *Not {
	n := &Not{child: child}
	a.Register(&n.Base, n)
	if err := a.Attach(n, child); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (n *Not) String() string { return "Not" }

func (n *Not) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		anyTrue := false
		ctx.WithAbsorbing(func() {
			expr.Evaluate(n.child, ctx, in)(func(e expr.Result) bool {
				if e.Truth {
					anyTrue = true
					return false
				}
				return true
			})
		})
		yield(expr.Result{Binding: in, Truth: !anyTrue})
	}
}

// CompareOp identifies one of spec.md §4.5's comparator kinds.
type CompareOp string

const (
	OpEq  CompareOp = "=="
	OpNeq CompareOp = "!="
	OpLt  CompareOp = "<"
	OpLte CompareOp = "<="
	OpGt  CompareOp = ">"
	OpGte CompareOp = ">="
)

// ValueNode is any node producing a value under a VarID, satisfied by
// pkg/variable.Variable, pkg/variable.MappedVariable, and any
// SymbolicFunction.
type ValueNode interface {
	expr.Node
	ValueID() expr.VarID
}

// Comparator is the binary node of spec.md §4.5: for each compatible
// merged binding from its two value-producing children, it computes both
// values and emits (binding, cmp(a,b)).
type Comparator struct {
	expr.Base
	op          CompareOp
	left, right ValueNode
}

func NewComparator(a *expr.Arena, op CompareOp, left, right ValueNode) *Comparator {
	n := &Comparator{op: op, left: left, right: right}
	a.Register(&n.Base, n)
	if err := a.Attach(n, left); err != nil {
		panic(err)
	}
	if err := a.Attach(n, right); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (n *Comparator) String() string { return fmt.Sprintf("Comparator(%s)", n.op) }

func (n *Comparator) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		expr.Evaluate(n.left, ctx, in)(func(le expr.Result) bool {
			if !le.Truth {
				return true
			}
			cont := true
			expr.Evaluate(n.right, ctx, le.Binding)(func(re expr.Result) bool {
				if !re.Truth {
					return true
				}
				merged, ok := expr.Merge(le.Binding, re.Binding)
				if !ok {
					return true
				}
				lv, _ := merged.Lookup(n.left.ValueID())
				rv, _ := merged.Lookup(n.right.ValueID())
				truth, err := compare(n.op, lv, rv)
				if err != nil {
					expr.HandleResolutionError(ctx, n.String(), eqlerr.KindSymbolicResolutionError, err, merged, yield)
					cont = !ctx.Aborted()
					return cont
				}
				if !yield(expr.Result{Binding: merged, Truth: truth}) {
					cont = false
					return false
				}
				return true
			})
			return cont
		})
	}
}

func compare(op CompareOp, a, b any) (bool, error) {
	if op == OpEq {
		return expr.Equal(a, b), nil
	}
	if op == OpNeq {
		return !expr.Equal(a, b), nil
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok {
		return false, fmt.Errorf("combinator: %v and %v are not numerically comparable", a, b)
	}
	switch op {
	case OpLt:
		return af < bf, nil
	case OpLte:
		return af <= bf, nil
	case OpGt:
		return af > bf, nil
	case OpGte:
		return af >= bf, nil
	default:
		return false, fmt.Errorf("combinator: unknown comparator %q", op)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// In is the membership node of spec.md §4.5: truth iff the value of x
// equals some element of a collection. The collection is either a fixed
// concrete value (captured at construction) or symbolic — a ValueNode
// that is cartesian-producted like any other child.
type In struct {
	expr.Base
	x        ValueNode
	collNode ValueNode // nil if concrete
	concrete any
}

// NewIn builds an In node over a symbolic collection-producing node.
func NewIn(a *expr.Arena, x ValueNode, collection ValueNode) *In {
	n := &In{x: x, collNode: collection}
	a.Register(&n.Base, n)
	if err := a.Attach(n, x); err != nil {
		panic(err)
	}
	if err := a.Attach(n, collection); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

// NewInLiteral builds an In node over a fixed concrete collection known at
// build time (no child attachment needed for the collection side).
func NewInLiteral(a *expr.Arena, x ValueNode, collection any) *In {
	n := &In{x: x, concrete: collection}
	a.Register(&n.Base, n)
	if err := a.Attach(n, x); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (n *In) String() string { return "In" }

func (n *In) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		expr.Evaluate(n.x, ctx, in)(func(xe expr.Result) bool {
			if !xe.Truth {
				return true
			}
			if n.collNode == nil {
				truth, err := elementOf(mustLookup(xe.Binding, n.x), n.concrete)
				if err != nil {
					expr.HandleResolutionError(ctx, n.String(), eqlerr.KindSymbolicResolutionError, err, xe.Binding, yield)
					return !ctx.Aborted()
				}
				return yield(expr.Result{Binding: xe.Binding, Truth: truth})
			}
			cont := true
			expr.Evaluate(n.collNode, ctx, xe.Binding)(func(ce expr.Result) bool {
				if !ce.Truth {
					return true
				}
				merged, ok := expr.Merge(xe.Binding, ce.Binding)
				if !ok {
					return true
				}
				truth, err := elementOf(mustLookup(merged, n.x), mustLookup(merged, n.collNode))
				if err != nil {
					expr.HandleResolutionError(ctx, n.String(), eqlerr.KindSymbolicResolutionError, err, merged, yield)
					cont = !ctx.Aborted()
					return cont
				}
				if !yield(expr.Result{Binding: merged, Truth: truth}) {
					cont = false
					return false
				}
				return true
			})
			return cont
		})
	}
}

func mustLookup(b expr.Binding, v ValueNode) any {
	val, _ := b.Lookup(v.ValueID())
	return val
}

// Contains is In's dual: Contains(C, x) ≡ In(x, C).
type Contains struct{ *In }

func NewContains(a *expr.Arena, collection ValueNode, x ValueNode) *Contains {
	return &Contains{In: NewIn(a, x, collection)}
}

func elementOf(x, collection any) (bool, error) {
	elems, err := flattenAny(collection)
	if err != nil {
		return false, err
	}
	for _, e := range elems {
		if expr.Equal(e, x) {
			return true, nil
		}
	}
	return false, nil
}

func flattenAny(v any) ([]any, error) {
	if s, ok := v.([]any); ok {
		return s, nil
	}
	return hostbridge.Flatten(v)
}
