// Package shaping implements spec.md §4.8's DerivedExpressions:
// ordered_by (stable multi-key sort), limit, and distinct.
package shaping

import (
	"fmt"
	"sort"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
)

// ValueNode is any node producing a value under a VarID.
type ValueNode interface {
	expr.Node
	ValueID() expr.VarID
}

// SortKey is one ordered_by(expr, descending) clause.
type SortKey struct {
	Expr       ValueNode
	Descending bool
}

// OrderedBy materialises its child's stream and sorts it stably by one or
// more keys in attachment order (a lexicographic ordering per §4.8).
type OrderedBy struct {
	expr.Base
	child expr.Node
	keys  []SortKey
}

func NewOrderedBy(a *expr.Arena, child expr.Node, keys ...SortKey) *OrderedBy {
	n := &OrderedBy{child: child, keys: keys}
	a.Register(&n.Base, n)
	if err := a.Attach(n, child); err != nil {
		panic(err)
	}
	for _, k := range keys {
		if err := a.Attach(n, k.Expr); err != nil {
			panic(err)
		}
	}
	n.SetFlags(expr.Flags{TruthValued: true, Derived: true})
	return n
}

func (o *OrderedBy) String() string { return "OrderedBy" }

func (o *OrderedBy) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		var rows []expr.Result
		expr.Evaluate(o.child, ctx, in)(func(r expr.Result) bool {
			if r.Truth {
				rows = append(rows, r)
			}
			return true
		})
		if ctx.Aborted() {
			return
		}

		sort.SliceStable(rows, func(i, j int) bool {
			for _, k := range o.keys {
				vi, _ := rows[i].Binding.Lookup(k.Expr.ValueID())
				vj, _ := rows[j].Binding.Lookup(k.Expr.ValueID())
				c := compareAny(vi, vj)
				if c == 0 {
					continue
				}
				if k.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})

		for _, r := range rows {
			if !yield(r) {
				return
			}
		}
	}
}

func compareAny(a, b any) int {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
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
	default:
		return 0, false
	}
}

// Limit emits at most n results and finalises (stops pulling) its child
// after the nth, per spec.md §4.8's O(1)-extra-memory guarantee and §5's
// cancellation contract.
type Limit struct {
	expr.Base
	child expr.Node
	n     int
}

func NewLimit(a *expr.Arena, child expr.Node, n int) *Limit {
	node := &Limit{child: child, n: n}
	a.Register(&node.Base, node)
	if err := a.Attach(node, child); err != nil {
		panic(err)
	}
	node.SetFlags(expr.Flags{TruthValued: true})
	return node
}

func (l *Limit) String() string { return fmt.Sprintf("Limit(%d)", l.n) }

func (l *Limit) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		if l.n <= 0 {
			return
		}
		count := 0
		expr.Evaluate(l.child, ctx, in)(func(r expr.Result) bool {
			if !r.Truth {
				return true
			}
			if !yield(r) {
				return false
			}
			count++
			return count < l.n
		})
	}
}

// Distinct deduplicates its child's emissions by the tuple of selected
// values, per spec.md §4.8.
type Distinct struct {
	expr.Base
	child expr.Node
	by    []ValueNode
}

func NewDistinct(a *expr.Arena, child expr.Node, by ...ValueNode) *Distinct {
	n := &Distinct{child: child, by: by}
	a.Register(&n.Base, n)
	if err := a.Attach(n, child); err != nil {
		panic(err)
	}
	for _, v := range by {
		if err := a.Attach(n, v); err != nil {
			panic(err)
		}
	}
	n.SetFlags(expr.Flags{TruthValued: true, Derived: true})
	return n
}

func (d *Distinct) String() string { return "Distinct" }

func (d *Distinct) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		seen := map[string]bool{}
		expr.Evaluate(d.child, ctx, in)(func(r expr.Result) bool {
			if !r.Truth {
				return true
			}
			key := d.key(r.Binding)
			if seen[key] {
				return true
			}
			seen[key] = true
			return yield(r)
		})
	}
}

func (d *Distinct) key(b expr.Binding) string {
	vals := make([]any, len(d.by))
	for i, v := range d.by {
		vals[i], _ = b.Lookup(v.ValueID())
	}
	return fmt.Sprintf("%v", vals)
}
