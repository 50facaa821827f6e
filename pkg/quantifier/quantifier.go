// Package quantifier implements spec.md §4.10: An (pass-through), The
// (exactly-one-or-error), Exactly/AtLeast/AtMost(k) (buffered cardinality
// checks).
package quantifier

import (
	"fmt"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/eqlerr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
)

// An wraps the query root and passes results through lazily, unmodified.
// It is the default quantifier (spec.md §4.12: "quantifier is present,
// defaulting to an").
type An struct {
	expr.Base
	child expr.Node
}

func NewAn(a *expr.Arena, child expr.Node) *An {
	n := &An{child: child}
	a.Register(&n.Base, n)
	if err := a.Attach(n, child); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (n *An) String() string { return "An" }

func (n *An) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return expr.Evaluate(n.child, ctx, in)
}

// The pulls exactly two elements from its child before deciding, per
// spec.md §5's cancellation contract: zero emissions is NoSolutionFound,
// a second emission is MoreThanOneSolutionFound.
type The struct {
	expr.Base
	child expr.Node
	path  string
}

func NewThe(a *expr.Arena, child expr.Node, path string) *The {
	n := &The{child: child, path: path}
	a.Register(&n.Base, n)
	if err := a.Attach(n, child); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (n *The) String() string { return "The" }

func (n *The) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		var first expr.Result
		count := 0
		expr.Evaluate(n.child, ctx, in)(func(r expr.Result) bool {
			if !r.Truth {
				return true
			}
			count++
			if count == 1 {
				first = r
			}
			return count < 2
		})
		if ctx.Aborted() {
			return
		}
		switch count {
		case 0:
			ctx.Fail(eqlerr.NewNoSolutionFoundError(n.path))
		case 1:
			yield(first)
		default:
			ctx.Fail(eqlerr.NewMoreThanOneSolutionFoundError(n.path))
		}
	}
}

// Cardinality is the shared buffered-count quantifier backing
// Exactly/AtLeast/AtMost: it pulls up to k+1 elements (the extra pull lets
// Exactly/AtMost detect "too many" without materialising the whole
// stream), then releases the buffered results or raises.
type Cardinality struct {
	expr.Base
	child expr.Node
	path  string
	kind  cardKind
	k     int
}

type cardKind int

const (
	kindExactly cardKind = iota
	kindAtLeast
	kindAtMost
)

func NewExactly(a *expr.Arena, child expr.Node, k int, path string) *Cardinality {
	return newCardinality(a, child, kindExactly, k, path)
}

func NewAtLeast(a *expr.Arena, child expr.Node, k int, path string) *Cardinality {
	return newCardinality(a, child, kindAtLeast, k, path)
}

func NewAtMost(a *expr.Arena, child expr.Node, k int, path string) *Cardinality {
	return newCardinality(a, child, kindAtMost, k, path)
}

func newCardinality(a *expr.Arena, child expr.Node, kind cardKind, k int, path string) *Cardinality {
	n := &Cardinality{child: child, kind: kind, k: k, path: path}
	a.Register(&n.Base, n)
	if err := a.Attach(n, child); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (n *Cardinality) String() string {
	names := map[cardKind]string{kindExactly: "Exactly", kindAtLeast: "AtLeast", kindAtMost: "AtMost"}
	return fmt.Sprintf("%s(%d)", names[n.kind], n.k)
}

func (n *Cardinality) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		buf := make([]expr.Result, 0, n.k+1)
		pullLimit := n.k + 1
		if n.kind == kindAtLeast {
			pullLimit = n.k // AtLeast never needs to detect "too many"
		}
		expr.Evaluate(n.child, ctx, in)(func(r expr.Result) bool {
			if !r.Truth {
				return true
			}
			if pullLimit == 0 {
				// AtLeast(0): the required count is already met before
				// pulling anything, so stop instead of draining upstream.
				return false
			}
			buf = append(buf, r)
			return len(buf) < pullLimit
		})
		if ctx.Aborted() {
			return
		}

		switch n.kind {
		case kindExactly:
			if len(buf) != n.k {
				ctx.Fail(eqlerr.NewQueryStructureInvalidError(n.path,
					fmt.Errorf("expected exactly %d results, got at least %d", n.k, len(buf))))
				return
			}
		case kindAtLeast:
			if len(buf) < n.k {
				ctx.Fail(eqlerr.NewQueryStructureInvalidError(n.path,
					fmt.Errorf("expected at least %d results, got %d", n.k, len(buf))))
				return
			}
		case kindAtMost:
			if len(buf) > n.k {
				ctx.Fail(eqlerr.NewQueryStructureInvalidError(n.path,
					fmt.Errorf("expected at most %d results, got at least %d", n.k, len(buf))))
				return
			}
		}

		for _, r := range buf {
			if !yield(r) {
				return
			}
		}
	}
}
