// Package aggregate implements spec.md §4.7: GroupedBy partitioning and
// the count/sum/average/min/max aggregators, plus having() for
// post-aggregation group filtering.
//
// Grouping is grounded on the teacher's pkg/pipeline aggregation pass
// (default_engine.go's evalAggregation/evaluateAggregation), which folds
// delta streams per view; here the fold runs over a materialised slice of
// upstream bindings instead of a cache.Delta stream, since aggregation is
// inherently a DerivedExpression that must buffer (spec.md §4.8).
package aggregate

import (
	"fmt"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/binding"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/eqlerr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
)

// ValueNode is any node producing a value under a VarID.
type ValueNode interface {
	expr.Node
	ValueID() expr.VarID
}

// Kind identifies one of spec.md §4.7's aggregator functions.
type Kind string

const (
	Count   Kind = "count"
	Sum     Kind = "sum"
	Average Kind = "average"
	Min     Kind = "min"
	Max     Kind = "max"
)

// group is one partition of upstream.Step's emissions, keyed by the tuple
// of group-key values under which its contributor bindings fell. Group
// order is insertion order of first occurrence of each key tuple (§4.7).
type group struct {
	keyVals  []any
	bindings []expr.Binding
}

// Aggregator is the Unary node of spec.md §4.7: it folds its child's
// value-producing emissions, per group if grouping keys are attached,
// else as a single group over the whole upstream stream.
type Aggregator struct {
	expr.Base
	vid      expr.VarID
	kind     Kind
	child    ValueNode   // the value-producing node folded over
	keyBy    ValueNode   // optional "key" param: transform used for min/max comparison; nil means compare child's own value
	grouping []ValueNode // GroupedBy(keys...); nil means fold as a single group
	def      any
	distinct bool
}

// Option configures an Aggregator at construction.
type Option func(*Aggregator)

// GroupedBy attaches group-by keys: the aggregator folds per distinct
// tuple of these keys' bound values instead of over the whole stream.
func GroupedBy(keys ...ValueNode) Option {
	return func(a *Aggregator) { a.grouping = keys }
}

// Key sets the transform used by Min/Max to pick the extremum; the
// aggregator still emits the *child's* value for the winning item, per
// spec.md §4.7 ("min/max with a key return the binding element achieving
// the extremum, not the extremum value").
func Key(k ValueNode) Option { return func(a *Aggregator) { a.keyBy = k } }

// Default sets the value emitted for an empty group.
func Default(v any) Option { return func(a *Aggregator) { a.def = v } }

// Distinct deduplicates contributor values by host equality before
// folding.
func Distinct() Option { return func(a *Aggregator) { a.distinct = true } }

// New registers an Aggregator of the given kind over child.
func New(a *expr.Arena, kind Kind, child ValueNode, opts ...Option) *Aggregator {
	n := &Aggregator{vid: binding.NewVarID(), kind: kind, child: child}
	for _, o := range opts {
		o(n)
	}
	a.Register(&n.Base, n)
	if err := a.Attach(n, child); err != nil {
		panic(err)
	}
	for _, k := range n.grouping {
		if err := a.Attach(n, k); err != nil {
			panic(err)
		}
	}
	if n.keyBy != nil {
		if err := a.Attach(n, n.keyBy); err != nil {
			panic(err)
		}
	}
	n.SetFlags(expr.Flags{Selectable: true, Derived: true})
	return n
}

func (a *Aggregator) ValueID() expr.VarID { return a.vid }
func (a *Aggregator) String() string      { return fmt.Sprintf("Aggregator(%s)", a.kind) }

// GroupKeys exposes the group-by key nodes so Having and the query façade
// can re-surface them in the emitted binding.
func (a *Aggregator) GroupKeys() []ValueNode { return a.grouping }

// Step materialises the child's emissions (buffering, per §4.8), groups
// them, folds each group, and emits one (binding, true) result per group
// — a single result if no GroupedBy is attached.
func (a *Aggregator) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		groups := a.collectGroups(ctx, in)
		if ctx.Aborted() {
			return
		}
		if len(groups) == 0 && len(a.grouping) == 0 {
			groups = []group{{}} // the single, empty group folds to the Default
		}
		for _, g := range groups {
			out, err := a.fold(g.bindings)
			if err != nil {
				expr.HandleResolutionError(ctx, a.String(), eqlerr.KindSymbolicResolutionError, err, in, yield)
				if ctx.Aborted() {
					return
				}
				continue
			}
			result := in
			for i, k := range a.grouping {
				result = result.With(k.ValueID(), g.keyVals[i])
			}
			result = result.With(a.vid, out)
			if !yield(expr.Result{Binding: result, Truth: true}) {
				return
			}
		}
	}
}

func (a *Aggregator) collectGroups(ctx *expr.Context, in expr.Binding) []group {
	order := []string{}
	byKey := map[string]*group{}
	expr.Evaluate(a.child, ctx, in)(func(r expr.Result) bool {
		if !r.Truth {
			return true
		}
		keyVals := make([]any, len(a.grouping))
		for i, k := range a.grouping {
			if v, ok := r.Binding.Lookup(k.ValueID()); ok {
				keyVals[i] = v
				continue
			}
			// The key is not bound by the child's emission: evaluate it under
			// that binding, keeping only an emission consistent with it.
			expr.Evaluate(k, ctx, r.Binding)(func(e expr.Result) bool {
				if _, compat := expr.Merge(r.Binding, e.Binding); !e.Truth || !compat {
					return true
				}
				keyVals[i], _ = e.Binding.Lookup(k.ValueID())
				return false
			})
		}
		ks := fmt.Sprintf("%v", keyVals)
		g, ok := byKey[ks]
		if !ok {
			g = &group{keyVals: keyVals}
			byKey[ks] = g
			order = append(order, ks)
		}
		g.bindings = append(g.bindings, r.Binding)
		return true
	})
	out := make([]group, len(order))
	for i, ks := range order {
		out[i] = *byKey[ks]
	}
	return out
}

// item pairs a contributor's folded value with its comparison key (equal
// to val unless a Key option was supplied).
type item struct {
	val, key any
}

func (a *Aggregator) fold(items []expr.Binding) (any, error) {
	vals := make([]item, 0, len(items))
	for _, b := range items {
		v, _ := b.Lookup(a.child.ValueID())
		k := v
		if a.keyBy != nil {
			k, _ = b.Lookup(a.keyBy.ValueID())
		}
		if a.distinct {
			dup := false
			for _, prev := range vals {
				if expr.Equal(prev.val, v) {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
		}
		vals = append(vals, item{val: v, key: k})
	}

	if len(vals) == 0 {
		return a.def, nil
	}

	switch a.kind {
	case Count:
		return len(vals), nil
	case Sum:
		return sumNumeric(extract(vals))
	case Average:
		s, err := sumNumeric(extract(vals))
		if err != nil {
			return nil, err
		}
		return s / float64(len(vals)), nil
	case Min:
		return extremum(vals, true)
	case Max:
		return extremum(vals, false)
	default:
		return nil, fmt.Errorf("aggregate: unknown kind %q", a.kind)
	}
}

func extract(items []item) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.val
	}
	return out
}

func sumNumeric(vals []any) (float64, error) {
	total := 0.0
	for _, v := range vals {
		f, ok := asFloat(v)
		if !ok {
			return 0, fmt.Errorf("aggregate: %v is not numeric", v)
		}
		total += f
	}
	return total, nil
}

func extremum(vals []item, wantMin bool) (any, error) {
	best := vals[0]
	bestKey, ok := asFloat(best.key)
	if !ok {
		return nil, fmt.Errorf("aggregate: %v is not comparable", best.key)
	}
	for _, it := range vals[1:] {
		kf, ok := asFloat(it.key)
		if !ok {
			return nil, fmt.Errorf("aggregate: %v is not comparable", it.key)
		}
		if (wantMin && kf < bestKey) || (!wantMin && kf > bestKey) {
			best, bestKey = it, kf
		}
	}
	return best.val, nil
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

// Having is the post-aggregation group filter of spec.md §4.7: it
// evaluates child (the query's where root, an empty And when there is no
// where clause), then a predicate node pred over each emitted binding,
// keeping only pred's true emissions. The Aggregators sit under pred, and
// each emits one binding per group when pred evaluates it.
type Having struct {
	expr.Base
	child expr.Node
	pred  expr.Node
}

func NewHaving(a *expr.Arena, child, pred expr.Node) *Having {
	n := &Having{child: child, pred: pred}
	a.Register(&n.Base, n)
	if err := a.Attach(n, child); err != nil {
		panic(err)
	}
	if err := a.Attach(n, pred); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{TruthValued: true, Derived: true})
	return n
}

func (h *Having) String() string { return "Having" }

func (h *Having) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		cont := true
		expr.Evaluate(h.child, ctx, in)(func(g expr.Result) bool {
			if !g.Truth {
				return true
			}
			expr.Evaluate(h.pred, ctx, g.Binding)(func(p expr.Result) bool {
				if !p.Truth {
					return true // this group failed the predicate, move on to the next one
				}
				if !yield(expr.Result{Binding: p.Binding, Truth: true}) {
					cont = false
					return false
				}
				return true
			})
			return cont
		})
	}
}
