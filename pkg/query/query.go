// Package query implements spec.md §4.12: the builder façade that
// collects clauses in mutable slots, lowers them into the expression DAG
// on Build, freezes it, and exposes Evaluate/ToList/First/HasSolutionFor.
//
// The clause-slot collection and a single build() lowering pass mirrors
// the teacher's pkg/pipeline.Pipeline, which also accumulates an ordered
// list of stage specs before compiling them into a runnable defaultEngine
// once, rather than interpreting the spec on every evaluation.
package query

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/aggregate"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/combinator"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/eqlerr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/quantifier"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/ruletree"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/shaping"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/symbolgraph"
)

// ValueNode is any node producing a value under a VarID: the common
// surface of Variable, MappedVariable, SymbolicFunction, and Aggregator.
type ValueNode interface {
	expr.Node
	ValueID() expr.VarID
}

// QuantifierKind selects one of spec.md §4.10's quantifiers.
type QuantifierKind int

const (
	QuantifierAn QuantifierKind = iota // default, per §4.12
	QuantifierThe
	QuantifierExactly
	QuantifierAtLeast
	QuantifierAtMost
)

// Query is the MultiArity builder façade of spec.md §3/§4.12. It
// accumulates clauses in mutable slots until Build() sets built, and
// exposes a frozen, evaluable DAG once Build() succeeds.
type Query struct {
	arena *expr.Arena
	graph *symbolgraph.Graph
	log   logr.Logger

	selects []ValueNode
	where   []expr.Node

	groupKeys []aggregate.ValueNode
	having    expr.Node

	orderBy []shaping.SortKey
	limit   int
	hasLim  bool
	dist    []shaping.ValueNode

	quant QuantifierKind
	card  int

	ruleSiblings []*ruletree.Scope

	built bool
	root  expr.Node
	path  string
}

// Entity starts a new Query selecting a single value-producing node (a
// Variable, MappedVariable, SymbolicFunction, or Aggregator).
func Entity(v ValueNode) *Query {
	return SetOf(v)
}

// arenaHolder is satisfied by every concrete node kind via its embedded
// expr.Base, even though expr.Node itself doesn't expose Arena().
type arenaHolder interface {
	Arena() *expr.Arena
}

// SetOf starts a new Query selecting one or more value-producing nodes.
// Since every node must already be registered in some arena before it can
// be built into a larger expression, SetOf/Entity reuse the arena of the
// first selected node rather than minting a fresh one out from under
// already-constructed nodes; only a nodeless SetOf() (used to obtain an
// arena before anything else exists, e.g. for a query whose root is built
// entirely from rule-tree conclusions) falls back to a new arena.
func SetOf(vs ...ValueNode) *Query {
	var arena *expr.Arena
	for _, v := range vs {
		if ah, ok := v.(arenaHolder); ok && ah.Arena() != nil {
			arena = ah.Arena()
			break
		}
	}
	if arena == nil {
		arena = expr.NewArena()
	}
	q := &Query{arena: arena, graph: symbolgraph.Default(), log: logr.Discard(), path: "query"}
	for _, v := range vs {
		q.selects = append(q.selects, v)
	}
	return q
}

// Arena exposes the builder's arena so construction helpers
// (pkg/variable, pkg/combinator, pkg/matcher, ...) can register nodes
// under the same query.
func (q *Query) Arena() *expr.Arena { return q.arena }

// WithLogger sets the logr.Logger threaded into every Evaluate call,
// mirroring the teacher's defaultEngine construction, which always takes
// a logger rather than defaulting silently to stderr.
func (q *Query) WithLogger(log logr.Logger) *Query { q.log = log; return q }

// WithSymbolGraph overrides the SymbolGraph implicit-domain Variables
// read from; defaults to symbolgraph.Default().
func (q *Query) WithSymbolGraph(g *symbolgraph.Graph) *Query { q.graph = g; return q }

// Where conjoins one or more truth-valued conditions into the where
// clause (spec.md §4.12: "where (list conjoined)").
func (q *Query) Where(conds ...expr.Node) *Query {
	q.mustBuilding("Where")
	q.where = append(q.where, conds...)
	return q
}

// GroupedBy records grouping keys on the query. Build does not lower them
// into the DAG: grouping takes effect only through aggregate.GroupedBy on
// each Aggregator.
func (q *Query) GroupedBy(keys ...aggregate.ValueNode) *Query {
	q.mustBuilding("GroupedBy")
	q.groupKeys = keys
	return q
}

// Having filters whole groups after aggregation; pred typically compares
// aggregators and group keys. Build does not check what pred references.
func (q *Query) Having(pred expr.Node) *Query {
	q.mustBuilding("Having")
	q.having = pred
	return q
}

// OrderedBy appends a lexicographic sort key (spec.md §4.8: "multiple
// ordered_by clauses form a lexicographic ordering in attachment order").
func (q *Query) OrderedBy(v shaping.ValueNode, descending bool) *Query {
	q.mustBuilding("OrderedBy")
	q.orderBy = append(q.orderBy, shaping.SortKey{Expr: v, Descending: descending})
	return q
}

// Limit sets the maximum number of results.
func (q *Query) Limit(n int) *Query {
	q.mustBuilding("Limit")
	q.limit, q.hasLim = n, true
	return q
}

// Distinct deduplicates results by the tuple of selected values.
func (q *Query) Distinct() *Query {
	q.mustBuilding("Distinct")
	for _, v := range q.selects {
		q.dist = append(q.dist, v)
	}
	return q
}

// An selects the pass-through quantifier; this is the default.
func (q *Query) An() *Query { q.quant = QuantifierAn; return q }

// The selects the exactly-one-or-error quantifier.
func (q *Query) The() *Query { q.quant = QuantifierThe; return q }

// Exactly selects the Exactly(k) quantifier.
func (q *Query) Exactly(k int) *Query { q.quant, q.card = QuantifierExactly, k; return q }

// AtLeast selects the AtLeast(k) quantifier.
func (q *Query) AtLeast(k int) *Query { q.quant, q.card = QuantifierAtLeast, k; return q }

// AtMost selects the AtMost(k) quantifier.
func (q *Query) AtMost(k int) *Query { q.quant, q.card = QuantifierAtMost, k; return q }

// AddRule attaches a top-level rule-tree sibling scope (refinement,
// alternative, or next_rule) to the query.
func (q *Query) AddRule(s *ruletree.Scope) *Query {
	q.mustBuilding("AddRule")
	q.ruleSiblings = append(q.ruleSiblings, s)
	return q
}

func (q *Query) mustBuilding(clause string) {
	if q.built {
		panic(eqlerr.NewQueryStructureFrozenError(fmt.Sprintf("%s.%s", q.path, clause)))
	}
}

// Build lowers every clause slot into expression nodes, attaches them
// under a root, and freezes the DAG. It first validates the clauses: an
// aggregator in the where clause, or a query selecting nothing, is a
// QueryStructureInvalid error. Whether the selected nodes are reachable
// from the root is not checked; a selected node the root never binds is
// nil in every result. With no quantifier set, the root is wrapped in An.
func (q *Query) Build() (*Query, error) {
	if q.built {
		return q, nil
	}

	if err := q.validate(); err != nil {
		return nil, eqlerr.NewQueryStructureInvalidError(q.path, err)
	}

	var root expr.Node
	if len(q.where) == 0 {
		root = combinator.NewAnd(q.arena) // empty conjunction: always true
	} else if len(q.where) == 1 {
		root = q.where[0]
	} else {
		nodes := make([]expr.Node, len(q.where))
		copy(nodes, q.where)
		root = combinator.NewAnd(q.arena, nodes...)
	}

	if q.having != nil {
		root = aggregate.NewHaving(q.arena, root, q.having)
	}

	if len(q.ruleSiblings) > 0 {
		root = newRuleApply(q.arena, root, q.ruleSiblings)
	}

	if len(q.orderBy) > 0 {
		root = shaping.NewOrderedBy(q.arena, root, q.orderBy...)
	}
	if len(q.dist) > 0 {
		root = shaping.NewDistinct(q.arena, root, q.dist...)
	}
	if q.hasLim {
		root = shaping.NewLimit(q.arena, root, q.limit)
	}

	switch q.quant {
	case QuantifierThe:
		root = quantifier.NewThe(q.arena, root, q.path)
	case QuantifierExactly:
		root = quantifier.NewExactly(q.arena, root, q.card, q.path)
	case QuantifierAtLeast:
		root = quantifier.NewAtLeast(q.arena, root, q.card, q.path)
	case QuantifierAtMost:
		root = quantifier.NewAtMost(q.arena, root, q.card, q.path)
	default:
		root = quantifier.NewAn(q.arena, root)
	}

	q.root = root
	q.arena.Freeze()
	q.built = true
	return q, nil
}

// validate implements spec.md §4.12's build-time checks. Aggregator
// detection relies on the Derived+Selectable flag combination Aggregator
// sets (pkg/aggregate.New), since the façade never imports concrete
// aggregator types directly.
func (q *Query) validate() error {
	for _, w := range q.where {
		if err := rejectDerivedSelectable(w, "where"); err != nil {
			return err
		}
	}
	if len(q.selects) == 0 {
		return fmt.Errorf("query selects no value-producing node")
	}
	return nil
}

// rejectDerivedSelectable walks n's subtree and fails if it finds a node
// flagged both Derived and Selectable outside of select/having/ordered_by
// — the signature spec.md §4.7 assigns aggregators, and §4.12 forbids in
// where.
func rejectDerivedSelectable(n expr.Node, clause string) error {
	seen := map[expr.NodeID]bool{}
	var walk func(expr.Node) error
	walk = func(c expr.Node) error {
		if seen[c.ID()] {
			return nil
		}
		seen[c.ID()] = true
		if c.Flags().Derived && c.Flags().Selectable {
			return fmt.Errorf("aggregator %s used in %s clause, must appear only in select/having/ordered_by", c, clause)
		}
		for _, ch := range c.Children() {
			if err := walk(ch); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(n)
}

// Evaluate drives the frozen DAG from an empty binding, returning the
// lazy sequence of final results, threading the query's logger and
// SymbolGraph into a fresh *expr.Context.
func (q *Query) Evaluate() (expr.Seq, error) {
	if !q.built {
		if _, err := q.Build(); err != nil {
			return nil, err
		}
	}
	ctx := expr.NewContext(q.log, q.graph)
	seq := expr.Evaluate(q.root, ctx, expr.Binding{})
	return func(yield func(expr.Result) bool) {
		seq(yield)
		if err := ctx.Err(); err != nil {
			panic(evalError{err})
		}
	}, nil
}

// evalError lets ToList/First surface an evaluation-time error without
// threading an error return through every stream combinator; it is
// recovered at the single point (ToList/First) that drains the sequence
// to completion.
type evalError struct{ err error }

// Select projects a Result's binding down to the values of the query's
// select clause, in clause order.
func (q *Query) Select(r expr.Result) []any {
	out := make([]any, len(q.selects))
	for i, v := range q.selects {
		out[i], _ = r.Binding.Lookup(v.ValueID())
	}
	return out
}

// ToList materialises every result into a slice of selected-value tuples.
func (q *Query) ToList() ([][]any, error) {
	seq, err := q.Evaluate()
	if err != nil {
		return nil, err
	}
	var out [][]any
	if err := drain(func() { seq(func(r expr.Result) bool { out = append(out, q.Select(r)); return true }) }); err != nil {
		return nil, err
	}
	return out, nil
}

// First returns the first result's selected values, or ok=false if the
// query produced no results.
func (q *Query) First() ([]any, bool, error) {
	seq, err := q.Evaluate()
	if err != nil {
		return nil, false, err
	}
	var out []any
	found := false
	if err := drain(func() {
		seq(func(r expr.Result) bool {
			out, found = q.Select(r), true
			return false
		})
	}); err != nil {
		return nil, false, err
	}
	return out, found, nil
}

// HasSolutionFor reports whether the query produces at least one result,
// without materialising more than the first.
func (q *Query) HasSolutionFor() (bool, error) {
	_, found, err := q.First()
	return found, err
}

// ruleApply adapts a top-level sibling group of rule-tree Scopes (spec.md
// §4.11) into a regular pass-through node: for every binding its child
// emits, it fires the sibling group's conclusions (RunSiblings' earlier-
// sibling-first, else-if semantics), as a side effect on whatever
// Accumulators the Adds target, then re-yields the binding unchanged.
type ruleApply struct {
	expr.Base
	child    expr.Node
	siblings []*ruletree.Scope
}

func newRuleApply(a *expr.Arena, child expr.Node, siblings []*ruletree.Scope) *ruleApply {
	n := &ruleApply{child: child, siblings: siblings}
	a.Register(&n.Base, n)
	if err := a.Attach(n, child); err != nil {
		panic(err)
	}
	for _, s := range siblings {
		if err := a.Attach(n, s); err != nil {
			panic(err)
		}
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (n *ruleApply) String() string { return "RuleApply" }

func (n *ruleApply) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		expr.Evaluate(n.child, ctx, in)(func(r expr.Result) bool {
			if !r.Truth {
				return true
			}
			ruletree.RunSiblings(ctx, n.siblings, r.Binding)
			if ctx.Aborted() {
				return false
			}
			return yield(r)
		})
	}
}

func drain(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if ee, ok := r.(evalError); ok {
				err = ee.err
				return
			}
			panic(r)
		}
	}()
	f()
	return nil
}
