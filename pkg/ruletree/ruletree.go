// Package ruletree implements spec.md §4.11: the nested tree of
// conclusion-selector scopes (refinement, alternative, next_rule) under a
// query root, add() conclusions, inference(T)(...) construction, and
// deduced_variable(T) domains sourced from accumulated conclusions.
//
// Evaluation order is outer-to-inner, earlier-sibling-first, matching the
// teacher's rule-tree-shaped default_engine.recurseProd depth-ordered
// recursion, generalised here from "depth over views" to "depth over
// nested conclusion scopes".
package ruletree

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/binding"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/hostbridge"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/symbolgraph"
)

// ValueNode is any node producing a value under a VarID.
type ValueNode interface {
	expr.Node
	ValueID() expr.VarID
}

// kind identifies one of spec.md §4.11's scope types.
type kind int

const (
	kindRefinement kind = iota
	kindAlternative
	kindNextRule
)

// Scope is one refinement/alternative/next_rule node in the rule tree. It
// carries zero or more Add conclusions and zero or more nested child
// Scopes, evaluated under its own condition.
type Scope struct {
	expr.Base
	kind     kind
	cond     expr.Node // nil for NextRule: unconditional
	children []*Scope
	adds     []*Add
}

// NewRefinement opens a scope whose conclusions/children apply only when
// cond holds in addition to the outer scope's conditions.
func NewRefinement(a *expr.Arena, cond expr.Node) *Scope {
	return newScope(a, kindRefinement, cond)
}

// NewAlternative opens a scope that fires iff no earlier sibling scope in
// the same sibling list (one RunSiblings call) fired for the current
// outer binding (else-if).
func NewAlternative(a *expr.Arena, cond expr.Node) *Scope {
	return newScope(a, kindAlternative, cond)
}

// NewNextRule opens a sibling scope evaluated unconditionally, regardless
// of whether earlier siblings fired.
func NewNextRule(a *expr.Arena) *Scope {
	return newScope(a, kindNextRule, nil)
}

func newScope(a *expr.Arena, k kind, cond expr.Node) *Scope {
	s := &Scope{kind: k, cond: cond}
	a.Register(&s.Base, s)
	if cond != nil {
		if err := a.Attach(s, cond); err != nil {
			panic(err)
		}
	}
	s.SetFlags(expr.Flags{TruthValued: true})
	return s
}

// Step lets a Scope be attached and evaluated like any other expr.Node:
// it checks its own condition, fires its conclusions and children via
// apply if the condition holds, and yields the resulting binding. Callers
// driving a sibling group's else-if semantics use RunSiblings directly
// instead, which apply calls internally for nested children.
func (s *Scope) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		merged, ok := s.condHolds(ctx, in)
		if !ok {
			return
		}
		s.apply(ctx, merged)
		if ctx.Aborted() {
			return
		}
		yield(expr.Result{Binding: merged, Truth: true})
	}
}

func (s *Scope) String() string {
	names := map[kind]string{kindRefinement: "Refinement", kindAlternative: "Alternative", kindNextRule: "NextRule"}
	return names[s.kind]
}

// Add registers a conclusion that fires for every binding reaching this
// scope: for every such binding, value is evaluated and appended to
// target.
func (s *Scope) Add(a *expr.Arena, add *Add) *Scope {
	if err := a.Attach(s, add.valueNode()); err != nil {
		panic(err)
	}
	if err := a.Attach(s, add.target); err != nil {
		panic(err)
	}
	s.adds = append(s.adds, add)
	return s
}

// AddChild nests a child scope inside s, evaluated after s's own
// conclusions for every binding for which s fired.
func (s *Scope) AddChild(a *expr.Arena, child *Scope) *Scope {
	if err := a.Attach(s, child); err != nil {
		panic(err)
	}
	s.children = append(s.children, child)
	return s
}

// condHolds reports, for the outer binding in, whether s's condition is
// satisfied, and the merged binding of any true emission (the spec's
// "behaves as conjunction").
func (s *Scope) condHolds(ctx *expr.Context, in expr.Binding) (expr.Binding, bool) {
	if s.cond == nil {
		return in, true
	}
	result, ok := in, false
	expr.Evaluate(s.cond, ctx, in)(func(r expr.Result) bool {
		if !r.Truth {
			return true
		}
		// A Variable under cond re-enumerates its whole domain, so a true
		// emission counts only if it agrees with the outer binding.
		if merged, compat := binding.Merge(in, r.Binding); compat {
			result, ok = merged, true
			return false
		}
		return true
	})
	return result, ok
}

// apply runs s's own Add conclusions and then recurses into its children,
// for the binding under which s fired.
func (s *Scope) apply(ctx *expr.Context, fired expr.Binding) {
	for _, add := range s.adds {
		if err := add.fire(ctx, fired); err != nil {
			ctx.Fail(err)
			return
		}
		if ctx.Aborted() {
			return
		}
	}
	RunSiblings(ctx, s.children, fired)
}

// RunSiblings evaluates an ordered sequence of sibling scopes against a
// single outer binding, outer-to-inner, earlier-sibling-first: each
// Refinement/NextRule is evaluated unconditionally (NextRule always
// holds); each Alternative only if no earlier sibling in siblings fired
// for this specific outer binding (spec.md §4.11).
func RunSiblings(ctx *expr.Context, siblings []*Scope, in expr.Binding) {
	fired := false
	for _, sib := range siblings {
		if ctx.Aborted() {
			return
		}
		if sib.kind == kindAlternative && fired {
			continue
		}
		merged, ok := sib.condHolds(ctx, in)
		if !ok {
			continue
		}
		fired = true
		sib.apply(ctx, merged)
	}
}

// Add is a conclusion clause: for every binding reaching its enclosing
// scope, value is evaluated and appended to target.
type Add struct {
	target ValueNode // produces the collection to append to
	value  ValueNode // produces the value to append; may be an *Inference
}

// NewAdd builds an Add(target, value) conclusion.
func NewAdd(target, value ValueNode) *Add {
	return &Add{target: target, value: value}
}

func (ad *Add) valueNode() expr.Node { return ad.value }

// fire resolves target and value under fired, then appends value's
// resolved output to target's resolved collection via the host bridge
// (an Add/Append method) or, failing that, direct reflection onto a
// pointer-to-slice.
func (ad *Add) fire(ctx *expr.Context, fired expr.Binding) error {
	targetVal, targetOK := resolveOne(ctx, ad.target, fired)
	if !targetOK {
		return fmt.Errorf("ruletree: add() target did not resolve")
	}

	outVal, outOK := resolveOne(ctx, ad.value, fired)
	if !outOK {
		return fmt.Errorf("ruletree: add() value did not resolve")
	}

	return appendTo(targetVal, outVal)
}

// resolveOne evaluates v from in and returns the value bound to v.ValueID()
// in the first emission that is merge-compatible with in — i.e. that
// agrees with every identity in already fixes, per spec.md §4.3's
// compatibility rule. This is what lets a kwarg or conclusion value-node
// reference a Variable already bound upstream (e.g. the connection a rule
// fired for) without silently picking an arbitrary domain element: a
// domain Variable's Step re-enumerates its whole domain regardless of in,
// and only the branch consistent with in's existing binding survives the
// merge check here.
func resolveOne(ctx *expr.Context, v ValueNode, in expr.Binding) (any, bool) {
	var val any
	var ok bool
	expr.Evaluate(v, ctx, in)(func(r expr.Result) bool {
		if !r.Truth {
			return true
		}
		merged, compat := binding.Merge(in, r.Binding)
		if !compat {
			return true
		}
		val, ok = merged.Lookup(v.ValueID())
		return false
	})
	return val, ok
}

func appendTo(target, value any) error {
	if hostbridge.HasAttribute(target, "Add") {
		_, err := hostbridge.Invoke(target, "Add", []any{value}, nil)
		return err
	}
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("ruletree: add() target %T has neither an Add method nor is a slice pointer", target)
	}
	slice := rv.Elem()
	elem := reflect.ValueOf(value)
	if elem.Type() != slice.Type().Elem() && elem.Type().ConvertibleTo(slice.Type().Elem()) {
		elem = elem.Convert(slice.Type().Elem())
	}
	slice.Set(reflect.Append(slice, elem))
	return nil
}

// Inference is inference(T)(k=v, ...): a SymbolicFunction-shaped node that
// constructs a fresh instance of T with the given field values, once per
// firing binding, and registers it in the SymbolGraph so later
// deduced_variable(T) domains see it.
type Inference struct {
	expr.Base
	vid    expr.VarID
	typ    reflect.Type
	kwargs map[string]ValueNode
	graph  *symbolgraph.Graph
}

// NewInference registers an Inference node constructing instances of typ
// (a struct type, not a pointer) from kwargs.
func NewInference(a *expr.Arena, graph *symbolgraph.Graph, typ reflect.Type, kwargs map[string]ValueNode) *Inference {
	if graph == nil {
		graph = symbolgraph.Default()
	}
	n := &Inference{vid: binding.NewVarID(), typ: typ, kwargs: kwargs, graph: graph}
	a.Register(&n.Base, n)
	for _, v := range kwargs {
		if err := a.Attach(n, v); err != nil {
			panic(err)
		}
	}
	n.SetFlags(expr.Flags{Selectable: true})
	return n
}

func (inf *Inference) ValueID() expr.VarID { return inf.vid }
func (inf *Inference) String() string      { return fmt.Sprintf("Inference(%s)", inf.typ) }

// Step constructs exactly one instance of typ per input binding (the
// "lazy, once per firing binding" constraint of spec.md §4.11), sets its
// kwargs fields by name, registers it in the SymbolGraph, and emits it.
func (inf *Inference) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		ptr := reflect.New(inf.typ)
		for name, v := range inf.kwargs {
			val, ok := resolveOne(ctx, v, in)
			if ctx.Aborted() {
				return
			}
			if ok {
				f := ptr.Elem().FieldByName(name)
				if f.IsValid() && f.CanSet() {
					fv := reflect.ValueOf(val)
					if fv.Type() != f.Type() && fv.Type().ConvertibleTo(f.Type()) {
						fv = fv.Convert(f.Type())
					}
					f.Set(fv)
				}
			}
		}
		instance := ptr.Elem().Interface()
		inf.graph.Register(instance)
		yield(expr.Result{Binding: in.With(inf.vid, instance), Truth: true})
	}
}

// Accumulator backs deduced_variable(T): it holds every instance appended
// to it by an Add conclusion so far, in firing order.
type Accumulator struct {
	mu    sync.Mutex
	items []any
}

func NewAccumulator() *Accumulator { return &Accumulator{} }

// Add appends v, implementing the host-bridge "Add" method appendTo
// reflects onto when a conclusion's target is an *Accumulator.
func (acc *Accumulator) Add(v any) {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.items = append(acc.items, v)
}

// Snapshot returns the accumulated items so far.
func (acc *Accumulator) Snapshot() []any {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	out := make([]any, len(acc.items))
	copy(out, acc.items)
	return out
}

// DeducedVariable is deduced_variable(T) of spec.md §4.11: a Variable-like
// leaf whose domain is the set of inferred instances accumulated so far
// in acc, filtered by type, read at Step time just as an implicit
// Variable reads the SymbolGraph (I5's sibling rule for deduced domains).
type DeducedVariable struct {
	expr.Base
	vid expr.VarID
	typ reflect.Type
	acc *Accumulator
}

func NewDeducedVariable(a *expr.Arena, typ reflect.Type, acc *Accumulator) *DeducedVariable {
	n := &DeducedVariable{vid: binding.NewVarID(), typ: typ, acc: acc}
	a.Register(&n.Base, n)
	n.SetFlags(expr.Flags{TruthValued: true, Selectable: true})
	return n
}

func (d *DeducedVariable) ValueID() expr.VarID { return d.vid }
func (d *DeducedVariable) String() string      { return fmt.Sprintf("DeducedVariable(%s)", d.typ) }

func (d *DeducedVariable) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		for _, item := range d.acc.Snapshot() {
			if !hostbridge.IsA(item, d.typ) {
				continue
			}
			if !yield(expr.Result{Binding: in.With(d.vid, item), Truth: true}) {
				return
			}
		}
	}
}
