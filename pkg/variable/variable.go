// Package variable implements the leaf and unary-transformer nodes of
// spec.md §3/§4.2: Variable (explicit or SymbolGraph-backed implicit
// domain) and MappedVariable (Attribute, Index, Call, Flat navigation).
//
// It is grounded on the teacher's pkg/expression.Expression evaluation
// style (switch-on-kind, wrap every failure with a tagged error, log at
// high verbosity on success) adapted from a single recursive Evaluate
// method into the Node/Step split pkg/expr establishes.
package variable

import (
	"fmt"
	"reflect"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/binding"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/eqlerr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/hostbridge"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/stream"
)

// ValueNode is implemented by every node in this package: it exposes the
// VarID under which its produced value lives in the binding, so that a
// MappedVariable wired on top of it knows which key to look up.
type ValueNode interface {
	expr.Node
	ValueID() expr.VarID
}

// Variable is the leaf of spec.md §3: a typed identity ranging over an
// explicit domain or, if none was supplied, the SymbolGraph slice for T
// (read lazily, at Step time, per I5).
type Variable struct {
	expr.Base
	vid      expr.VarID
	typ      reflect.Type
	explicit []any // nil => implicit domain, read from the context's SymbolGraph
	name     string
}

// NewVariable registers a Variable with an explicit domain under a.
func NewVariable(a *expr.Arena, typ reflect.Type, domain []any) *Variable {
	return newVariable(a, typ, domain)
}

// NewImplicitVariable registers a Variable whose domain is the SymbolGraph
// slice for typ, resolved at evaluation time.
func NewImplicitVariable(a *expr.Arena, typ reflect.Type) *Variable {
	return newVariable(a, typ, nil)
}

func newVariable(a *expr.Arena, typ reflect.Type, domain []any) *Variable {
	v := &Variable{vid: binding.NewVarID(), typ: typ, explicit: domain}
	a.Register(&v.Base, v)
	v.SetFlags(expr.Flags{TruthValued: true, Selectable: true})
	return v
}

// Named sets a display name used only by String(); it has no bearing on
// identity or equality.
func (v *Variable) Named(name string) *Variable { v.name = name; return v }

// ValueID returns the VarID this Variable binds on emission.
func (v *Variable) ValueID() expr.VarID { return v.vid }

func (v *Variable) String() string {
	if v.name != "" {
		return fmt.Sprintf("Variable(%s:%s)", v.name, v.typ)
	}
	return fmt.Sprintf("Variable(%s:%s)", v.vid, v.typ)
}

// Step emits one (binding, true) per domain element that passes the
// implicit type check, per spec.md §4.2.
func (v *Variable) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		domain := v.explicit
		if domain == nil {
			domain = ctx.Snapshot(v.typ)
		}
		for _, d := range domain {
			if !hostbridge.IsA(d, v.typ) {
				continue // implicit HasType check: suppress, don't error
			}
			if !yield(expr.Result{Binding: in.With(v.vid, d), Truth: true}) {
				return
			}
		}
	}
}

// Literal is the `variable_from(domain)` node of spec.md §5's supplemented
// feature set: it wraps a concrete Go value or slice of values directly,
// with no type filter — the caller already knows every element belongs,
// unlike Variable's implicit HasType check.
type Literal struct {
	expr.Base
	vid    expr.VarID
	domain []any
	name   string
}

// NewLiteral registers a Literal ranging over domain, in order.
func NewLiteral(a *expr.Arena, domain ...any) *Literal {
	l := &Literal{vid: binding.NewVarID(), domain: domain}
	a.Register(&l.Base, l)
	l.SetFlags(expr.Flags{TruthValued: true, Selectable: true})
	return l
}

// Named sets a display name used only by String().
func (l *Literal) Named(name string) *Literal { l.name = name; return l }

// ValueID returns the VarID this Literal binds on emission.
func (l *Literal) ValueID() expr.VarID { return l.vid }

func (l *Literal) String() string {
	if l.name != "" {
		return fmt.Sprintf("Literal(%s)", l.name)
	}
	return fmt.Sprintf("Literal(%s)", l.vid)
}

// Step emits one (binding, true) per element of domain, unfiltered.
func (l *Literal) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		for _, d := range l.domain {
			if !yield(expr.Result{Binding: in.With(l.vid, d), Truth: true}) {
				return
			}
		}
	}
}

// Concatenate is the `concatenate(*domains)` node of spec.md §5's
// supplemented feature set: a Variable-shaped identity whose domain is
// the union of its children's domains, each sub-domain pulled lazily and
// in attachment order rather than materialised up front.
type Concatenate struct {
	expr.Base
	vid expr.VarID
	vs  []ValueNode
}

// NewConcatenate registers a Concatenate over vs, in order.
func NewConcatenate(a *expr.Arena, vs ...ValueNode) *Concatenate {
	c := &Concatenate{vid: binding.NewVarID(), vs: vs}
	a.Register(&c.Base, c)
	for _, v := range vs {
		if err := a.Attach(c, v); err != nil {
			panic(err)
		}
	}
	c.SetFlags(expr.Flags{TruthValued: true, Selectable: true})
	return c
}

// ValueID returns the VarID this Concatenate binds on emission.
func (c *Concatenate) ValueID() expr.VarID { return c.vid }

func (c *Concatenate) String() string { return fmt.Sprintf("Concatenate(%d)", len(c.vs)) }

// Step pulls each child's emitted stream in order, re-binding its value
// under this node's own VarID, and stops early once the caller stops
// consuming or the context aborts.
func (c *Concatenate) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		for _, v := range c.vs {
			if ctx.Aborted() {
				return
			}
			cont := true
			expr.Evaluate(v, ctx, in)(func(r expr.Result) bool {
				if !r.Truth {
					return true
				}
				val, ok := r.Binding.Lookup(v.ValueID())
				if !ok {
					return true
				}
				if !yield(expr.Result{Binding: in.With(c.vid, val), Truth: true}) {
					cont = false
					return false
				}
				return true
			})
			if !cont {
				return
			}
		}
	}
}

// op identifies a MappedVariable's navigation kind.
type op string

const (
	opAttribute op = "attr"
	opIndex     op = "index"
	opCall      op = "call"
	opFlat      op = "flat"
)

// Arg is one argument to a Call MappedVariable: either a literal value or
// a reference to another ValueNode resolved from the current binding.
type Arg struct {
	Literal any
	Ref     ValueNode
}

func (a Arg) resolve(in expr.Binding) (any, error) {
	if a.Ref == nil {
		return a.Literal, nil
	}
	v, ok := in.Lookup(a.Ref.ValueID())
	if !ok {
		return nil, fmt.Errorf("variable: unresolved argument reference %s", a.Ref)
	}
	return v, nil
}

// MappedVariable is the Unary transformer of spec.md §4.2: Attribute,
// Index, Call, or Flat navigation over its parent's emitted value.
type MappedVariable struct {
	expr.Base
	vid    expr.VarID
	parent ValueNode
	kind   op

	attrName string
	indexKey any
	method   string
	args     []Arg
	kwargs   map[string]Arg
}

func newMapped(a *expr.Arena, parent ValueNode, kind op, cacheKey string, build func() *MappedVariable) *MappedVariable {
	n := a.InternMapped(parent, string(kind), cacheKey, func() expr.Node {
		m := build()
		m.vid = binding.NewVarID()
		a.Register(&m.Base, m)
		m.SetFlags(expr.Flags{Selectable: true})
		if err := a.Attach(parent, m); err != nil {
			// unreachable in practice: parent was already registered in a,
			// and a fresh MappedVariable cannot create a cycle.
			panic(err)
		}
		return m
	})
	return n.(*MappedVariable)
}

// NewAttribute returns the (cached, per I4) MappedVariable that reads
// parent.<name>.
func NewAttribute(a *expr.Arena, parent ValueNode, name string) *MappedVariable {
	return newMapped(a, parent, opAttribute, name, func() *MappedVariable {
		return &MappedVariable{parent: parent, kind: opAttribute, attrName: name}
	})
}

// NewIndex returns the (cached, per I4) MappedVariable that reads
// parent[key].
func NewIndex(a *expr.Arena, parent ValueNode, key any) *MappedVariable {
	return newMapped(a, parent, opIndex, fmt.Sprintf("%v", key), func() *MappedVariable {
		return &MappedVariable{parent: parent, kind: opIndex, indexKey: key}
	})
}

// NewCall returns the (cached, per I4) MappedVariable that invokes
// parent.method(args..., kwargs...), resolving symbolic arguments from the
// current binding at Step time.
func NewCall(a *expr.Arena, parent ValueNode, method string, args []Arg, kwargs map[string]Arg) *MappedVariable {
	return newMapped(a, parent, opCall, callCacheKey(method, args, kwargs), func() *MappedVariable {
		return &MappedVariable{parent: parent, kind: opCall, method: method, args: args, kwargs: kwargs}
	})
}

// NewFlat returns the (cached, per I4) MappedVariable that emits one
// binding per element of parent's iterable value.
func NewFlat(a *expr.Arena, parent ValueNode) *MappedVariable {
	return newMapped(a, parent, opFlat, "", func() *MappedVariable {
		return &MappedVariable{parent: parent, kind: opFlat}
	})
}

func callCacheKey(method string, args []Arg, kwargs map[string]Arg) string {
	s := method
	for _, a := range args {
		if a.Ref != nil {
			s += fmt.Sprintf("|ref:%v", a.Ref.ValueID())
		} else {
			s += fmt.Sprintf("|lit:%v", a.Literal)
		}
	}
	for k, a := range kwargs {
		if a.Ref != nil {
			s += fmt.Sprintf("|%s=ref:%v", k, a.Ref.ValueID())
		} else {
			s += fmt.Sprintf("|%s=lit:%v", k, a.Literal)
		}
	}
	return s
}

// ValueID returns the VarID this MappedVariable binds on emission.
func (m *MappedVariable) ValueID() expr.VarID { return m.vid }

func (m *MappedVariable) String() string {
	switch m.kind {
	case opAttribute:
		return fmt.Sprintf("Attribute(%s.%s)", m.parent, m.attrName)
	case opIndex:
		return fmt.Sprintf("Index(%s[%v])", m.parent, m.indexKey)
	case opCall:
		return fmt.Sprintf("Call(%s.%s(...))", m.parent, m.method)
	default:
		return fmt.Sprintf("Flat(%s)", m.parent)
	}
}

// Step pulls from the parent's emitted stream and applies this node's
// navigation to each emission, per spec.md §4.2. Resolution failures
// (missing attribute, bad index, raised call, non-iterable flatten) route
// through expr.HandleResolutionError: absorbed into a false emission
// inside NOT/an absorbing predicate, otherwise abort the whole evaluation.
func (m *MappedVariable) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		expr.Evaluate(m.parent, ctx, in)(func(r expr.Result) bool {
			pv, ok := r.Binding.Lookup(m.parent.ValueID())
			if !ok {
				return true
			}

			switch m.kind {
			case opAttribute:
				val, err := hostbridge.GetAttr(pv, m.attrName)
				if err != nil {
					expr.HandleResolutionError(ctx, m.String(), eqlerr.KindSymbolicResolutionError, err, r.Binding, yield)
					return !ctx.Aborted()
				}
				return yield(expr.Result{Binding: r.Binding.With(m.vid, val), Truth: true})

			case opIndex:
				val, err := hostbridge.GetIndex(pv, m.indexKey)
				if err != nil {
					expr.HandleResolutionError(ctx, m.String(), eqlerr.KindSymbolicResolutionError, err, r.Binding, yield)
					return !ctx.Aborted()
				}
				return yield(expr.Result{Binding: r.Binding.With(m.vid, val), Truth: true})

			case opCall:
				posArgs := make([]any, len(m.args))
				for i, a := range m.args {
					v, err := a.resolve(r.Binding)
					if err != nil {
						expr.HandleResolutionError(ctx, m.String(), eqlerr.KindSymbolicResolutionError, err, r.Binding, yield)
						return !ctx.Aborted()
					}
					posArgs[i] = v
				}
				kwArgs := make(map[string]any, len(m.kwargs))
				for k, a := range m.kwargs {
					v, err := a.resolve(r.Binding)
					if err != nil {
						expr.HandleResolutionError(ctx, m.String(), eqlerr.KindSymbolicResolutionError, err, r.Binding, yield)
						return !ctx.Aborted()
					}
					kwArgs[k] = v
				}
				val, err := hostbridge.Invoke(pv, m.method, posArgs, kwArgs)
				if err != nil {
					expr.HandleResolutionError(ctx, m.String(), eqlerr.KindSymbolicResolutionError, err, r.Binding, yield)
					return !ctx.Aborted()
				}
				return yield(expr.Result{Binding: r.Binding.With(m.vid, val), Truth: true})

			default: // opFlat
				elems, err := hostbridge.Flatten(pv)
				if err != nil {
					expr.HandleResolutionError(ctx, m.String(), eqlerr.KindSymbolicResolutionError, err, r.Binding, yield)
					return !ctx.Aborted()
				}
				cont := true
				stream.Of(elems...)(func(e any) bool {
					if !yield(expr.Result{Binding: r.Binding.With(m.vid, e), Truth: true}) {
						cont = false
						return false
					}
					return true
				})
				return cont
			}
		})
	}
}
