// Package predicate lifts user-supplied Go callables into the expression
// DAG, per spec.md §4.6: a Predicate wraps a callable returning bool, a
// SymbolicFunction wraps a callable returning a value. Both resolve their
// symbolic arguments from the current binding before invoking.
//
// The "wrap a user callable, invoke by reflection, emit false and absorb
// unless every branch fails" shape is grounded on the teacher's
// pkg/expression @filter/@any/@all ops (expression.go), which invoke a
// user-supplied sub-expression per element and fold the boolean results —
// generalised here from a fixed fold op to an arbitrary arity-n Go
// function.
package predicate

import (
	"fmt"
	"reflect"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/binding"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/eqlerr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/hostbridge"
)

// ValueNode is any node producing a value under a VarID.
type ValueNode interface {
	expr.Node
	ValueID() expr.VarID
}

// Predicate is the n-ary node of spec.md §4.6 wrapping a user callable
// that returns bool. It resolves its args from the current binding,
// invokes fn, and emits. If fn errors (the Go analogue of "the callable
// raises"), the failure routes through expr.HandleResolutionError: a
// false emission inside an absorbing scope (so a negated failing
// predicate may succeed), otherwise a UserCallableError.
type Predicate struct {
	expr.Base
	name string
	fn   reflect.Value
	args []ValueNode
}

// NewPredicate lifts fn (a func(...) bool, or func(...) (bool, error))
// over args into the DAG.
func NewPredicate(a *expr.Arena, name string, fn any, args ...ValueNode) *Predicate {
	n := &Predicate{name: name, fn: reflect.ValueOf(fn), args: args}
	a.Register(&n.Base, n)
	for _, arg := range args {
		if err := a.Attach(n, arg); err != nil {
			panic(err)
		}
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (p *Predicate) String() string { return fmt.Sprintf("Predicate(%s)", p.name) }

func (p *Predicate) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		product(ctx, p.args, in, func(merged expr.Binding) bool {
			vals := resolve(merged, p.args)
			truth, err := invokeBool(p.fn, vals)
			if err != nil {
				expr.HandleResolutionError(ctx, p.String(), eqlerr.KindUserCallableError, err, merged, yield)
				return !ctx.Aborted()
			}
			return yield(expr.Result{Binding: merged, Truth: truth})
		})
	}
}

// SymbolicFunction is the n-ary node of spec.md §4.6 wrapping a user
// callable that returns a value rather than a truth.
type SymbolicFunction struct {
	expr.Base
	vid  expr.VarID
	name string
	fn   reflect.Value
	args []ValueNode
}

// NewSymbolicFunction lifts fn (a func(...) any, or func(...) (any,
// error)) over args into the DAG.
func NewSymbolicFunction(a *expr.Arena, name string, fn any, args ...ValueNode) *SymbolicFunction {
	n := &SymbolicFunction{vid: binding.NewVarID(), name: name, fn: reflect.ValueOf(fn), args: args}
	a.Register(&n.Base, n)
	for _, arg := range args {
		if err := a.Attach(n, arg); err != nil {
			panic(err)
		}
	}
	n.SetFlags(expr.Flags{Selectable: true})
	return n
}

func (f *SymbolicFunction) ValueID() expr.VarID { return f.vid }
func (f *SymbolicFunction) String() string      { return fmt.Sprintf("SymbolicFunction(%s)", f.name) }

func (f *SymbolicFunction) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		product(ctx, f.args, in, func(merged expr.Binding) bool {
			vals := resolve(merged, f.args)
			out, err := invokeValue(f.fn, vals)
			if err != nil {
				expr.HandleResolutionError(ctx, f.String(), eqlerr.KindUserCallableError, err, merged, yield)
				return !ctx.Aborted()
			}
			return yield(expr.Result{Binding: merged.With(f.vid, out), Truth: true})
		})
	}
}

// product cartesian-products args' emissions over acc, calling visit with
// each compatible merged binding where every arg emission was true. It is
// the same recurse(i, acc) schema as combinator.And, duplicated here
// rather than imported to avoid a combinator<->predicate import cycle
// (predicates are themselves valid combinator children).
func product(ctx *expr.Context, args []ValueNode, in expr.Binding, visit func(expr.Binding) bool) {
	var recurse func(i int, acc expr.Binding) bool
	recurse = func(i int, acc expr.Binding) bool {
		if ctx.Aborted() {
			return false
		}
		if i == len(args) {
			return visit(acc)
		}
		cont := true
		expr.Evaluate(args[i], ctx, acc)(func(e expr.Result) bool {
			if !e.Truth {
				return true
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

func resolve(b expr.Binding, args []ValueNode) []any {
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i], _ = b.Lookup(a.ValueID())
	}
	return vals
}

func invokeBool(fn reflect.Value, args []any) (bool, error) {
	out, err := call(fn, args)
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, fmt.Errorf("predicate: callable returned no value")
	}
	b, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("predicate: callable returned %T, want bool", out[0])
	}
	return b, nil
}

func invokeValue(fn reflect.Value, args []any) (any, error) {
	out, err := call(fn, args)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// call invokes fn via reflection, converting a trailing error return value
// into a Go error rather than a value, mirroring the "if the callable
// raises" branch of spec.md §4.6 with Go's idiomatic (value, error)
// convention standing in for exceptions.
func call(fn reflect.Value, args []any) ([]any, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("predicate: not a callable: %v", fn)
	}
	t := fn.Type()
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil && i < t.NumIn() {
			in[i] = reflect.Zero(t.In(i))
			continue
		}
		av := reflect.ValueOf(a)
		if i < t.NumIn() && av.Type() != t.In(i) && av.Type().ConvertibleTo(t.In(i)) {
			av = av.Convert(t.In(i))
		}
		in[i] = av
	}
	out := fn.Call(in)
	if n := len(out); n > 0 && t.Out(n-1) == errType {
		if errVal, _ := out[n-1].Interface().(error); errVal != nil {
			return nil, errVal
		}
		out = out[:n-1]
	}
	vals := make([]any, len(out))
	for i, o := range out {
		vals[i] = o.Interface()
	}
	return vals, nil
}

// HasType is the built-in predicate of spec.md §4.6: truth iff
// is_a(binding[v], T).
type HasType struct {
	expr.Base
	v   ValueNode
	typ reflect.Type
}

func NewHasType(a *expr.Arena, v ValueNode, typ reflect.Type) *HasType {
	n := &HasType{v: v, typ: typ}
	a.Register(&n.Base, n)
	if err := a.Attach(n, v); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (h *HasType) String() string { return fmt.Sprintf("HasType(%s)", h.typ) }

func (h *HasType) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		expr.Evaluate(h.v, ctx, in)(func(e expr.Result) bool {
			if !e.Truth {
				return true
			}
			val, _ := e.Binding.Lookup(h.v.ValueID())
			return yield(expr.Result{Binding: e.Binding, Truth: hostbridge.IsA(val, h.typ)})
		})
	}
}

// IsSubClassOf is the built-in predicate testing whether binding[v]'s
// dynamic type is a sub-class of (assignable to, or implements) parent.
type IsSubClassOf struct {
	expr.Base
	v      ValueNode
	parent reflect.Type
}

func NewIsSubClassOf(a *expr.Arena, v ValueNode, parent reflect.Type) *IsSubClassOf {
	n := &IsSubClassOf{v: v, parent: parent}
	a.Register(&n.Base, n)
	if err := a.Attach(n, v); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (s *IsSubClassOf) String() string { return fmt.Sprintf("IsSubClassOf(%s)", s.parent) }

func (s *IsSubClassOf) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		expr.Evaluate(s.v, ctx, in)(func(e expr.Result) bool {
			if !e.Truth {
				return true
			}
			val, _ := e.Binding.Lookup(s.v.ValueID())
			t := reflect.TypeOf(val)
			return yield(expr.Result{Binding: e.Binding, Truth: hostbridge.IsSubClassOf(t, s.parent)})
		})
	}
}

// HasAttribute is the built-in predicate testing whether binding[v] has a
// field or method named name.
type HasAttribute struct {
	expr.Base
	v    ValueNode
	name string
}

func NewHasAttribute(a *expr.Arena, v ValueNode, name string) *HasAttribute {
	n := &HasAttribute{v: v, name: name}
	a.Register(&n.Base, n)
	if err := a.Attach(n, v); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{TruthValued: true})
	return n
}

func (h *HasAttribute) String() string { return fmt.Sprintf("HasAttribute(%s)", h.name) }

func (h *HasAttribute) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		expr.Evaluate(h.v, ctx, in)(func(e expr.Result) bool {
			if !e.Truth {
				return true
			}
			val, _ := e.Binding.Lookup(h.v.ValueID())
			return yield(expr.Result{Binding: e.Binding, Truth: hostbridge.HasAttribute(val, h.name)})
		})
	}
}

// Length is the built-in symbolic function of spec.md §4.6 returning the
// size of a collection.
type Length struct {
	expr.Base
	vid expr.VarID
	c   ValueNode
}

func NewLength(a *expr.Arena, c ValueNode) *Length {
	n := &Length{vid: binding.NewVarID(), c: c}
	a.Register(&n.Base, n)
	if err := a.Attach(n, c); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{Selectable: true})
	return n
}

func (l *Length) ValueID() expr.VarID { return l.vid }
func (l *Length) String() string      { return "Length" }

func (l *Length) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		expr.Evaluate(l.c, ctx, in)(func(e expr.Result) bool {
			if !e.Truth {
				return true
			}
			val, _ := e.Binding.Lookup(l.c.ValueID())
			n, err := hostbridge.Length(val)
			if err != nil {
				expr.HandleResolutionError(ctx, l.String(), eqlerr.KindSymbolicResolutionError, err, e.Binding, yield)
				return !ctx.Aborted()
			}
			return yield(expr.Result{Binding: e.Binding.With(l.vid, n), Truth: true})
		})
	}
}

// TypeOf is the built-in symbolic function returning the dynamic
// reflect.Type of binding[v].
type TypeOf struct {
	expr.Base
	vid expr.VarID
	v   ValueNode
}

func NewTypeOf(a *expr.Arena, v ValueNode) *TypeOf {
	n := &TypeOf{vid: binding.NewVarID(), v: v}
	a.Register(&n.Base, n)
	if err := a.Attach(n, v); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{Selectable: true})
	return n
}

func (t *TypeOf) ValueID() expr.VarID { return t.vid }
func (t *TypeOf) String() string      { return "TypeOf" }

func (t *TypeOf) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		expr.Evaluate(t.v, ctx, in)(func(e expr.Result) bool {
			if !e.Truth {
				return true
			}
			val, _ := e.Binding.Lookup(t.v.ValueID())
			return yield(expr.Result{Binding: e.Binding.With(t.vid, reflect.TypeOf(val)), Truth: true})
		})
	}
}

// ToStr is the built-in symbolic function returning fmt.Sprint(v).
type ToStr struct {
	expr.Base
	vid expr.VarID
	v   ValueNode
}

func NewToStr(a *expr.Arena, v ValueNode) *ToStr {
	n := &ToStr{vid: binding.NewVarID(), v: v}
	a.Register(&n.Base, n)
	if err := a.Attach(n, v); err != nil {
		panic(err)
	}
	n.SetFlags(expr.Flags{Selectable: true})
	return n
}

func (s *ToStr) ValueID() expr.VarID { return s.vid }
func (s *ToStr) String() string      { return "ToStr" }

func (s *ToStr) Step(ctx *expr.Context, in expr.Binding) expr.Seq {
	return func(yield func(expr.Result) bool) {
		expr.Evaluate(s.v, ctx, in)(func(e expr.Result) bool {
			if !e.Truth {
				return true
			}
			val, _ := e.Binding.Lookup(s.v.ValueID())
			return yield(expr.Result{Binding: e.Binding.With(s.vid, fmt.Sprint(val)), Truth: true})
		})
	}
}
