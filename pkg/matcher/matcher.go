// Package matcher implements spec.md §4.9's structural match builder:
// match(T)(k=v, ...) sugar for HasType(target, T) ∧ target.k == v ∧ ...,
// where a nested match value introduces a fresh anonymous variable and
// recurses, and match_variable additionally binds the anonymous target to
// a caller-supplied variable.
package matcher

import (
	"reflect"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/combinator"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/predicate"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/variable"
)

// Field is one k=v clause of a match expression. Value is either a
// concrete literal (compared with ==) or a *Spec describing a nested
// match, which introduces a fresh anonymous variable bound to
// target.<Name> and recurses.
type Field struct {
	Name  string
	Value any
}

// Spec describes match(T)(fields...); it is lowered into a DAG by Build.
type Spec struct {
	Type   reflect.Type
	Fields []Field
	domain []any // explicit domain for the target variable; nil => implicit
}

// Match builds a Spec for a fresh anonymous target variable of type t.
func Match(t reflect.Type, fields ...Field) *Spec {
	return &Spec{Type: t, Fields: fields}
}

// WithDomain restricts the target variable's domain (NewVariable rather
// than NewImplicitVariable).
func (s *Spec) WithDomain(domain ...any) *Spec {
	s.domain = domain
	return s
}

// Build lowers s into HasType(target) ∧ target.k==v ∧ ... under a, and
// returns the target variable alongside the conjunction node so a caller
// can select on the target and constrain elsewhere on it.
func Build(a *expr.Arena, s *Spec) (*variable.Variable, expr.Node) {
	target := newTarget(a, s)
	return target, buildFieldsWithHasType(a, target, s.Type, s.Fields)
}

// BuildVariable is match_variable(T, domain=D)(...): like Build, but binds
// the anonymous target to a variable the caller already holds a
// reference to (v), rather than minting a fresh one.
func BuildVariable(a *expr.Arena, v *variable.Variable, typ reflect.Type, fields ...Field) expr.Node {
	hasType := predicate.NewHasType(a, v, typ)
	fieldNode := buildFields(a, v, fields)
	if fieldNode == nil {
		return hasType
	}
	return combinator.NewAnd(a, hasType, fieldNode)
}

func newTarget(a *expr.Arena, s *Spec) *variable.Variable {
	if s.domain != nil {
		return variable.NewVariable(a, s.Type, s.domain)
	}
	return variable.NewImplicitVariable(a, s.Type)
}

// buildFields lowers each k=v clause into a comparator (or nested match
// conjunction) and conjoins them. It adds no HasType(target, T) check;
// its callers conjoin that themselves. Returns nil if there are no fields.
func buildFields(a *expr.Arena, target variable.ValueNode, fields []Field) expr.Node {
	var clauses []expr.Node
	for _, f := range fields {
		attr := variable.NewAttribute(a, target, f.Name)
		if nested, ok := f.Value.(*Spec); ok {
			nestedTarget, nestedConj := Build(a, nested)
			eq := combinator.NewComparator(a, combinator.OpEq, attr, nestedTarget)
			clauses = append(clauses, eq, nestedConj)
			continue
		}
		lit := variable.NewVariable(a, reflect.TypeOf(f.Value), []any{f.Value})
		clauses = append(clauses, combinator.NewComparator(a, combinator.OpEq, attr, lit))
	}
	if len(clauses) == 0 {
		return nil
	}
	return combinator.NewAnd(a, clauses...)
}

// buildFieldsWithHasType conjoins HasType(target, typ) with buildFields'
// attribute-equality clauses; Build always wants the type check even when
// Fields is empty, since an anonymous match target has no other
// constraint tying it to typ.
func buildFieldsWithHasType(a *expr.Arena, target *variable.Variable, typ reflect.Type, fields []Field) expr.Node {
	hasType := predicate.NewHasType(a, target, typ)
	fieldNode := buildFields(a, target, fields)
	if fieldNode == nil {
		return hasType
	}
	return combinator.NewAnd(a, hasType, fieldNode)
}
