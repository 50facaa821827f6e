// Package expr implements the symbolic expression DAG of spec.md §4.1: an
// immutable-after-build set of nodes with typed child slots, parent
// back-references, capability flags, and a two-phase build→frozen
// lifecycle.
//
// The design follows spec.md §9's "Cyclic parent/child references →
// arena + identity" note: nodes are held in an Arena keyed by opaque
// NodeID, attach() records children/parents on each node's embedded Base,
// and freezing is a single flag flip on the Arena (I1).
package expr

import "fmt"

// NodeID is a node's identity within its owning Arena.
type NodeID int

// Flags carries the three capability bits spec.md §3 assigns every node.
type Flags struct {
	TruthValued bool // the node's Step emits meaningful Truth values
	Derived     bool // the node may require buffering (sort/distinct/aggregate)
	Selectable  bool // the node's value may appear in a select/ordered_by/having clause
}

// Node is the public surface every DAG element implements. Concrete kinds
// (Variable, MappedVariable, And, Or, Not, Comparator, Predicate, ...)
// embed Base for the identity/children/parents/flags bookkeeping and add
// their own Step and String.
type Node interface {
	ID() NodeID
	Children() []Node
	Parents() []Node
	Flags() Flags
	fmt.Stringer
	Stepper
}

// Stepper is the one method spec.md §4.1 says subclasses implement: the
// per-node algorithm. Evaluate (in eval.go) wraps Step with the logging
// and abort handling the public driver owns.
type Stepper interface {
	Step(ctx *Context, in Binding) Seq
}

// Base is embedded by every concrete node kind. It owns arena-assigned
// identity and the attach-time-populated children/parents slices; it
// never participates in Step/String, which concrete kinds always define
// themselves.
type Base struct {
	id       NodeID
	arena    *Arena
	children []Node
	parents  []Node
	flags    Flags
}

func (b *Base) ID() NodeID        { return b.id }
func (b *Base) Children() []Node  { return b.children }
func (b *Base) Parents() []Node   { return b.parents }
func (b *Base) Flags() Flags      { return b.flags }
func (b *Base) SetFlags(f Flags)  { b.flags = f }
func (b *Base) Arena() *Arena     { return b.arena }
func (b *Base) baseRef() *Base    { return b }
