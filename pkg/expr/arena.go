package expr

import "fmt"

// Arena owns every node created during one query's build phase. attach()
// is the sole mutation path (I1); Freeze flips one bit that every
// subsequent attach/clause-mutation attempt checks (P6).
type Arena struct {
	nodes  []Node
	frozen bool
	mapped map[mappedKey]Node
}

// mappedKey implements I4/the spec's caching invariant: within one query
// build, the same symbolic path (same parent identity + same operation +
// same key) resolves to the same MappedVariable object.
type mappedKey struct {
	parent NodeID
	op     string
	key    string
}

// InternMapped returns the existing node registered for (parent, op, key)
// in this arena, or calls factory to create and register one. Callers
// (pkg/variable's MappedVariable constructors) pass a factory rather than
// a pre-built node so that a cache hit never constructs (and discards) a
// throwaway node.
func (a *Arena) InternMapped(parent Node, op, key string, factory func() Node) Node {
	if a.mapped == nil {
		a.mapped = map[mappedKey]Node{}
	}
	k := mappedKey{parent: parent.ID(), op: op, key: key}
	if n, ok := a.mapped[k]; ok {
		return n
	}
	n := factory()
	a.mapped[k] = n
	return n
}

// NewArena creates an empty, unfrozen arena for a single query build.
func NewArena() *Arena {
	return &Arena{}
}

// Register assigns base a fresh NodeID in the arena and records the node.
// Concrete constructors call this once, before wiring up any children.
func (a *Arena) Register(base *Base, n Node) {
	base.arena = a
	base.id = NodeID(len(a.nodes))
	a.nodes = append(a.nodes, n)
}

// Frozen reports whether build() has completed on this arena.
func (a *Arena) Frozen() bool { return a.frozen }

// Freeze transitions every node in the arena to frozen. Called exactly
// once, at the end of Query.Build().
func (a *Arena) Freeze() { a.frozen = true }

// Nodes returns every node registered in the arena, in creation order.
func (a *Arena) Nodes() []Node { return a.nodes }

// Attach links child under parent: it appends child to parent's children
// and parent to child's parents (I2), after checking I3 (no cycle) and
// the frozen guard (I1/P6).
func (a *Arena) Attach(parent Node, child Node) error {
	if a.frozen {
		return fmt.Errorf("cannot attach %s under %s: %w", child, parent, errFrozen)
	}
	if reachable(child, parent) {
		return fmt.Errorf("attaching %s under %s would create a cycle", child, parent)
	}

	if pb := baseOf(parent); pb != nil {
		pb.children = append(pb.children, child)
	}
	if cb := baseOf(child); cb != nil {
		cb.parents = append(cb.parents, parent)
	}
	return nil
}

var errFrozen = fmt.Errorf("query structure frozen")

// reachable reports whether target is reachable from start by following
// children edges, i.e. whether attaching target as an ancestor of start
// would close a cycle (I3).
func reachable(start, target Node) bool {
	if start.ID() == target.ID() {
		return true
	}
	seen := map[NodeID]bool{}
	var walk func(n Node) bool
	walk = func(n Node) bool {
		if n.ID() == target.ID() {
			return true
		}
		if seen[n.ID()] {
			return false
		}
		seen[n.ID()] = true
		for _, c := range n.Children() {
			if walk(c) {
				return true
			}
		}
		return false
	}
	return walk(start)
}

// baseOf extracts the embedded *Base from a Node, if the concrete type
// exposes one via the baseHolder interface. Every concrete node kind in
// this module does.
type baseHolder interface {
	baseRef() *Base
}

func baseOf(n Node) *Base {
	if bh, ok := n.(baseHolder); ok {
		return bh.baseRef()
	}
	return nil
}
