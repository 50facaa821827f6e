package expr

import (
	"reflect"

	"github.com/go-logr/logr"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/eqlerr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/symbolgraph"
)

// Context carries everything a single Evaluate() call threads through the
// DAG: the logger (ambient stack, matching the teacher's logr.Logger
// threading through pipeline.Engine/expression.EvalCtx), the SymbolGraph
// to resolve implicit-domain variables against, the abort/absorb
// side-channel that stands in for exception propagation (spec.md §7), and
// the per-evaluation implicit-domain snapshot (Open Question #1 in
// DESIGN.md: snapshot once per Evaluate call, not once per query).
type Context struct {
	Log   logr.Logger
	Graph *symbolgraph.Graph

	err       error
	absorb    int
	snapshots map[reflect.Type][]any
}

// NewContext creates a fresh per-Evaluate context.
func NewContext(log logr.Logger, graph *symbolgraph.Graph) *Context {
	if graph == nil {
		graph = symbolgraph.Default()
	}
	return &Context{Log: log, Graph: graph, snapshots: map[reflect.Type][]any{}}
}

// Fail records the first error that aborts the stream. Once set, every
// well-behaved combinator stops pulling further children for the current
// Evaluate call.
func (c *Context) Fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Err returns the first error that aborted the stream, if any.
func (c *Context) Err() error { return c.err }

// Aborted reports whether a non-absorbed error has already stopped this
// evaluation; combinators check this before pulling further children.
func (c *Context) Aborted() bool { return c.err != nil }

// Absorbing reports whether the immediately enclosing scope (NOT, or an
// absorbing predicate) will convert a resolution/user-callable error into
// a false emission instead of propagating it (spec.md §7).
func (c *Context) Absorbing() bool { return c.absorb > 0 }

// WithAbsorbing runs fn with resolution errors absorbed rather than
// propagated, then restores the previous absorbing depth. NOT and
// absorbing predicates wrap their child Step calls with this.
func (c *Context) WithAbsorbing(fn func()) {
	c.absorb++
	defer func() { c.absorb-- }()
	fn()
}

// Snapshot returns the SymbolGraph instances of t, taken once per
// Context (i.e. once per Evaluate call) and cached for the remainder of
// that call (I5).
func (c *Context) Snapshot(t reflect.Type) []any {
	if s, ok := c.snapshots[t]; ok {
		return s
	}
	s := c.Graph.InstancesAssignableTo(t)
	c.snapshots[t] = s
	return s
}

// HandleResolutionError is the shared policy point for every node that
// can fail mid-evaluation (MappedVariable navigation, predicate/function
// invocation, comparator/fold coercion): if the current scope absorbs,
// emit (in, false) via yield; otherwise mark the context aborted with an
// error of the given kind and let the caller's loop observe
// ctx.Aborted() on the next iteration. Callers pass
// eqlerr.KindSymbolicResolutionError for a true navigation/coercion
// failure and eqlerr.KindUserCallableError when the failure originated
// from a user-supplied Predicate/SymbolicFunction callable raising
// (spec.md §7 treats these as distinct kinds).
func HandleResolutionError(c *Context, path string, kind eqlerr.Kind, cause error, in Binding, yield func(Result) bool) {
	if c.Absorbing() {
		yield(Result{Binding: in, Truth: false})
		return
	}
	if kind == eqlerr.KindUserCallableError {
		c.Fail(eqlerr.NewUserCallableError(path, cause))
		return
	}
	c.Fail(eqlerr.NewSymbolicResolutionError(path, cause))
}
