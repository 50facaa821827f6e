// Package binding implements the (binding, truth) tuple that flows between
// expression nodes during query evaluation.
package binding

import (
	"fmt"
	"sync/atomic"

	"github.com/grokify/mogo/encoding/base36"
	"k8s.io/apimachinery/pkg/api/equality"
)

// VarID is a stable opaque token assigned at variable creation. It is never
// derived from a variable's value or display name, only from the order in
// which variables were constructed process-wide.
type VarID struct {
	n int64
}

var varCounter atomic.Int64

// NewVarID mints a fresh, process-wide unique variable identity.
func NewVarID() VarID {
	return VarID{n: varCounter.Add(1)}
}

// String renders the identity as a short, stable base36 token derived from
// its sequence number, e.g. "v-1a2b3c4d". It exists purely for diagnostics
// (error paths, String() on nodes); it is never used for identity
// comparison.
func (id VarID) String() string {
	return "v-" + base36.Md5Base36(fmt.Sprintf("%d", id.n))[:8]
}

// Binding is a finite, immutable mapping from variable identity to a
// concrete host-object value. Binding values are never mutated in place;
// Merge/With always return a new Binding, which keeps bindings safe to
// share across branches of the cartesian-product combinator.
type Binding struct {
	values map[VarID]any
}

// Empty is the binding with no assignments.
var Empty = Binding{}

// With returns a new Binding that extends b with id ↦ value. It does not
// check compatibility with any existing assignment for id; callers that
// need the compatibility check should use Merge.
func (b Binding) With(id VarID, value any) Binding {
	out := make(map[VarID]any, len(b.values)+1)
	for k, v := range b.values {
		out[k] = v
	}
	out[id] = value
	return Binding{values: out}
}

// Lookup returns the value bound to id and whether it is present.
func (b Binding) Lookup(id VarID) (any, bool) {
	if b.values == nil {
		return nil, false
	}
	v, ok := b.values[id]
	return v, ok
}

// Len reports the number of assignments.
func (b Binding) Len() int { return len(b.values) }

// Ids returns the set of variable identities assigned in b.
func (b Binding) Ids() []VarID {
	ids := make([]VarID, 0, len(b.values))
	for id := range b.values {
		ids = append(ids, id)
	}
	return ids
}

// Equal reports whether two values are host-equal. It is used both for
// binding-merge compatibility and for Comparator's == / != semantics, and
// defers to apimachinery's semantic deep-equal so structural equality
// between arbitrary nested Go values (slices, maps, structs) behaves the
// way spec.md's "host equality" requires.
func Equal(a, b any) bool {
	return equality.Semantic.DeepEqual(a, b)
}

// Merge combines two bindings. It succeeds (ok == true) iff a and b agree
// on every identity they share, per spec.md §4.3's compatibility rule.
func Merge(a, b Binding) (Binding, bool) {
	if len(a.values) == 0 {
		return b, true
	}
	if len(b.values) == 0 {
		return a, true
	}
	out := make(map[VarID]any, len(a.values)+len(b.values))
	for k, v := range a.values {
		out[k] = v
	}
	for k, v := range b.values {
		if existing, ok := out[k]; ok && !Equal(existing, v) {
			return Binding{}, false
		}
		out[k] = v
	}
	return Binding{values: out}, true
}

// Result is the OperationResult of spec.md §3: a binding plus a truth
// value. A false result still carries its binding so that logical
// composition can observe the context that failed.
type Result struct {
	Binding Binding
	Truth   bool
}

func (r Result) String() string {
	return fmt.Sprintf("{binding=%v truth=%v}", r.Binding.values, r.Truth)
}
