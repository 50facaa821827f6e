// Package symbolgraph implements the process-wide SymbolGraph of spec.md
// §3/§6: a mapping from type T to the set of live instances of T that
// opted in by registering themselves at construction.
//
// It is adapted from the teacher's pkg/cache.Store, which wraps
// k8s.io/client-go/tools/cache.Store with deep-copy-free bookkeeping for a
// single Kubernetes GroupVersionKind; here one such store is kept per Go
// type, keyed by the type's reflect.Type.
package symbolgraph

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	toolscache "k8s.io/client-go/tools/cache"
)

// entry wraps a registered instance with a process-wide unique key, since
// client-go's cache.Store needs a KeyFunc and arbitrary host values carry
// no notion of name/namespace the way Kubernetes objects do. seq records
// registration order so implicit-domain enumeration can be made
// deterministic despite cache.Store.List()'s unordered, map-backed
// iteration (spec.md §8 P1 Determinism).
type entry struct {
	id    string
	seq   int64
	value any
}

func keyFunc(obj any) (string, error) {
	e, ok := obj.(entry)
	if !ok {
		return "", fmt.Errorf("symbolgraph: unexpected cache item type %T", obj)
	}
	return e.id, nil
}

var idCounter atomic.Int64

// Graph is a process-wide type→instances registry. The zero value is not
// usable; use Default() to get the shared instance or New() for an
// isolated one (useful for tests that must not interfere with each
// other's global state).
type Graph struct {
	mu     sync.RWMutex
	stores map[reflect.Type]toolscache.Store
}

func New() *Graph {
	return &Graph{stores: make(map[reflect.Type]toolscache.Store)}
}

var defaultGraph = New()

// Default returns the process-wide SymbolGraph singleton.
func Default() *Graph { return defaultGraph }

func (g *Graph) storeFor(t reflect.Type) toolscache.Store {
	g.mu.RLock()
	s, ok := g.stores[t]
	g.mu.RUnlock()
	if ok {
		return s
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.stores[t]; ok {
		return s
	}
	s = toolscache.NewStore(keyFunc)
	g.stores[t] = s
	return s
}

// Register opts an instance into the graph under its dynamic type. Types
// are expected to call this from their constructor, mirroring the
// Symbol.__new__ opt-in hook in the original krrood.entity_query_language.
func (g *Graph) Register(instance any) {
	t := reflect.TypeOf(instance)
	seq := idCounter.Add(1)
	id := fmt.Sprintf("%d", seq)
	_ = g.storeFor(t).Add(entry{id: id, seq: seq, value: instance})
}

// Unregister removes a previously-registered instance. Host programs that
// destroy symbols explicitly (rather than relying on garbage collection
// alone) should call this to keep InstancesOf precise.
func (g *Graph) Unregister(instance any) {
	t := reflect.TypeOf(instance)
	store := g.storeFor(t)
	for _, item := range store.List() {
		e := item.(entry)
		if e.value == instance {
			_ = store.Delete(e)
			return
		}
	}
}

// InstancesOf returns a snapshot of the currently-registered instances of
// exactly the given type, ordered by registration sequence. Per I5, a
// Variable with an implicit domain calls this only at evaluation time,
// never at build time. cache.Store.List() does not promise an order, so
// the entries are sorted by seq before anything is returned — without
// this, repeated calls over the same store could surface the same
// instances in different orders.
func (g *Graph) InstancesOf(t reflect.Type) []any {
	store := g.storeFor(t)
	items := store.List()
	entries := make([]entry, len(items))
	for i, item := range items {
		entries[i] = item.(entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}

// InstancesAssignableTo returns a snapshot of every registered instance
// whose dynamic type is assignable to t, covering subtype domains (a
// Variable of a supertype sees instances registered under any of its
// registered subtypes too). Registered types are visited in a stable
// order (by reflect.Type.String()) rather than the incidental order of a
// map range, so the set of assignable types contributing rows does not
// reshuffle between calls; within each type, InstancesOf already orders
// by registration sequence.
func (g *Graph) InstancesAssignableTo(t reflect.Type) []any {
	g.mu.RLock()
	types := make([]reflect.Type, 0, len(g.stores))
	for rt := range g.stores {
		if rt.AssignableTo(t) {
			types = append(types, rt)
		}
	}
	g.mu.RUnlock()

	sort.Slice(types, func(i, j int) bool { return types[i].String() < types[j].String() })

	out := []any{}
	for _, rt := range types {
		out = append(out, g.InstancesOf(rt)...)
	}
	return out
}

// Len reports how many instances of t are currently registered.
func (g *Graph) Len(t reflect.Type) int {
	return len(g.storeFor(t).ListKeys())
}
