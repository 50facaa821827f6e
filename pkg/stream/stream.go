// Package stream provides the lazy-sequence machinery the evaluation
// engine is built from. Every node in pkg/expr produces a Seq[Result]; this
// package supplies the handful of combinators (map/filter/concat/take)
// that the rest of the engine composes, using Go 1.23 range-over-func
// iterators in place of the generator functions spec.md's design notes
// call for (§9: "Generator-driven cartesian product → explicit iterator").
package stream

// Seq is a lazy sequence of T. Producers stop as soon as yield returns
// false; this is the engine's sole cancellation mechanism (spec.md §5).
type Seq[T any] func(yield func(T) bool)

// Of builds a Seq from a fixed slice of values.
func Of[T any](vs ...T) Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range vs {
			if !yield(v) {
				return
			}
		}
	}
}

// Empty returns a Seq that yields nothing.
func Empty[T any]() Seq[T] {
	return func(yield func(T) bool) {}
}

// Map transforms every element of s with f.
func Map[T, U any](s Seq[T], f func(T) U) Seq[U] {
	return func(yield func(U) bool) {
		s(func(t T) bool {
			return yield(f(t))
		})
	}
}

// Filter keeps only elements for which pred returns true.
func Filter[T any](s Seq[T], pred func(T) bool) Seq[T] {
	return func(yield func(T) bool) {
		s(func(t T) bool {
			if pred(t) {
				return yield(t)
			}
			return true
		})
	}
}

// FlatMap expands every element of s into zero or more elements of U.
func FlatMap[T, U any](s Seq[T], f func(T) Seq[U]) Seq[U] {
	return func(yield func(U) bool) {
		cont := true
		s(func(t T) bool {
			f(t)(func(u U) bool {
				if !yield(u) {
					cont = false
					return false
				}
				return true
			})
			return cont
		})
	}
}

// Concat yields every element of each sequence in order.
func Concat[T any](seqs ...Seq[T]) Seq[T] {
	return func(yield func(T) bool) {
		for _, s := range seqs {
			cont := true
			s(func(t T) bool {
				if !yield(t) {
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

// Take stops the sequence after at most n elements.
func Take[T any](s Seq[T], n int) Seq[T] {
	return func(yield func(T) bool) {
		if n <= 0 {
			return
		}
		i := 0
		s(func(t T) bool {
			if !yield(t) {
				return false
			}
			i++
			return i < n
		})
	}
}

// Collect materialises a sequence into a slice. It should only be used by
// DerivedExpressions (ordered_by, distinct, limit's buffering cousins)
// that spec.md §4.8 explicitly allows to buffer.
func Collect[T any](s Seq[T]) []T {
	out := []T{}
	s(func(t T) bool {
		out = append(out, t)
		return true
	})
	return out
}

// First returns the first element of s, if any.
func First[T any](s Seq[T]) (T, bool) {
	var zero T
	found := false
	var result T
	s(func(t T) bool {
		result = t
		found = true
		return false
	})
	if found {
		return result, true
	}
	return zero, false
}
