// Package eqlerr implements the error taxonomy of spec.md §7. Every
// surfaced error carries the expression path (the chain of node
// identities from root to failure site) for diagnostics, following the
// teacher's pkg/expression/error.go and pkg/pipeline/errors.go
// NewXError(context, err) constructor-per-kind idiom.
package eqlerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of spec.md §7's error categories.
type Kind string

const (
	KindQueryStructureFrozen    Kind = "QueryStructureFrozen"
	KindQueryStructureInvalid   Kind = "QueryStructureInvalid"
	KindSymbolicResolutionError Kind = "SymbolicResolutionError"
	KindNoSolutionFound         Kind = "NoSolutionFound"
	KindMoreThanOneSolutionFound Kind = "MoreThanOneSolutionFound"
	KindDomainExhausted         Kind = "DomainExhausted"
	KindUserCallableError       Kind = "UserCallableError"
)

// Error is the concrete error type surfaced by the engine. It wraps an
// inner cause and records the expression path from root to failure site.
type Error struct {
	Kind  Kind
	Path  string
	cause error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Path, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error of the same Kind, so
// errors.Is(err, &eqlerr.Error{Kind: eqlerr.KindX}) matches any error of
// that kind; most callers instead use errors.As to recover *Error and
// inspect Kind directly.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind Kind, path string, cause error) *Error {
	return &Error{Kind: kind, Path: path, cause: cause}
}

// NewQueryStructureFrozenError reports a mutation attempted after build().
func NewQueryStructureFrozenError(path string) *Error {
	return newErr(KindQueryStructureFrozen, path, errors.New("query structure is frozen after build"))
}

// NewQueryStructureInvalidError reports a structural error: at build time
// an aggregator in where or a query selecting nothing, and at evaluation
// time an Exactly/AtLeast/AtMost cardinality breach.
func NewQueryStructureInvalidError(path string, reason error) *Error {
	return newErr(KindQueryStructureInvalid, path, reason)
}

// NewSymbolicResolutionError reports a failed attribute/index/call
// navigation during evaluation.
func NewSymbolicResolutionError(path string, cause error) *Error {
	return newErr(KindSymbolicResolutionError, path, cause)
}

// NewNoSolutionFoundError reports a the() quantifier with zero results.
func NewNoSolutionFoundError(path string) *Error {
	return newErr(KindNoSolutionFound, path, errors.New("no solution found"))
}

// NewMoreThanOneSolutionFoundError reports a the() quantifier with more
// than one result.
func NewMoreThanOneSolutionFoundError(path string) *Error {
	return newErr(KindMoreThanOneSolutionFound, path, errors.New("more than one solution found"))
}

// NewUserCallableError reports a predicate or symbolic function that
// raised, when the raise was not absorbed by an enclosing NOT or an
// absorbing predicate.
func NewUserCallableError(path string, cause error) *Error {
	return newErr(KindUserCallableError, path, cause)
}

// domainExhausted is the internal, non-surfaced sentinel signalling normal
// stream end (spec.md §7: "not surfaced"). It exists so that internal
// plumbing can use the same error-return idiom without ever returning it
// to a caller.
var domainExhausted = newErr(KindDomainExhausted, "", errors.New("domain exhausted"))

// DomainExhausted returns the internal sentinel for normal stream end.
func DomainExhausted() error { return domainExhausted }

// IsDomainExhausted reports whether err is (or wraps) the internal
// DomainExhausted sentinel.
func IsDomainExhausted(err error) bool {
	return errors.Is(err, domainExhausted)
}

// KindOf extracts the Kind of err, if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
