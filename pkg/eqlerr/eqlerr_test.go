package eqlerr

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestEqlerr(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Eqlerr Suite")
}

var _ = Describe("Error", func() {
	It("formats with and without a path", func() {
		withPath := NewSymbolicResolutionError("root.attr", errors.New("no such field"))
		Expect(withPath.Error()).To(ContainSubstring("root.attr"))

		noPath := NewNoSolutionFoundError("")
		Expect(noPath.Error()).NotTo(ContainSubstring(" at "))
	})

	It("unwraps to the original cause", func() {
		cause := errors.New("underlying")
		err := NewUserCallableError("p", cause)
		Expect(errors.Unwrap(err)).To(Equal(cause))
	})

	It("Is compares by Kind, independent of path or cause", func() {
		a := NewNoSolutionFoundError("a")
		b := NewNoSolutionFoundError("b")
		c := NewMoreThanOneSolutionFoundError("a")
		Expect(errors.Is(a, b)).To(BeTrue())
		Expect(errors.Is(a, c)).To(BeFalse())
	})

	It("KindOf extracts the Kind of a wrapped Error", func() {
		err := NewQueryStructureFrozenError("root")
		kind, ok := KindOf(err)
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(KindQueryStructureFrozen))
	})

	It("KindOf reports false for a plain error", func() {
		_, ok := KindOf(errors.New("plain"))
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("DomainExhausted", func() {
	It("is recognised by IsDomainExhausted but carries no surfaced Kind semantics beyond it", func() {
		Expect(IsDomainExhausted(DomainExhausted())).To(BeTrue())
		Expect(IsDomainExhausted(errors.New("other"))).To(BeFalse())
	})
})
