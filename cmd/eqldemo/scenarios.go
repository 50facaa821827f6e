package main

import (
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/aggregate"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/combinator"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/expr"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/query"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/ruletree"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/variable"
)

// literal builds a single-element-domain Variable standing in for a
// concrete value — the demo's equivalent of a constant operand in a
// comparator or an inference kwarg.
func literal(a *expr.Arena, v any) *variable.Variable {
	return variable.NewVariable(a, reflect.TypeOf(v), []any{v})
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "s1",
		Short: "Filter robots with battery > 50",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runS1Scenario(fixtures.s1Robots())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "s2",
		Short: "Uniqueness quantifier over items keyed by serial",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runS2Scenario(fixtures.s2Items())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "s3",
		Short: "Group robots by type, keep groups with total battery > 50",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runS3Scenario(fixtures.s3Robots())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "s4",
		Short: "Flatten a robot's parts list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runS4Scenario(fixtures.s4Robot())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "s5",
		Short: "Rule-tree inference over connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runS5Scenario(fixtures.s5Connections())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "s6",
		Short: "Check ordering determinism across two evaluations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runS6Scenario(fixtures.s1Robots())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Run every scenario in sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range []func() error{
				func() error { return runS1Scenario(fixtures.s1Robots()) },
				func() error { return runS2Scenario(fixtures.s2Items()) },
				func() error { return runS3Scenario(fixtures.s3Robots()) },
				func() error { return runS4Scenario(fixtures.s4Robot()) },
				func() error { return runS5Scenario(fixtures.s5Connections()) },
				func() error { return runS6Scenario(fixtures.s1Robots()) },
			} {
				if err := f(); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

func runS1Scenario(domain []any) error {
	a := expr.NewArena()
	r := variable.NewVariable(a, reflect.TypeOf(&Robot{}), domain)
	battery := variable.NewAttribute(a, r, "Battery")
	cond := combinator.NewComparator(a, combinator.OpGt, battery, literal(a, 50))

	q := query.Entity(r).Where(cond).WithLogger(log)
	rows, err := q.ToList()
	if err != nil {
		return err
	}
	fmt.Println("S1: robots with battery > 50")
	for _, row := range rows {
		fmt.Printf("  %+v\n", row[0].(*Robot))
	}
	return nil
}

func runS2Scenario(domain []any) error {
	build := func(serial string) *query.Query {
		a := expr.NewArena()
		v := variable.NewVariable(a, reflect.TypeOf(&Item{}), domain)
		serialAttr := variable.NewAttribute(a, v, "Serial")
		cond := combinator.NewComparator(a, combinator.OpEq, serialAttr, literal(a, serial))
		return query.Entity(v).Where(cond).WithLogger(log).The()
	}

	fmt.Println("S2: the(...) over duplicate and unique serials")
	if _, _, err := build("SN001").First(); err != nil {
		fmt.Printf("  the(serial==SN001).first() -> error: %v\n", err)
	}
	row, found, err := build("SN002").First()
	if err != nil {
		return err
	}
	if found {
		fmt.Printf("  the(serial==SN002).first() -> %+v\n", row[0].(*Item))
	}
	return nil
}

func runS3Scenario(domain []any) error {
	a := expr.NewArena()
	r := variable.NewVariable(a, reflect.TypeOf(&Robot{}), domain)
	typeAttr := variable.NewAttribute(a, r, "Type")
	batteryAttr := variable.NewAttribute(a, r, "Battery")
	sumAgg := aggregate.New(a, aggregate.Sum, batteryAttr, aggregate.GroupedBy(typeAttr))
	having := combinator.NewComparator(a, combinator.OpGt, sumAgg, literal(a, 50))

	// sumAgg is deliberately not passed to Where: Query.validate() rejects
	// any Derived+Selectable node (an aggregator) inside the where clause,
	// per spec.md §4.12. Leaving where empty still drives the full grouped
	// fold, since Having's predicate references sumAgg directly and
	// Comparator.Step evaluates its operands regardless of where in the
	// arena they were attached.
	q := query.SetOf(typeAttr, sumAgg).Having(having).WithLogger(log)
	rows, err := q.ToList()
	if err != nil {
		return err
	}
	fmt.Println("S3: robot types with total battery > 50")
	for _, row := range rows {
		fmt.Printf("  %v: %v\n", row[0], row[1])
	}
	return nil
}

func runS4Scenario(domain []any) error {
	a := expr.NewArena()
	r := variable.NewVariable(a, reflect.TypeOf(&Robot{}), domain)
	nameAttr := variable.NewAttribute(a, r, "Name")
	partsAttr := variable.NewAttribute(a, r, "Parts")
	p := variable.NewFlat(a, partsAttr)
	nameEq := combinator.NewComparator(a, combinator.OpEq, nameAttr, literal(a, "R2D2"))

	q := query.Entity(p).Where(nameEq, p).WithLogger(log)
	rows, err := q.ToList()
	if err != nil {
		return err
	}
	fmt.Println("S4: R2D2's parts, flattened")
	for _, row := range rows {
		fmt.Printf("  %v\n", row[0])
	}
	return nil
}

func runS5Scenario(domain []any) error {
	a := expr.NewArena()
	c := variable.NewVariable(a, reflect.TypeOf(&Connection{}), domain)

	acc := ruletree.NewAccumulator()
	target := literal(a, acc)

	fixedCond := combinator.NewComparator(a, combinator.OpEq, variable.NewAttribute(a, c, "Type"), literal(a, 1))
	revoluteCond := combinator.NewComparator(a, combinator.OpEq, variable.NewAttribute(a, c, "Type"), literal(a, 2))
	alwaysTrue := combinator.NewAnd(a)

	fixedInf := ruletree.NewInference(a, nil, reflect.TypeOf(FixedView{}), map[string]ruletree.ValueNode{"Conn": c})
	revoluteInf := ruletree.NewInference(a, nil, reflect.TypeOf(RevoluteView{}), map[string]ruletree.ValueNode{"Conn": c})
	defaultInf := ruletree.NewInference(a, nil, reflect.TypeOf(View{}), map[string]ruletree.ValueNode{"Conn": c})

	refinement := ruletree.NewRefinement(a, fixedCond).Add(a, ruletree.NewAdd(target, fixedInf))
	alternative1 := ruletree.NewAlternative(a, revoluteCond).Add(a, ruletree.NewAdd(target, revoluteInf))
	alternative2 := ruletree.NewAlternative(a, alwaysTrue).Add(a, ruletree.NewAdd(target, defaultInf))

	q := query.Entity(c).Where(c).WithLogger(log).
		AddRule(refinement).AddRule(alternative1).AddRule(alternative2)
	if _, err := q.ToList(); err != nil {
		return err
	}

	fmt.Println("S5: rule-tree views over connections")
	for _, v := range acc.Snapshot() {
		fmt.Printf("  %#v\n", v)
	}
	return nil
}

func runS6Scenario(domain []any) error {
	build := func() *query.Query {
		a := expr.NewArena()
		r := variable.NewVariable(a, reflect.TypeOf(&Robot{}), domain)
		battery := variable.NewAttribute(a, r, "Battery")
		cond := combinator.NewComparator(a, combinator.OpGt, battery, literal(a, 50))
		return query.Entity(r).Where(cond).WithLogger(log)
	}

	first, err := build().ToList()
	if err != nil {
		return err
	}
	second, err := build().ToList()
	if err != nil {
		return err
	}

	deterministic := len(first) == len(second)
	for i := range first {
		if deterministic && fmt.Sprint(first[i]) != fmt.Sprint(second[i]) {
			deterministic = false
		}
	}
	fmt.Printf("S6: two evaluations produce identical output lists: %v\n", deterministic)
	return nil
}
