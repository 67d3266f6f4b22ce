package predicate

import (
	"testing"

	"github.com/shardline/eventcore/value"
)

func row(fields map[string]value.Value) func(string) value.Value {
	return func(f string) value.Value {
		if v, ok := fields[f]; ok {
			return v
		}
		return value.Nil()
	}
}

func TestClauseMatchesOps(t *testing.T) {
	cases := []struct {
		op   Op
		a, b int64
		want bool
	}{
		{Eq, 5, 5, true},
		{Eq, 5, 6, false},
		{Neq, 5, 6, true},
		{Lt, 5, 6, true},
		{Lte, 5, 5, true},
		{Gt, 6, 5, true},
		{Gte, 5, 5, true},
	}
	for _, c := range cases {
		clause := Clause{Field: "n", Op: c.op, Value: value.NewI64(c.b)}
		if got := clause.Matches(value.NewI64(c.a)); got != c.want {
			t.Errorf("%v(%d,%d) = %v, want %v", c.op, c.a, c.b, got, c.want)
		}
	}
}

func TestClauseMatchesIn(t *testing.T) {
	clause := Clause{Field: "n", Op: In, Values: []value.Value{value.NewI64(1), value.NewI64(2)}}
	if !clause.Matches(value.NewI64(2)) {
		t.Fatal("expected 2 to match IN [1,2]")
	}
	if clause.Matches(value.NewI64(3)) {
		t.Fatal("expected 3 not to match IN [1,2]")
	}
}

func TestAndWithNoChildrenIsUnconstrained(t *testing.T) {
	p := And()
	if !p.IsUnconstrained() {
		t.Fatal("expected empty And() to be unconstrained")
	}
	if !(Predicate{}).IsUnconstrained() {
		t.Fatal("expected zero-value Predicate to be unconstrained")
	}
}

func TestEvaluateAndOrNot(t *testing.T) {
	r := row(map[string]value.Value{"a": value.NewI64(1), "b": value.NewI64(2)})

	and := And(Leaf(Clause{Field: "a", Op: Eq, Value: value.NewI64(1)}), Leaf(Clause{Field: "b", Op: Eq, Value: value.NewI64(2)}))
	if !and.Evaluate(r) {
		t.Fatal("expected And of two true clauses to match")
	}

	or := Or(Leaf(Clause{Field: "a", Op: Eq, Value: value.NewI64(99)}), Leaf(Clause{Field: "b", Op: Eq, Value: value.NewI64(2)}))
	if !or.Evaluate(r) {
		t.Fatal("expected Or with one matching clause to match")
	}

	not := Not(Leaf(Clause{Field: "a", Op: Eq, Value: value.NewI64(99)}))
	if !not.Evaluate(r) {
		t.Fatal("expected Not of a false clause to match")
	}
}

func TestAllFieldsCollectsAcrossSubtrees(t *testing.T) {
	p := And(
		Leaf(Clause{Field: "a", Op: Eq, Value: value.NewI64(1)}),
		Or(Leaf(Clause{Field: "b", Op: Eq, Value: value.NewI64(2)}), Not(Leaf(Clause{Field: "c", Op: Eq, Value: value.NewI64(3)}))),
	)
	fields := p.AllFields()
	want := map[string]bool{"a": true, "b": true, "c": true}
	if len(fields) != len(want) {
		t.Fatalf("expected 3 fields, got %v", fields)
	}
	for _, f := range fields {
		if !want[f] {
			t.Fatalf("unexpected field %q", f)
		}
	}
}

func TestTopLevelClausesStopsAtOrNot(t *testing.T) {
	p := And(
		Leaf(Clause{Field: "a", Op: Eq, Value: value.NewI64(1)}),
		Or(Leaf(Clause{Field: "b", Op: Eq, Value: value.NewI64(2)})),
	)
	clauses := p.TopLevelClauses()
	if len(clauses) != 1 || clauses[0].Field != "a" {
		t.Fatalf("expected only the top-level And leaf, got %+v", clauses)
	}
}
